package protocol

import (
	"bufio"
	"io"
)

// Writer provides efficient writing of RESP protocol messages
type Writer struct {
	bw      *bufio.Writer
	enc     *Encoder
	sink    writerSink
	scratch []byte
}

// writerSink adapts the buffered writer to the Sink interface
type writerSink struct {
	bw *bufio.Writer
}

func (s writerSink) Write(p []byte) (int, error) { return s.bw.Write(p) }
func (s writerSink) Available() int              { return -1 }

// NewWriter creates a new RESP protocol writer with DefaultConfig
func NewWriter(w io.Writer) *Writer {
	return NewWriterConfig(w, DefaultConfig())
}

// NewWriterConfig creates a RESP protocol writer for cfg
func NewWriterConfig(w io.Writer, cfg Config) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{
		bw:   bw,
		enc:  NewEncoder(cfg),
		sink: writerSink{bw: bw},
	}
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	return w.enc.Encode(v, w.sink)
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteValue(SimpleString(s))
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.WriteValue(ErrorReply(msg))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.WriteValue(Int(n))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	return w.WriteValue(Bulk(data))
}

// WriteBulkStringFromString writes a bulk string from a string
func (w *Writer) WriteBulkStringFromString(s string) error {
	return w.WriteValue(BulkString(s))
}

// WriteNull writes the null of the active protocol generation
func (w *Writer) WriteNull() error {
	return w.WriteValue(Null())
}

// WriteNullBulkString writes a null bulk string ("_" under RESP3)
func (w *Writer) WriteNullBulkString() error {
	return w.WriteValue(NullBulk())
}

// WriteNullArray writes a null array ("_" under RESP3)
func (w *Writer) WriteNullArray() error {
	return w.WriteValue(NullArray())
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	return w.WriteValue(Array(values...))
}

// WriteCommand writes a Redis command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	parts := make([][]byte, 0, 1+len(args))
	parts = append(parts, []byte(cmd))
	for _, arg := range args {
		parts = append(parts, []byte(arg))
	}
	w.scratch = AppendCommand(w.scratch[:0], parts...)
	return w.WriteRaw(w.scratch)
}

// WriteRaw writes pre-encoded bytes unchanged
func (w *Writer) WriteRaw(b []byte) error {
	_, err := w.bw.Write(b)
	return err
}

// WriteOK writes a simple "OK" response
func (w *Writer) WriteOK() error {
	return w.WriteSimpleString("OK")
}

// WritePONG writes a simple "PONG" response
func (w *Writer) WritePONG() error {
	return w.WriteSimpleString("PONG")
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// SetProtocol switches the protocol generation for subsequent values
func (w *Writer) SetProtocol(v Version) {
	cfg := w.enc.Config()
	cfg.Protocol = v
	w.enc = NewEncoder(cfg)
}

// Protocol returns the active protocol generation
func (w *Writer) Protocol() Version {
	return w.enc.Config().Protocol
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}
