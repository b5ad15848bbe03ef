package protocol

import (
	"errors"
	"io"
)

const (
	// initialBufferSize is the starting capacity of the read buffer
	initialBufferSize = 4096

	// maxEmptyReads bounds consecutive zero-byte reads without an error
	maxEmptyReads = 100
)

// Reader is a streaming RESP reader over an io.Reader. It keeps one growing
// buffer, feeds the undecoded tail plus new bytes to a Decoder, and compacts
// the buffer between values.
//
// Decoded values own their bytes: they stay valid after the next ReadNext.
type Reader struct {
	rd   io.Reader
	dec  *Decoder
	view Buffer

	buf   []byte
	start int // first undecoded byte
	end   int // end of buffered data
}

// NewReader creates a new streaming RESP reader with DefaultConfig
func NewReader(r io.Reader) *Reader {
	return NewReaderConfig(r, DefaultConfig())
}

// NewReaderConfig creates a streaming RESP reader for cfg
func NewReaderConfig(r io.Reader, cfg Config) *Reader {
	cfg.OwnedPayloads = true
	return &Reader{
		rd:  r,
		dec: NewDecoder(cfg),
		buf: make([]byte, initialBufferSize),
	}
}

// ReadNext reads the next RESP value from the stream. A stream that ends
// between values returns io.EOF; one that ends inside a value returns
// io.ErrUnexpectedEOF.
func (r *Reader) ReadNext() (Value, error) {
	for {
		if r.end > r.start {
			r.view.Reset(r.buf[r.start:r.end])
			v, err := r.dec.DecodeNext(&r.view)
			if err == nil {
				r.start += r.view.Consumed()
				if r.start == r.end {
					r.start, r.end = 0, 0
				}
				return v, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return Value{}, err
			}
		}

		if err := r.fill(); err != nil {
			if err == io.EOF && (r.end > r.start || r.dec.Pending()) {
				return Value{}, io.ErrUnexpectedEOF
			}
			return Value{}, err
		}
	}
}

// fill reads at least one more byte into the buffer
func (r *Reader) fill() error {
	if r.end == len(r.buf) {
		r.makeRoom()
	}

	for i := 0; i < maxEmptyReads; i++ {
		n, err := r.rd.Read(r.buf[r.end:])
		r.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return io.ErrNoProgress
}

// makeRoom compacts the undecoded tail to the front of the buffer, or grows
// the buffer when the tail already fills it
func (r *Reader) makeRoom() {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:r.end])
		r.start, r.end = 0, n
		if r.end < len(r.buf) {
			return
		}
	}
	grown := make([]byte, 2*len(r.buf))
	copy(grown, r.buf[:r.end])
	r.buf = grown
}

// Buffered returns the number of bytes read from the stream but not yet
// decoded
func (r *Reader) Buffered() int {
	return r.end - r.start
}

// SetProtocol switches the protocol generation for subsequent values
func (r *Reader) SetProtocol(v Version) {
	cfg := r.dec.Config()
	cfg.Protocol = v
	r.dec = NewDecoder(cfg)
}

// Protocol returns the active protocol generation
func (r *Reader) Protocol() Version {
	return r.dec.Config().Protocol
}

// Reset discards buffered data and decoder state and reads from rd
func (r *Reader) Reset(rd io.Reader) {
	r.rd = rd
	r.start, r.end = 0, 0
	r.dec.Reset()
}
