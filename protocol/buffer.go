package protocol

// Buffer is a read-only window over caller-owned bytes with a consumed-length
// cursor. It never copies or allocates.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns a Buffer positioned at the start of b
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Remaining returns the unconsumed bytes
func (b *Buffer) Remaining() []byte {
	return b.data[b.off:]
}

// Len returns the number of unconsumed bytes
func (b *Buffer) Len() int {
	return len(b.data) - b.off
}

// Consumed returns how many bytes the cursor has moved past
func (b *Buffer) Consumed() int {
	return b.off
}

// Advance moves the cursor forward by n bytes
func (b *Buffer) Advance(n int) error {
	if n < 0 || n > b.Len() {
		return ErrOutOfBounds
	}
	b.off += n
	return nil
}

// Reset points the buffer at new data with the cursor at zero
func (b *Buffer) Reset(data []byte) {
	b.data = data
	b.off = 0
}
