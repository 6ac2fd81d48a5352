// Package fixedbuf provides a bounded byte sink backed by caller owned
// memory. None of its methods allocate, take locks or grow the stack, so a
// Writer prepared before clone can be used by the child until execve.
package fixedbuf

import "errors"

// ErrFull is returned when a write does not fit into the remaining capacity.
// The buffer content and position are left untouched.
var ErrFull = errors.New("fixedbuf: write exceeds buffer capacity")

// Writer writes into a fixed slice and never reallocates it.
type Writer struct {
	buf []byte
	pos int
}

// New creates a Writer over buf. Capacity is len(buf).
func New(buf []byte) Writer {
	return Writer{buf: buf}
}

// Write implements io.Writer. It either writes all of p or nothing.
//
//go:nosplit
//go:norace
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) > len(w.buf)-w.pos {
		return 0, ErrFull
	}
	w.pos += copy(w.buf[w.pos:], p)
	return len(p), nil
}

// WriteString is Write for strings without the []byte conversion.
//
//go:nosplit
//go:norace
func (w *Writer) WriteString(s string) (int, error) {
	if len(s) > len(w.buf)-w.pos {
		return 0, ErrFull
	}
	w.pos += copy(w.buf[w.pos:], s)
	return len(s), nil
}

// WriteByte appends c.
//
//go:nosplit
//go:norace
func (w *Writer) WriteByte(c byte) error {
	if w.pos >= len(w.buf) {
		return ErrFull
	}
	w.buf[w.pos] = c
	w.pos++
	return nil
}

// WriteUint appends the decimal form of v.
//
//go:nosplit
//go:norace
func (w *Writer) WriteUint(v uint64) error {
	// 20 digits hold the largest uint64
	var digits [20]byte
	i := len(digits)
	for {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	_, err := w.Write(digits[i:])
	return err
}

// Bytes returns the written part of the buffer. It aliases the buffer.
//
//go:nosplit
func (w *Writer) Bytes() []byte {
	return w.buf[:w.pos]
}

// Len returns the number of bytes written.
//
//go:nosplit
func (w *Writer) Len() int {
	return w.pos
}

// Cap returns the total capacity.
func (w *Writer) Cap() int {
	return len(w.buf)
}

// Reset discards the content but keeps the buffer.
//
//go:nosplit
//go:norace
func (w *Writer) Reset() {
	w.pos = 0
}
