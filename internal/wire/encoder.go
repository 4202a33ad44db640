package wire

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidUTF8 = errors.New("string field is not valid utf-8")

// Record is implemented by every message published on the bus.
type Record interface {
	MarshalWire(w *Writer) error
}

// Encoder appends protobuf wire-format fields to an in-memory slice. Zero
// scalars are omitted the same way proto3 omits them. The first error sticks.
type Encoder struct {
	buf []byte
	err error
}

var encoderPool = sync.Pool{New: func() any { return &Encoder{buf: make([]byte, 0, 256)} }}

func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.err = nil
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) String(num protowire.Number, v string) {
	if e.err != nil || v == "" {
		return
	}
	if !utf8.ValidString(v) {
		e.err = fmt.Errorf("field %d: %w", num, ErrInvalidUTF8)
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

func (e *Encoder) Int64(num protowire.Number, v int64) {
	if e.err != nil || v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, uint64(v))
}

func (e *Encoder) Uint32(num protowire.Number, v uint32) {
	if e.err != nil || v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, uint64(v))
}

func (e *Encoder) Double(num protowire.Number, v float64) {
	if e.err != nil || v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
}

// Timestamp writes t as a nested {seconds, nanos} message. A zero time is
// omitted.
func (e *Encoder) Timestamp(num protowire.Number, t time.Time) {
	if e.err != nil || t.IsZero() {
		return
	}
	t = t.UTC()
	e.Message(num, func(m *Encoder) {
		m.Int64(1, t.Unix())
		m.Int64(2, int64(t.Nanosecond()))
	})
}

// Message writes a length-delimited nested message built by fn.
func (e *Encoder) Message(num protowire.Number, fn func(m *Encoder)) {
	if e.err != nil {
		return
	}
	child := encoderPool.Get().(*Encoder)
	child.Reset()
	defer encoderPool.Put(child)

	fn(child)
	if child.err != nil {
		e.err = child.err
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, child.buf)
}

// Writer streams top-level fields into a segmented Buffer one field at a time.
type Writer struct {
	buf *Buffer
	enc Encoder
}

func NewWriter(buf *Buffer) *Writer {
	return &Writer{buf: buf}
}

// Field encodes one or more top-level fields with fn and flushes them.
func (w *Writer) Field(fn func(e *Encoder)) error {
	w.enc.Reset()
	fn(&w.enc)
	if err := w.enc.Err(); err != nil {
		return err
	}
	_, err := w.buf.Write(w.enc.Bytes())
	return err
}

// Write appends already-encoded bytes, for payloads serialized elsewhere.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Marshal encodes r into a freshly allocated slice. The publisher does not use
// it; it serves tests and callers outside the hot path.
func Marshal(r Record) ([]byte, error) {
	buf := NewBuffer(nil)
	defer buf.Release()
	if err := r.MarshalWire(NewWriter(buf)); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	buf.CopyTo(out)
	return out, nil
}
