package wire

// SegmentSize is the capacity of each chunk a Buffer grows by.
const SegmentSize = 4096

// Buffer is an append-only byte sink made of fixed-size pooled segments, so a
// large payload never needs one contiguous growing allocation while it is
// being encoded.
type Buffer struct {
	pool Pool
	segs [][]byte
	size int
}

func NewBuffer(pool Pool) *Buffer {
	if pool == nil {
		pool = SharedPool()
	}
	return &Buffer{pool: pool}
}

func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if len(b.segs) == 0 || len(b.segs[len(b.segs)-1]) == cap(b.segs[len(b.segs)-1]) {
			b.segs = append(b.segs, b.pool.Get(SegmentSize)[:0])
		}
		last := &b.segs[len(b.segs)-1]
		k := copy((*last)[len(*last):cap(*last)], p)
		*last = (*last)[:len(*last)+k]
		p = p[k:]
	}
	b.size += n
	return n, nil
}

func (b *Buffer) Len() int {
	return b.size
}

// CopyTo copies the buffered bytes into dst and returns how many were copied.
func (b *Buffer) CopyTo(dst []byte) int {
	n := 0
	for _, seg := range b.segs {
		if n >= len(dst) {
			break
		}
		n += copy(dst[n:], seg)
	}
	return n
}

// Release hands every segment back to the pool. The buffer is empty and
// reusable afterwards.
func (b *Buffer) Release() {
	for i, seg := range b.segs {
		b.pool.Put(seg)
		b.segs[i] = nil
	}
	b.segs = b.segs[:0]
	b.size = 0
}
