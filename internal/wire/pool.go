package wire

import (
	"math/bits"
	"sync"
)

// Pool hands out byte slices of an exact length and takes them back for reuse.
type Pool interface {
	Get(size int) []byte
	Put(b []byte)
}

const (
	minClassShift = 6
	maxClassShift = 24
	numClasses    = maxClassShift - minClassShift + 1
)

// BucketPool keeps one sync.Pool per power-of-two capacity class between 64 B
// and 16 MiB. Requests above the largest class are allocated directly and are
// dropped on Put.
type BucketPool struct {
	classes [numClasses]sync.Pool
}

func NewBucketPool() *BucketPool {
	return &BucketPool{}
}

var shared = NewBucketPool()

// SharedPool returns the process-wide pool used by the publisher and the
// segmented buffers.
func SharedPool() *BucketPool {
	return shared
}

func (p *BucketPool) Get(size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	idx := classIndex(size)
	if idx < 0 {
		return make([]byte, size)
	}
	if v := p.classes[idx].Get(); v != nil {
		b := *(v.(*[]byte))
		return b[:size]
	}
	return make([]byte, size, 1<<(idx+minClassShift))
}

// Put clears b before it becomes visible to the next Get.
func (p *BucketPool) Put(b []byte) {
	c := cap(b)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	shift := bits.TrailingZeros(uint(c))
	if shift < minClassShift || shift > maxClassShift {
		return
	}
	b = b[:c]
	clear(b)
	p.classes[shift-minClassShift].Put(&b)
}

func classIndex(size int) int {
	shift := bits.Len(uint(size - 1))
	if shift < minClassShift {
		shift = minClassShift
	}
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}
