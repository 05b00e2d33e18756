package transfer

import "sync"

// bufferPool recycles fixed-size chunk buffers so streaming a file never
// allocates more than one chunk of memory at a time, per SPEC_FULL.md
// S4.2. Grounded on LanDrop's p2p/buffer_pool.go.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

func (p *bufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

func (p *bufferPool) Put(buf []byte) {
	p.pool.Put(buf) //nolint:staticcheck // fixed-size buffers, safe to reuse as-is
}

// chunkBufferPool is shared by every Sender's chunk reads.
var chunkBufferPool = newBufferPool(ChunkSize)
