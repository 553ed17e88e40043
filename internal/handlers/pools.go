package handlers

import (
	"bytes"
	"sync"
)

// maxPooledBufferSize keeps oversized one-off buffers out of the pools so a
// single huge response does not pin memory for the life of the process.
const maxPooledBufferSize = 1 << 20

// bufferPool hands out byte buffers pre-grown to a fixed starting capacity.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(initialCap int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initialCap))
			},
		},
	}
}

func (p *bufferPool) get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBufferSize {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// requestPool serves JSON decoding; 4KB covers typical request bodies.
// responsePool serves JSON encoding; responses embedding extracted HTML run
// larger, so those buffers start at 8KB.
var (
	requestPool  = newBufferPool(4096)
	responsePool = newBufferPool(8192)
)

func getBuffer() *bytes.Buffer            { return requestPool.get() }
func putBuffer(buf *bytes.Buffer)         { requestPool.put(buf) }
func getResponseBuffer() *bytes.Buffer    { return responsePool.get() }
func putResponseBuffer(buf *bytes.Buffer) { responsePool.put(buf) }
