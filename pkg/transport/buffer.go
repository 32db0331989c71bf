package transport

// bufferState tracks who owns a Buffer.
type bufferState uint8

const (
	// bufferHeld means the caller owns the buffer.
	bufferHeld bufferState = iota
	// bufferQueued means the channel owns it until its bytes are written.
	bufferQueued
	// bufferReleased means it is back in the pool.
	bufferReleased
)

// Buffer is an output buffer taken from a channel's pool.
//
// Fill Data, then pass the buffer to Write. Release is idempotent and may
// always be deferred: once Write has queued the buffer the channel owns it
// and Release does nothing.
type Buffer struct {
	// Data holds the encoded message.
	Data []byte

	pool  *bufferPool
	state bufferState

	// sent is the number of Data bytes already fragmented into frames.
	sent int
}

// Release returns the buffer to the pool unless the channel still owns it.
func (b *Buffer) Release() {
	if b == nil || b.state != bufferHeld {
		return
	}
	b.pool.put(b)
}

// bufferPool bounds the number of buffers that are held by callers or
// waiting to be written.
type bufferPool struct {
	max         int
	outstanding map[*Buffer]struct{}
	free        [][]byte
}

func newBufferPool(max int) *bufferPool {
	return &bufferPool{
		max:         max,
		outstanding: make(map[*Buffer]struct{}),
	}
}

func (p *bufferPool) get(size int) (*Buffer, error) {
	if len(p.outstanding) >= p.max {
		return nil, ErrNoBuffers
	}
	var data []byte
	if n := len(p.free); n > 0 && cap(p.free[n-1]) >= size {
		data = p.free[n-1][:0]
		p.free = p.free[:n-1]
	} else {
		data = make([]byte, 0, size)
	}
	b := &Buffer{Data: data, pool: p}
	p.outstanding[b] = struct{}{}
	return b, nil
}

func (p *bufferPool) put(b *Buffer) {
	if b.state == bufferReleased {
		return
	}
	b.state = bufferReleased
	delete(p.outstanding, b)
	if len(p.free) < p.max && b.Data != nil {
		p.free = append(p.free, b.Data[:0])
	}
	b.Data = nil
}

// releaseAll returns every outstanding buffer, whoever owns it.
func (p *bufferPool) releaseAll() int {
	n := len(p.outstanding)
	for b := range p.outstanding {
		b.state = bufferReleased
		b.Data = nil
	}
	clear(p.outstanding)
	p.free = nil
	return n
}

func (p *bufferPool) inUse() int {
	return len(p.outstanding)
}
