package transport

import (
	"errors"
	"fmt"

	"github.com/pion/logging"
)

// Writer is the part of a Channel the flush queue drives.
type Writer interface {
	GetBuffer(size int) (*Buffer, error)
	Write(buf *Buffer) (WriteResult, error)
	Flush() (pending bool, err error)
	Pending() bool
	State() ChannelState
}

var _ Writer = (*Channel)(nil)

// FlushQueueConfig configures a FlushQueue.
type FlushQueueConfig struct {
	// Writer is the channel to write to. Required.
	Writer Writer

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// FlushQueue submits encoded messages to a channel and turns the
// channel's transient write outcomes into "still queued", so the caller
// only has to keep write interest while Pending is true.
type FlushQueue struct {
	w   Writer
	log logging.LeveledLogger

	submitted uint64
	retries   uint64
}

// NewFlushQueue creates a new FlushQueue.
func NewFlushQueue(config FlushQueueConfig) *FlushQueue {
	q := &FlushQueue{w: config.Writer}
	if config.LoggerFactory != nil {
		q.log = config.LoggerFactory.NewLogger("transport")
	}
	return q
}

// Submit copies payload into a pool buffer and writes it.
//
// When the pool is empty it flushes once and retries; a second empty pool
// is ErrBufferExhausted. A flush that was blocked reports WriteStillQueued
// unless the channel has closed, which is ErrFlush.
func (q *FlushQueue) Submit(payload []byte) (WriteResult, error) {
	buf, err := q.getBuffer(len(payload))
	if err != nil {
		return WriteFlushFailed, err
	}
	defer buf.Release()
	buf.Data = append(buf.Data, payload...)

	for {
		res, err := q.w.Write(buf)
		if err != nil {
			return WriteFlushFailed, fmt.Errorf("%w: %w", ErrFlush, err)
		}
		switch res {
		case WriteCallAgain:
			continue
		case WriteFlushFailed:
			if q.w.State() == StateClosed {
				return WriteFlushFailed, fmt.Errorf("%w: channel closed", ErrFlush)
			}
			res = WriteStillQueued
		}
		q.submitted++
		if q.log != nil && res == WriteStillQueued {
			q.log.Tracef("%d bytes still queued", len(payload))
		}
		return res, nil
	}
}

func (q *FlushQueue) getBuffer(size int) (*Buffer, error) {
	buf, err := q.w.GetBuffer(size)
	if err == nil {
		return buf, nil
	}
	if !errors.Is(err, ErrNoBuffers) {
		return nil, fmt.Errorf("%w: %w", ErrFlush, err)
	}

	q.retries++
	if q.log != nil {
		q.log.Debug("output buffers exhausted, flushing before retry")
	}
	if _, err := q.w.Flush(); err != nil {
		return nil, wrapFlush(err)
	}
	buf, err = q.w.GetBuffer(size)
	if errors.Is(err, ErrNoBuffers) {
		return nil, ErrBufferExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFlush, err)
	}
	return buf, nil
}

// OnWritable retries the flush after the poller reported write readiness.
func (q *FlushQueue) OnWritable() error {
	if _, err := q.w.Flush(); err != nil {
		return wrapFlush(err)
	}
	return nil
}

// Pending reports whether bytes are still queued.
func (q *FlushQueue) Pending() bool {
	return q.w.Pending()
}

// Submitted returns the number of messages accepted by Submit.
func (q *FlushQueue) Submitted() uint64 {
	return q.submitted
}

// BufferRetries returns how often Submit had to flush to free a buffer.
func (q *FlushQueue) BufferRetries() uint64 {
	return q.retries
}

func wrapFlush(err error) error {
	if errors.Is(err, ErrFlush) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFlush, err)
}
