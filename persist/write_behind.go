package persist

import (
	"context"
	"sync"
	"time"

	"github.com/zenghr0820/sipcore/logger"
)

// Sink stores records. Implementations may be slow; they run on the
// write-behind goroutine only.
type Sink interface {
	Save(ctx context.Context, rec Record) error
}

// WriteBehind queues records and hands them to a Sink in the background.
// When the queue is full the record is dropped and logged.
type WriteBehind struct {
	sink    Sink
	queue   chan Record
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewWriteBehind(sink Sink, size int, timeout time.Duration) *WriteBehind {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	wb := &WriteBehind{
		sink:    sink,
		queue:   make(chan Record, size),
		timeout: timeout,
		cancel:  cancel,
	}

	wb.wg.Add(1)
	go wb.serve(ctx)

	return wb
}

func (wb *WriteBehind) Record(rec Record) {
	select {
	case wb.queue <- rec:
	default:
		logger.Warnf("[persist] -> queue full, dropping %s record %s", rec.Entity, rec.ID)
	}
}

func (wb *WriteBehind) serve(ctx context.Context) {
	defer wb.wg.Done()

	for {
		select {
		case <-ctx.Done():
			wb.drain()
			return
		case rec := <-wb.queue:
			wb.save(rec)
		}
	}
}

// drain flushes whatever is still queued at shutdown.
func (wb *WriteBehind) drain() {
	for {
		select {
		case rec := <-wb.queue:
			wb.save(rec)
		default:
			return
		}
	}
}

func (wb *WriteBehind) save(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), wb.timeout)
	defer cancel()

	if err := wb.sink.Save(ctx, rec); err != nil {
		logger.Errorf("[persist] -> save %s record %s failed: %s", rec.Entity, rec.ID, err)
	}
}

// Close stops the background goroutine after flushing the queue.
func (wb *WriteBehind) Close() {
	wb.once.Do(func() {
		wb.cancel()
		wb.wg.Wait()
	})
}
