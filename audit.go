package authcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher fans engine events out to the configured sink from a
// single background goroutine so request paths never block on sink latency.
type auditDispatcher struct {
	sink       AuditSink
	events     chan AuditEvent
	dropIfFull bool
	dropped    atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	finished  chan struct{}
}

func newAuditDispatcher(sink AuditSink, cfg AuditConfig) *auditDispatcher {
	if sink == nil || !cfg.Enabled {
		return nil
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}

	d := &auditDispatcher{
		sink:       sink,
		events:     make(chan AuditEvent, buffer),
		dropIfFull: cfg.DropIfFull,
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.finished)
	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case event := <-d.events:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// emit queues an event. A nil dispatcher is a no-op so call sites never need
// to branch on whether auditing is enabled.
func (d *auditDispatcher) emit(event AuditEvent) {
	if d == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.events <- event:
	case <-d.done:
		d.dropped.Add(1)
	}
}

// droppedCount reports how many events were discarded due to backpressure.
func (d *auditDispatcher) droppedCount() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// close stops the dispatcher after draining buffered events.
func (d *auditDispatcher) close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.done)
	})
	<-d.finished
}
