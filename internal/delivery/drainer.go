package delivery

import (
	"context"
	"time"
)

// Client receives drained event batches. Delivery is at-most-once per poll
// cycle: a failing client call is logged and the batch is not requeued.
type Client interface {
	Deliver(events []Event) error
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(events []Event) error

// Deliver implements Client.
func (f ClientFunc) Deliver(events []Event) error { return f(events) }

// Drainer polls the buffer on a fixed period and forwards batches to the
// downstream client.
type Drainer struct {
	buffer   *Buffer
	client   Client
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDrainer creates a drainer for the buffer.
func NewDrainer(buf *Buffer, client Client, interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Drainer{
		buffer:   buf,
		client:   client,
		interval: interval,
	}
}

// Start launches the poll loop.
func (d *Drainer) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Final drain so a clean shutdown does not strand entries.
				d.poll()
				return
			case <-ticker.C:
				d.poll()
			}
		}
	}()
}

// Stop ends the loop on its next iteration boundary and waits for it.
func (d *Drainer) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
}

func (d *Drainer) poll() {
	events := d.buffer.Drain()
	if len(events) == 0 {
		return
	}
	if err := d.client.Deliver(events); err != nil {
		// At-most-once: the batch is gone either way.
		log.Error("downstream delivery failed", "error", err, "events", len(events))
	}
}
