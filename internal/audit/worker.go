package audit

import "context"

// ChanSink bridges a Publisher to a Worker: Append enqueues and the Worker
// drains into the real sink.
type ChanSink chan Event

func (c ChanSink) Append(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c <- event:
		return nil
	}
}

// Worker consumes audit events from a channel and forwards them to a sink,
// keeping the apply path decoupled from sink latency.
type Worker struct {
	sink  Sink
	inbox <-chan Event
}

func NewWorker(sink Sink, inbox <-chan Event) *Worker {
	return &Worker{sink: sink, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}
