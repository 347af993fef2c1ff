package progress

import (
	"context"
	"fmt"
	"time"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals the pages reported by a crawl run.
func ExampleHub_Emit() {
	pages := 0
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second},
		sinkFunc(func(_ context.Context, batch []Event) error {
			for _, evt := range batch {
				if evt.Stage == StagePageDone {
					pages++
				}
			}
			return nil
		}))

	for page := 1; page <= 2; page++ {
		hub.Emit(Event{JobID: "manual_vsb_1", TS: time.Unix(0, 0), Stage: StagePageDone, Page: page})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages reported: %d\n", pages)
	// Output:
	// pages reported: 2
}
