package progress

import (
	"context"
	"fmt"
	"time"
)

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	var failures []string
	sink := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageFailed {
				failures = append(failures, evt.Note)
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{JobID: "job-1", Worker: "youtube", Stage: StageFailed, TS: time.Unix(0, 0), Note: "timeout"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println(failures)
	// Output:
	// [timeout]
}
