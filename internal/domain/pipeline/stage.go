package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// EventProcessor is the per-event hook.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, ec *EventContext) error
}

// BatchProcessor is the per-batch hook. It receives the contexts still
// active when its priority tier starts.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, contexts []*EventContext) error
}

// PostBatchProcessor runs after every stage has finished. It receives the
// whole batch, including cancelled and errored contexts, so it can undo or
// commit state.
type PostBatchProcessor interface {
	PostProcessBatch(ctx context.Context, contexts []*EventContext) error
}

// Registration places a stage in the run order. Lower priorities run first;
// equal priorities keep registration order.
type Registration struct {
	Name     string
	Priority int
	Stage    any
}

func (r Registration) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: unnamed stage", ErrInvalidStage)
	}
	_, ev := r.Stage.(EventProcessor)
	_, b := r.Stage.(BatchProcessor)
	_, pb := r.Stage.(PostBatchProcessor)
	if !ev && !b && !pb {
		return fmt.Errorf("%w: %s implements no hook", ErrInvalidStage, r.Name)
	}
	return nil
}

func sortRegistrations(regs []Registration) []Registration {
	out := append([]Registration(nil), regs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
