package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/faultline/pkg/logger"
)

// Verification failures.
var (
	ErrNothingAccepted   = errors.New("no events accepted")
	ErrDuplicateAccepted = errors.New("reference id accepted more than once")
	ErrStackMismatch     = errors.New("stack assignment mismatch")
)

type storedEvent struct {
	ID          string `json:"id"`
	StackID     string `json:"stack_id"`
	ReferenceID string `json:"reference_id"`
}

// verifyResults checks that every reference id was accepted at most once and
// that events of one signature share exactly one stack.
func verifyResults(ctx context.Context, cfg *Config, events []Event, outcomes []Outcome, stats *Stats) error {
	logger.Get().Info(ctx, "verifying results", logger.Int("outcomes", len(outcomes)))

	byID := make(map[string]Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	acceptedRefs := make(map[string]string)
	stackOfSignature := make(map[string]string)
	stacks := make(map[string]struct{})
	for _, o := range outcomes {
		if o.Status != "accepted" {
			continue
		}
		e, ok := byID[o.ID]
		if !ok {
			continue
		}
		if prev, dup := acceptedRefs[e.ReferenceID]; dup {
			return fmt.Errorf("%w: %s (events %s and %s)", ErrDuplicateAccepted, e.ReferenceID, prev, o.ID)
		}
		acceptedRefs[e.ReferenceID] = o.ID

		sig := e.Error.Type + "\x00" + e.Error.Message
		if want, seen := stackOfSignature[sig]; seen && want != o.StackID {
			return fmt.Errorf("%w: signature %q split over %s and %s", ErrStackMismatch, e.Error.Message, want, o.StackID)
		}
		stackOfSignature[sig] = o.StackID
		stacks[o.StackID] = struct{}{}
	}
	if len(acceptedRefs) == 0 {
		return ErrNothingAccepted
	}
	if len(stacks) != len(stackOfSignature) {
		return fmt.Errorf("%w: %d stacks for %d signatures", ErrStackMismatch, len(stacks), len(stackOfSignature))
	}
	stats.StacksSeen = len(stacks)

	if err := verifyStored(ctx, cfg, acceptedRefs); err != nil {
		return err
	}
	logger.Get().Info(ctx, "result verification completed",
		logger.Int("acceptedReferences", len(acceptedRefs)),
		logger.Int("stacks", len(stacks)))
	return nil
}

// verifyStored reads back one accepted event per stack.
func verifyStored(ctx context.Context, cfg *Config, acceptedRefs map[string]string) error {
	client := newHTTPClient(cfg)
	checked := 0
	for _, id := range acceptedRefs {
		if checked == cfg.Signatures {
			break
		}
		var stored storedEvent
		status, err := client.Get(ctx, "/api/v2/events/"+id, &stored)
		if err != nil {
			return fmt.Errorf("read back event %s: %w", id, err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("read back event %s: status %d", id, status)
		}
		if stored.StackID == "" {
			return fmt.Errorf("%w: stored event %s has no stack", ErrStackMismatch, id)
		}
		checked++
	}
	return nil
}
