package navigation_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/navigation"
	"github.com/okian/faultline/internal/domain/pipeline"
)

// TestProperty_NeighborsFollowDateThenID checks that walking previous and
// next matches the (date, id) order of the stack, with many colliding dates.
func TestProperty_NeighborsFollowDateThenID(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("previous and next match the sorted order", prop.ForAll(
		func(offsets []int) bool {
			ctx := context.Background()
			store := repository.NewMemoryEventStore(ctx)
			defer store.Close()
			nav := navigation.NewNavigator(store, pipeline.DefaultSettings())

			events := make([]*model.Event, len(offsets))
			for i, off := range offsets {
				events[i] = &model.Event{
					ID:      fmt.Sprintf("e%02d", i),
					StackID: "s1",
					Date:    base.Add(time.Duration(off) * time.Second),
				}
			}
			if err := store.Add(ctx, events...); err != nil {
				return false
			}

			sorted := append([]*model.Event(nil), events...)
			sort.Slice(sorted, func(i, j int) bool {
				if !sorted[i].Date.Equal(sorted[j].Date) {
					return sorted[i].Date.Before(sorted[j].Date)
				}
				return sorted[i].ID < sorted[j].ID
			})

			for i, e := range sorted {
				wantPrev, wantNext := "", ""
				if i > 0 {
					wantPrev = sorted[i-1].ID
				}
				if i < len(sorted)-1 {
					wantNext = sorted[i+1].ID
				}
				prev, err := nav.PreviousEventID(ctx, e.ID)
				if err != nil || prev != wantPrev {
					return false
				}
				next, err := nav.NextEventID(ctx, e.ID)
				if err != nil || next != wantNext {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
