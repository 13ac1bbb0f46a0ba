package loadgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/faultline/pkg/logger"
)

const randomFloatDivisor = 1000000

var errorTypes = []string{
	"KeyError", "TimeoutError", "NullReferenceException", "IndexOutOfRange",
	"PermissionDenied", "ConnectionReset", "ValueError", "DivideByZero",
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

func randomIndex(n int) int {
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// signatureOf returns the type and message of signature i. Distinct i yield
// distinct stacks.
func signatureOf(i int) ErrorInfo {
	return ErrorInfo{
		Type:    errorTypes[i%len(errorTypes)],
		Message: "loadgen failure #" + strconv.Itoa(i),
	}
}

// generateEvents creates cfg.NumEvents error events spread over
// cfg.Signatures signatures. A DuplicateRatio share reuses the reference id
// of an earlier event.
func generateEvents(ctx context.Context, cfg *Config, stats *Stats) ([]Event, error) {
	logger.Get().Info(ctx, "generating events",
		logger.Int("numEvents", cfg.NumEvents),
		logger.Int("signatures", cfg.Signatures))

	events := make([]Event, cfg.NumEvents)
	now := time.Now().UTC()
	for i := range events {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during event generation: %w", err)
		}
		sig := signatureOf(randomIndex(cfg.Signatures))
		ref := referencePrefix + uuid.NewString()
		if i > 0 && getRandomFloat() < cfg.DuplicateRatio {
			ref = events[randomIndex(i)].ReferenceID
			stats.ExpectedDuplicates++
		}
		events[i] = Event{
			ID:          uuid.NewString(),
			Type:        "error",
			Source:      "loadgen",
			Date:        now.Add(time.Duration(i) * time.Millisecond).Format(time.RFC3339Nano),
			ReferenceID: ref,
			Error:       &sig,
		}
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events successfully",
		logger.Int("count", len(events)),
		logger.Int("expectedDuplicates", stats.ExpectedDuplicates))
	return events, nil
}

// batches splits events into chunks of size n.
func batches(events []Event, n int) [][]Event {
	if n <= 0 {
		n = len(events)
	}
	out := make([][]Event, 0, (len(events)+n-1)/max(n, 1))
	for start := 0; start < len(events); start += n {
		out = append(out, events[start:min(start+n, len(events))])
	}
	return out
}
