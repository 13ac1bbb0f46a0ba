package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/faultline/pkg/logger"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
	cfg    *Config
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(cfg *Config) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Get performs a GET request and decodes a JSON body into out when non-nil.
func (c *HTTPClient) Get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// Post sends body as JSON with the intake headers and decodes the response.
func (c *HTTPClient) Post(ctx context.Context, path string, body, out any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-Id", c.cfg.ProjectID)
	req.Header.Set("X-Organization-Id", c.cfg.OrganizationID)
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) (int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// submitEvents posts batches concurrently and returns every outcome.
func submitEvents(ctx context.Context, cfg *Config, events []Event, stats *Stats) ([]Outcome, error) {
	chunks := batches(events, cfg.BatchSize)
	logger.Get().Info(ctx, "submitting events",
		logger.Int("batches", len(chunks)),
		logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg)
	var (
		mu       sync.Mutex
		outcomes []Outcome
		wg       sync.WaitGroup
	)
	batchChan := make(chan []Event, cfg.Workers*WorkerChannelMultiplier)

	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchChan {
				var res Result
				status, err := client.Post(ctx, "/api/v2/events", batch, &res)

				mu.Lock()
				stats.BatchesSubmitted++
				if err != nil || status != http.StatusAccepted {
					stats.BatchesFailed++
					mu.Unlock()
					logger.Get().Warn(ctx, "batch rejected", logger.Int("status", status), logger.Error(err))
					continue
				}
				stats.EventsAccepted += res.Accepted
				stats.EventsDiscarded += res.Discarded
				stats.EventsErrored += res.Errored
				outcomes = append(outcomes, res.Outcomes...)
				mu.Unlock()

				if cfg.Verbose {
					logger.Get().Debug(ctx, "batch processed",
						logger.Int("accepted", res.Accepted),
						logger.Int("discarded", res.Discarded))
				}
			}
		}()
	}

	start := time.Now()
	go func() {
		defer close(batchChan)
		for _, b := range chunks {
			select {
			case <-ctx.Done():
				return
			case batchChan <- b:
			}
		}
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("submission interrupted: %w", err)
	}
	logger.Get().Info(ctx, "event submission completed",
		logger.Int("accepted", stats.EventsAccepted),
		logger.Int("discarded", stats.EventsDiscarded),
		logger.Int("errored", stats.EventsErrored),
		logger.Int("failedBatches", stats.BatchesFailed),
		logger.Duration("elapsed", time.Since(start)))
	return outcomes, nil
}
