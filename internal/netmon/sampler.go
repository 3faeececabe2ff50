package netmon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"collabsync/internal/models"
)

// DefaultStabilityCutoff marks a probe as unstable once it takes longer than
// this, even if it eventually succeeds.
const DefaultStabilityCutoff = time.Second

// Sampler issues lightweight network probes and returns a quality estimate.
type Sampler interface {
	Probe(ctx context.Context) models.QualityReport
}

// HTTPSampler probes a single URL, measuring first-byte latency and a rough
// throughput estimate from the body. Repeated hard failures trip a breaker so
// a dead link is not hammered every tick.
type HTTPSampler struct {
	url     string
	cutoff  time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPSampler configures a sampler for the given probe URL.
func NewHTTPSampler(url string, timeout, cutoff time.Duration) *HTTPSampler {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if cutoff <= 0 {
		cutoff = DefaultStabilityCutoff
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "quality-probe",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &HTTPSampler{
		url:     url,
		cutoff:  cutoff,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Probe runs one bounded probe. It never returns an error: failures, timeouts
// and an open breaker all degrade to the unstable reading.
func (s *HTTPSampler) Probe(ctx context.Context) models.QualityReport {
	out, err := s.breaker.Execute(func() (any, error) {
		return s.probe(ctx)
	})
	if err != nil {
		return models.QualityReport{IsStable: false}
	}
	return out.(models.QualityReport)
}

func (s *HTTPSampler) probe(ctx context.Context) (models.QualityReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return models.QualityReport{}, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return models.QualityReport{}, err
	}
	defer resp.Body.Close()

	latency := time.Since(started)
	bytes, _ := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(started)

	report := models.QualityReport{LatencyMs: latency.Milliseconds()}
	if bytes > 0 && elapsed > 0 {
		report.DownloadMbpsEstimate = float64(bytes*8) / 1e6 / elapsed.Seconds()
	}
	if resp.StatusCode >= 400 {
		return report, fmt.Errorf("probe status %d", resp.StatusCode)
	}

	report.IsStable = elapsed <= s.cutoff
	return report, nil
}
