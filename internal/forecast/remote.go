package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// StatusError is returned when the inference service answers with a
// non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("inference service returned status %d: %s", e.StatusCode, e.Body)
}

// RemoteOptions tunes the RemoteSource client.
type RemoteOptions struct {
	Timeout         time.Duration
	RequestsPerSec  int
	MaxRetries      int
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// RemoteSource talks to a host-provided inference service that serves the
// trained model over HTTP:
//
//	GET  /health  -> 200 when the model is loaded
//	POST /predict {"instances":[{...}]} -> {"predictions":[x], "model":"..."}
type RemoteSource struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	opts       RemoteOptions
}

// NewRemoteSource creates a client for the inference service at baseURL.
func NewRemoteSource(baseURL string, opts RemoteOptions) *RemoteSource {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxElapsedTime == 0 {
		opts.MaxElapsedTime = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RemoteSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second/time.Duration(opts.RequestsPerSec)), opts.RequestsPerSec),
		breaker:    cb,
		opts:       opts,
	}
}

// Open implements Source. The service counts as available when its health
// endpoint answers 200.
func (s *RemoteSource) Open(ctx context.Context) (Predictor, error) {
	resp, err := s.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, statusError(resp))
	}
	return &remotePredictor{source: s}, nil
}

type predictRequest struct {
	Instances []map[string]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
	Model       string    `json:"model"`
}

type remotePredictor struct {
	source *RemoteSource
	model  string
}

func (p *remotePredictor) Name() string {
	return p.model
}

func (p *remotePredictor) Predict(ctx context.Context, instance map[string]float64) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: []map[string]float64{instance}})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	resp, err := p.source.do(ctx, http.MethodPost, "/predict", body)
	if err != nil {
		// an answered 5xx is the model failing; anything else means the
		// service went away after the health probe
		var se *StatusError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	p.model = out.Model
	return out.Predictions, nil
}

// do sends one request through the rate limiter and circuit breaker,
// retrying network errors and 5xx answers with exponential backoff. Other
// statuses are handed back to the caller untouched.
func (s *RemoteSource) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	operation := func() error {
		r, err := s.breaker.Execute(func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			r, err := s.httpClient.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				defer r.Body.Close()
				return nil, statusError(r)
			}
			return r, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxElapsedTime = s.opts.MaxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries)), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}
