package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() RemoteOptions {
	return RemoteOptions{
		Timeout:         2 * time.Second,
		RequestsPerSec:  100,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func inferenceServer(t *testing.T, predictStatus *atomic.Int32, predictFailures *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		if predictFailures != nil && predictFailures.Add(-1) >= 0 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		if predictStatus != nil && predictStatus.Load() != 0 {
			http.Error(w, "bad instance", int(predictStatus.Load()))
			return
		}

		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Instances) != 1 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(predictResponse{
			Predictions: []float64{req.Instances[0]["sky-cover_0"] * 2.5},
			Model:       "remote-forest",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteSourcePredict(t *testing.T) {
	srv := inferenceServer(t, nil, nil)

	a := NewAdapter(NewRemoteSource(srv.URL+"/", fastOptions()))
	res, err := a.Predict(context.Background(), zeroRecord(t))
	require.NoError(t, err)

	assert.Equal(t, 2.5, res.ForecastKW)
	assert.Equal(t, 9_000_000.0, res.EnergyJ)
	assert.Equal(t, "remote-forest", res.Model)
}

func TestRemoteSourceRetriesServerErrors(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	srv := inferenceServer(t, nil, &failures)

	res, err := NewAdapter(NewRemoteSource(srv.URL, fastOptions())).Predict(context.Background(), zeroRecord(t))
	require.NoError(t, err)
	assert.Equal(t, 2.5, res.ForecastKW)
}

func TestRemoteSourceClientErrorIsPredictionError(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	srv := inferenceServer(t, &status, nil)

	_, err := NewAdapter(NewRemoteSource(srv.URL, fastOptions())).Predict(context.Background(), zeroRecord(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPredictionFailed)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Body, "bad instance")
}

func TestRemoteSourceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAdapter(NewRemoteSource(url, fastOptions())).Predict(context.Background(), zeroRecord(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRemoteSourceUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model loaded", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := NewRemoteSource(srv.URL, fastOptions()).Open(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "no model loaded")
}

func TestRemoteSourceGoneAfterHealthIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "no hijack", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	_, err := NewAdapter(NewRemoteSource(srv.URL, fastOptions())).Predict(context.Background(), zeroRecord(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.NotErrorIs(t, err, ErrPredictionFailed)
}

func TestRemoteSourceExhaustedServerErrorsArePredictionErrors(t *testing.T) {
	var failures atomic.Int32
	failures.Store(100)
	srv := inferenceServer(t, nil, &failures)

	_, err := NewAdapter(NewRemoteSource(srv.URL, fastOptions())).Predict(context.Background(), zeroRecord(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPredictionFailed)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}
