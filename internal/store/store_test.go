package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solarcast/internal/features"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "solarcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveAndGetPrediction(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec, err := features.NewRecord(map[string]float64{"temperature": 1.5}, 2)
	require.NoError(t, err)

	created := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	p := &Prediction{
		SessionID:  "abc",
		Model:      "solar-forest",
		Features:   rec.Map(),
		SkyCover:   rec.SkyCover(),
		ForecastKW: 2.5,
		EnergyJ:    9_000_000,
		CreatedAt:  created,
	}

	id, err := st.SavePrediction(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	got, err := st.GetPrediction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, "solar-forest", got.Model)
	assert.Equal(t, rec.Map(), got.Features)
	assert.Equal(t, 2, got.SkyCover)
	assert.Equal(t, 2.5, got.ForecastKW)
	assert.Equal(t, 9_000_000.0, got.EnergyJ)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestGetPredictionNotFound(t *testing.T) {
	_, err := newTestStore(t).GetPrediction(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentPredictionsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := st.SavePrediction(ctx, &Prediction{
			Features:   map[string]float64{"temperature": float64(i)},
			ForecastKW: float64(i),
			EnergyJ:    float64(i) * 3_600_000,
		})
		require.NoError(t, err)
	}

	recent, err := st.RecentPredictions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 5.0, recent[0].ForecastKW)
	assert.Equal(t, 4.0, recent[1].ForecastKW)
	assert.Equal(t, 3.0, recent[2].ForecastKW)
	assert.False(t, recent[0].CreatedAt.IsZero())

	all, err := st.RecentPredictions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDrafts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetDraft(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	in := features.Defaults()
	in.Values["humidity"] = -1.25
	in.SkyCover = 3
	require.NoError(t, st.SaveDraft(ctx, "s1", in))

	got, err := st.GetDraft(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, in.Values, got.Values)
	assert.Equal(t, 3, got.SkyCover)

	in.SkyCover = 1
	require.NoError(t, st.SaveDraft(ctx, "s1", in))
	got, err = st.GetDraft(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SkyCover)
}
