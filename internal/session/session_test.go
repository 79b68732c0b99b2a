package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solarcast/internal/features"
	"github.com/awaistahir/solarcast/internal/forecast"
)

type predictFunc func(ctx context.Context, rec features.Record) (forecast.Result, error)

func (f predictFunc) Predict(ctx context.Context, rec features.Record) (forecast.Result, error) {
	return f(ctx, rec)
}

func fixed(kw float64) Predicter {
	return predictFunc(func(ctx context.Context, rec features.Record) (forecast.Result, error) {
		return forecast.NewResult(kw), nil
	})
}

func failing(err error) Predicter {
	return predictFunc(func(ctx context.Context, rec features.Record) (forecast.Result, error) {
		return forecast.Result{}, err
	})
}

func submitted() features.Input {
	in := features.Defaults()
	in.Submitted = true
	return in
}

func TestSubmitThenBack(t *testing.T) {
	st := New()
	assert.Equal(t, AwaitingInput, st.Mode)

	st, err := Submit(context.Background(), st, submitted(), fixed(2.5))
	require.NoError(t, err)
	assert.Equal(t, ShowingResult, st.Mode)
	require.NotNil(t, st.Record)
	require.NotNil(t, st.Result)
	assert.Equal(t, "2.50", fmt.Sprintf("%.2f", st.Result.ForecastKW))
	assert.Equal(t, "9000000.00", fmt.Sprintf("%.2f", st.Result.EnergyJ))
	assert.Equal(t, [features.SkyCoverLevels]int{1, 0, 0, 0, 0}, st.Record.Indicators())
	assert.Empty(t, st.Err)

	st = Back(st)
	assert.Equal(t, AwaitingInput, st.Mode)
	assert.Nil(t, st.Record)
	assert.Nil(t, st.Result)
	assert.Empty(t, st.Err)
}

func TestSubmitWithoutSubmitEventKeepsState(t *testing.T) {
	st := New()
	in := features.Defaults()
	in.Values["temperature"] = 1

	next, err := Submit(context.Background(), st, in, failing(errors.New("must not be called")))
	require.NoError(t, err)
	assert.Equal(t, st, next)
}

func TestSubmitClampsDraft(t *testing.T) {
	in := submitted()
	in.Values["humidity"] = 10
	in.SkyCover = 4

	st, err := Submit(context.Background(), New(), in, fixed(1))
	require.NoError(t, err)

	st = Back(st)
	assert.Equal(t, 2.09, st.Draft.Values["humidity"], "draft keeps the clamped value")
	assert.Equal(t, 4, st.Draft.SkyCover)
	assert.False(t, st.Draft.Submitted)
}

func TestSubmitFailuresStayAwaitingInput(t *testing.T) {
	tests := []struct {
		name       string
		in         features.Input
		p          Predicter
		wantErr    error
		wantPrefix string
	}{
		{
			name:       "model unavailable",
			in:         submitted(),
			p:          failing(fmt.Errorf("%w: model file %q not found", forecast.ErrModelUnavailable, "Finalized_model.json")),
			wantErr:    forecast.ErrModelUnavailable,
			wantPrefix: "Model unavailable: ",
		},
		{
			name:       "prediction error",
			in:         submitted(),
			p:          failing(fmt.Errorf("%w: shape", forecast.ErrPredictionFailed)),
			wantErr:    forecast.ErrPredictionFailed,
			wantPrefix: "Error in prediction: ",
		},
		{
			name: "sky cover out of domain",
			in: func() features.Input {
				in := submitted()
				in.SkyCover = 9
				return in
			}(),
			p:          fixed(1),
			wantErr:    features.ErrInvalidSkyCover,
			wantPrefix: "Invalid input: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Submit(context.Background(), New(), tt.in, tt.p)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, AwaitingInput, st.Mode)
			assert.Nil(t, st.Record)
			assert.Nil(t, st.Result)
			assert.Contains(t, st.Err, tt.wantPrefix)

			// the machine still accepts a new submission
			st, err = Submit(context.Background(), st, submitted(), fixed(3))
			require.NoError(t, err)
			assert.Equal(t, ShowingResult, st.Mode)
			assert.Empty(t, st.Err)
		})
	}
}

func TestSubmitWhileShowingResult(t *testing.T) {
	st, err := Submit(context.Background(), New(), submitted(), fixed(1))
	require.NoError(t, err)

	again, err := Submit(context.Background(), st, submitted(), fixed(2))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, st, again)
}

func TestNonSubmissionWhileShowingResultChangesNothing(t *testing.T) {
	st, err := Submit(context.Background(), New(), submitted(), fixed(1))
	require.NoError(t, err)

	next, err := Submit(context.Background(), st, features.Defaults(), fixed(2))
	require.NoError(t, err)
	assert.Equal(t, st, next)
	assert.Equal(t, ShowingResult, next.Mode)
}

func TestBackWhileAwaitingInputClearsError(t *testing.T) {
	st, _ := Submit(context.Background(), New(), submitted(), failing(forecast.ErrModelUnavailable))
	require.NotEmpty(t, st.Err)

	st = Back(st)
	assert.Equal(t, AwaitingInput, st.Mode)
	assert.Empty(t, st.Err)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "awaiting_input", AwaitingInput.String())
	assert.Equal(t, "showing_result", ShowingResult.String())
	assert.Equal(t, "mode(7)", Mode(7).String())
}

func TestRegistry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(time.Hour)
	r.now = func() time.Time { return now }

	id := NewID()
	assert.Equal(t, New(), r.Get(id), "unknown id starts fresh")

	st, err := Submit(context.Background(), New(), submitted(), fixed(2))
	require.NoError(t, err)
	r.Put(id, st)
	assert.Equal(t, ShowingResult, r.Get(id).Mode)
	assert.Equal(t, 1, r.Len())

	now = now.Add(30 * time.Minute)
	assert.Equal(t, ShowingResult, r.Get(id).Mode, "touching refreshes the session")

	now = now.Add(61 * time.Minute)
	assert.Equal(t, AwaitingInput, r.Get(id).Mode)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())

	r.Put(id, st)
	r.Delete(id)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(0)

	_, ok := r.Lookup("missing")
	assert.False(t, ok)

	st := New()
	st.Draft.SkyCover = 2
	r.Put("s", st)

	got, ok := r.Lookup("s")
	require.True(t, ok)
	assert.Equal(t, 2, got.Draft.SkyCover)
}
