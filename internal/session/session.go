// Package session holds the input/result state machine of one user session.
// State is an explicit value passed in and out of every transition.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/awaistahir/solarcast/internal/features"
	"github.com/awaistahir/solarcast/internal/forecast"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// Mode is the current view of a session.
type Mode int

const (
	AwaitingInput Mode = iota
	ShowingResult
)

func (m Mode) String() string {
	switch m {
	case AwaitingInput:
		return "awaiting_input"
	case ShowingResult:
		return "showing_result"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is one session's position in the cycle. Record and Result are set
// only while ShowingResult. Draft keeps the last widget values so the form
// can be prefilled after Back.
type State struct {
	Mode   Mode
	Record *features.Record
	Result *forecast.Result
	Draft  features.Input
	Err    string
}

// Predicter is the prediction step of a submission.
type Predicter interface {
	Predict(ctx context.Context, rec features.Record) (forecast.Result, error)
}

// New returns the initial state.
func New() State {
	return State{Mode: AwaitingInput, Draft: features.Defaults()}
}

// Submit collects in and, once it is a submission, runs the prediction.
// On any failure the state stays in AwaitingInput with Err set and the
// error is returned.
func Submit(ctx context.Context, st State, in features.Input, p Predicter) (State, error) {
	if !in.Submitted {
		return st, nil
	}

	if st.Mode != AwaitingInput {
		return st, fmt.Errorf("%w: submit while %s", ErrInvalidTransition, st.Mode)
	}

	next := State{Mode: AwaitingInput, Draft: in.Clone()}
	next.Draft.Submitted = false

	rec, err := features.Collect(in)
	if err != nil {
		next.Err = Message(err)
		return next, err
	}
	// show what was actually used, bounds applied
	next.Draft = rec.Input()

	res, err := p.Predict(ctx, *rec)
	if err != nil {
		next.Err = Message(err)
		return next, err
	}

	next.Mode = ShowingResult
	next.Record = rec
	next.Result = &res
	return next, nil
}

// Back returns to AwaitingInput and drops the stored record and result.
func Back(st State) State {
	return State{Mode: AwaitingInput, Draft: st.Draft.Clone()}
}

// Message renders err for the user, keeping "no model" apart from "bad
// prediction".
func Message(err error) string {
	switch forecast.Kind(err) {
	case "":
		return ""
	case "model_unavailable":
		return "Model unavailable: " + err.Error()
	case "prediction_error":
		return "Error in prediction: " + err.Error()
	default:
		return "Invalid input: " + err.Error()
	}
}
