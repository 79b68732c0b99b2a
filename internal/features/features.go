package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidSkyCover = errors.New("sky cover level must be between 0 and 4")
	ErrInvalidInput    = errors.New("invalid input parameters")
	ErrUnknownFeature  = errors.New("unknown feature")
)

// Clamp pins v to the admissible range of f. Values on a bound are
// returned unchanged.
func Clamp(f Field, v float64) float64 {
	if v < f.Min {
		return f.Min
	}
	if v > f.Max {
		return f.Max
	}
	return v
}

// EncodeSkyCover expands level into five mutually exclusive indicators.
func EncodeSkyCover(level int) ([SkyCoverLevels]int, error) {
	var out [SkyCoverLevels]int
	if level < 0 || level >= SkyCoverLevels {
		return out, fmt.Errorf("%w: got %d", ErrInvalidSkyCover, level)
	}
	for i := range out {
		if i == level {
			out[i] = 1
		}
	}
	return out, nil
}

// DecodeSkyCover is the inverse of EncodeSkyCover.
func DecodeSkyCover(ind [SkyCoverLevels]int) (int, error) {
	level := -1
	for i, v := range ind {
		switch v {
		case 0:
		case 1:
			if level != -1 {
				return 0, fmt.Errorf("%w: more than one indicator set", ErrInvalidSkyCover)
			}
			level = i
		default:
			return 0, fmt.Errorf("%w: indicator %d is %d", ErrInvalidSkyCover, i, v)
		}
	}
	if level == -1 {
		return 0, fmt.Errorf("%w: no indicator set", ErrInvalidSkyCover)
	}
	return level, nil
}

// Record is the canonical feature record handed to the predictor. It is
// built once per submission and never mutated afterwards.
type Record struct {
	values     [Readings]float64
	skyCover   int
	indicators [SkyCoverLevels]int
}

// NewRecord builds a record from raw widget values. Out-of-range readings
// are clamped to their bounds and missing readings take the field default.
func NewRecord(values map[string]float64, skyCover int) (Record, error) {
	var r Record

	for name := range values {
		if _, ok := Lookup(name); !ok {
			return Record{}, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
	}

	for i, f := range Fields {
		v, ok := values[f.Name]
		if !ok {
			v = f.Default
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Record{}, fmt.Errorf("%w: %s is not a finite number", ErrInvalidInput, f.Name)
		}
		r.values[i] = Clamp(f, v)
	}

	ind, err := EncodeSkyCover(skyCover)
	if err != nil {
		return Record{}, err
	}
	r.skyCover = skyCover
	r.indicators = ind

	return r, nil
}

// Collect returns a record once the form has been submitted. Before that it
// returns nil and the caller must not proceed to prediction.
func Collect(in Input) (*Record, error) {
	if !in.Submitted {
		return nil, nil
	}
	r, err := NewRecord(in.Values, in.SkyCover)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Value returns a named feature, including sky cover indicators.
func (r Record) Value(name string) (float64, bool) {
	for i, f := range Fields {
		if f.Name == name {
			return r.values[i], true
		}
	}
	for i, n := range SkyCoverNames {
		if n == name {
			return float64(r.indicators[i]), true
		}
	}
	return 0, false
}

// Validate reports whether r was built by NewRecord. The zero Record has no
// sky cover indicator set and is rejected.
func (r Record) Validate() error {
	level, err := DecodeSkyCover(r.indicators)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if level != r.skyCover {
		return fmt.Errorf("%w: sky cover %d does not match its indicators", ErrInvalidInput, r.skyCover)
	}
	return nil
}

func (r Record) SkyCover() int {
	return r.skyCover
}

func (r Record) Indicators() [SkyCoverLevels]int {
	return r.indicators
}

// Map returns a fresh copy of all twelve named features.
func (r Record) Map() map[string]float64 {
	m := make(map[string]float64, len(Fields)+SkyCoverLevels)
	for i, f := range Fields {
		m[f.Name] = r.values[i]
	}
	for i, n := range SkyCoverNames {
		m[n] = float64(r.indicators[i])
	}
	return m
}

// Vector lays the features out in the given order.
func (r Record) Vector(order []string) ([]float64, error) {
	out := make([]float64, len(order))
	for i, name := range order {
		v, ok := r.Value(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
		out[i] = v
	}
	return out, nil
}

// Input converts the record back to widget values, used to prefill the form
// after a reset.
func (r Record) Input() Input {
	values := make(map[string]float64, len(Fields))
	for i, f := range Fields {
		values[f.Name] = r.values[i]
	}
	return Input{Values: values, SkyCover: r.skyCover}
}

// MarshalJSON renders the record as its twelve named features.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}
