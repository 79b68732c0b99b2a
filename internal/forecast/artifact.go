package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidArtifact = errors.New("invalid model artifact")
	ErrShapeMismatch   = errors.New("record does not match model features")
)

const (
	KindLinear       = "linear"
	KindRandomForest = "random_forest"
)

// Node is one node of a regression tree. A node with Left == -1 is a leaf
// and predicts Value. Otherwise x[Feature] <= Threshold goes Left.
type Node struct {
	Feature   int     `json:"feature" yaml:"feature"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Left      int     `json:"left" yaml:"left"`
	Right     int     `json:"right" yaml:"right"`
	Value     float64 `json:"value" yaml:"value"`
}

type Tree struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

// Artifact is a serialized trained model. Features lists the input names in
// the order the model was fitted on.
type Artifact struct {
	ModelName    string    `json:"name" yaml:"name"`
	Kind         string    `json:"kind" yaml:"kind"`
	Features     []string  `json:"features" yaml:"features"`
	Intercept    float64   `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty" yaml:"coefficients,omitempty"`
	Trees        []Tree    `json:"trees,omitempty" yaml:"trees,omitempty"`
}

func (a *Artifact) Name() string {
	if a.ModelName == "" {
		return a.Kind
	}
	return a.ModelName
}

// Validate checks that the artifact describes a usable model.
func (a *Artifact) Validate() error {
	if len(a.Features) == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidArtifact)
	}
	seen := make(map[string]bool, len(a.Features))
	for _, f := range a.Features {
		if seen[f] {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidArtifact, f)
		}
		seen[f] = true
	}

	switch a.Kind {
	case KindLinear:
		if len(a.Coefficients) != len(a.Features) {
			return fmt.Errorf("%w: %d coefficients for %d features",
				ErrInvalidArtifact, len(a.Coefficients), len(a.Features))
		}
	case KindRandomForest:
		if len(a.Trees) == 0 {
			return fmt.Errorf("%w: forest has no trees", ErrInvalidArtifact)
		}
		for i, t := range a.Trees {
			if err := validateTree(t, len(a.Features)); err != nil {
				return fmt.Errorf("%w: tree %d: %v", ErrInvalidArtifact, i, err)
			}
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidArtifact, a.Kind)
	}
	return nil
}

// validateTree walks the tree from the root and rejects out-of-range indices
// and nodes reachable twice, which rules out cycles.
func validateTree(t Tree, nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}

	visited := make([]bool, len(t.Nodes))
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[i] {
			return fmt.Errorf("node %d reached twice", i)
		}
		visited[i] = true

		n := t.Nodes[i]
		if n.Left == -1 {
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= 0 || child >= len(t.Nodes) {
				return fmt.Errorf("node %d: child index %d out of range", i, child)
			}
			stack = append(stack, child)
		}
	}
	return nil
}

// Predict implements Predictor. The instance must carry exactly the
// artifact's feature names.
func (a *Artifact) Predict(ctx context.Context, instance map[string]float64) ([]float64, error) {
	x, err := a.vector(instance)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case KindLinear:
		y := a.Intercept
		for i, c := range a.Coefficients {
			y += c * x[i]
		}
		return []float64{y}, nil

	case KindRandomForest:
		sum := 0.0
		for i, t := range a.Trees {
			v, err := t.predict(x)
			if err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
			sum += v
		}
		return []float64{sum / float64(len(a.Trees))}, nil
	}

	return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidArtifact, a.Kind)
}

func (a *Artifact) vector(instance map[string]float64) ([]float64, error) {
	var missing, extra []string

	x := make([]float64, len(a.Features))
	for i, name := range a.Features {
		v, ok := instance[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		x[i] = v
	}

	if len(instance) != len(a.Features)-len(missing) {
		known := make(map[string]bool, len(a.Features))
		for _, f := range a.Features {
			known[f] = true
		}
		for name := range instance {
			if !known[name] {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
	}

	if len(missing) > 0 || len(extra) > 0 {
		parts := []string{}
		if len(missing) > 0 {
			parts = append(parts, "missing "+strings.Join(missing, ", "))
		}
		if len(extra) > 0 {
			parts = append(parts, "unexpected "+strings.Join(extra, ", "))
		}
		return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, strings.Join(parts, "; "))
	}
	return x, nil
}

func (t Tree) predict(x []float64) (float64, error) {
	i := 0
	// a valid tree reaches a leaf in fewer than len(Nodes) steps
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if i < 0 || i >= len(t.Nodes) {
			return 0, fmt.Errorf("node index %d out of range", i)
		}
		n := t.Nodes[i]
		if n.Left == -1 {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(x) {
			return 0, fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, errors.New("traversal did not reach a leaf")
}
