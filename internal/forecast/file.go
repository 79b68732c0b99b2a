package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// DefaultModelPath is where the trained model is looked up when nothing
// else is configured.
const DefaultModelPath = "Finalized_model.json"

// FileSource loads an Artifact from disk on every Open, so a replaced model
// file is picked up by the next prediction.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	if path == "" {
		path = DefaultModelPath
	}
	return &FileSource{Path: path}
}

// Open implements Source.
func (s *FileSource) Open(ctx context.Context) (Predictor, error) {
	return s.Load()
}

// Load reads and validates the artifact.
func (s *FileSource) Load() (*Artifact, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: model file %q not found", ErrModelUnavailable, s.Path)
		}
		return nil, fmt.Errorf("%w: reading %q: %w", ErrModelUnavailable, s.Path, err)
	}

	a, err := DecodeArtifact(s.Path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return a, nil
}

// DecodeArtifact parses an artifact. The encoding is picked from name:
// .json, .yaml or .yml, optionally followed by .zst for zstd compression.
func DecodeArtifact(name string, r io.Reader) (*Artifact, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".zst" {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(name, filepath.Ext(name))))
	}

	var a Artifact
	switch ext {
	case ".json":
		if err := json.NewDecoder(r).Decode(&a); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&a); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported artifact format %q", ErrInvalidArtifact, ext)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// EncodeArtifact writes a in the format implied by name.
func EncodeArtifact(name string, w io.Writer, a *Artifact) error {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".zst" {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("opening zstd stream: %w", err)
		}
		if err := EncodeArtifact(strings.TrimSuffix(name, filepath.Ext(name)), enc, a); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}

	switch ext {
	case ".json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(a); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: unsupported artifact format %q", ErrInvalidArtifact, ext)
}
