package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awaistahir/solarcast/internal/features"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Prediction is one stored submission and its outcome.
type Prediction struct {
	ID         int64              `json:"id"`
	SessionID  string             `json:"session_id,omitempty"`
	Model      string             `json:"model,omitempty"`
	Features   map[string]float64 `json:"features"`
	SkyCover   int                `json:"sky_cover"`
	ForecastKW float64            `json:"forecast_kw"`
	EnergyJ    float64            `json:"energy_j"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Store handles persistent storage using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new store and initializes the database
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single writer keeps :memory: databases and file locks simple
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		model TEXT,
		features TEXT NOT NULL,
		sky_cover INTEGER NOT NULL,
		forecast_kw REAL NOT NULL,
		energy_j REAL NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS drafts (
		session_id TEXT PRIMARY KEY,
		draft_values TEXT NOT NULL,
		sky_cover INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_session ON predictions(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePrediction stores p and returns its ID
func (s *Store) SavePrediction(ctx context.Context, p *Prediction) (int64, error) {
	featuresJSON, err := json.Marshal(p.Features)
	if err != nil {
		return 0, fmt.Errorf("encoding features: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO predictions
		(session_id, model, features, sky_cover, forecast_kw, energy_j, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query, p.SessionID, p.Model, string(featuresJSON), p.SkyCover,
		p.ForecastKW, p.EnergyJ, p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("saving prediction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// RecentPredictions returns the newest predictions first
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]*Prediction, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, session_id, model, features, sky_cover, forecast_kw, energy_j, created_at
		FROM predictions ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := []*Prediction{}
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

// GetPrediction retrieves a single prediction by ID
func (s *Store) GetPrediction(ctx context.Context, id int64) (*Prediction, error) {
	query := `SELECT id, session_id, model, features, sky_cover, forecast_kw, energy_j, created_at
		FROM predictions WHERE id = ?`

	p, err := scanPrediction(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %d: %w", id, ErrNotFound)
	}
	return p, err
}

// SaveDraft remembers the last form values of a session
func (s *Store) SaveDraft(ctx context.Context, sessionID string, in features.Input) error {
	valuesJSON, err := json.Marshal(in.Values)
	if err != nil {
		return fmt.Errorf("encoding draft: %w", err)
	}

	query := `INSERT OR REPLACE INTO drafts (session_id, draft_values, sky_cover, updated_at)
		VALUES (?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query, sessionID, string(valuesJSON), in.SkyCover, time.Now().UTC())
	return err
}

// GetDraft returns the last form values of a session
func (s *Store) GetDraft(ctx context.Context, sessionID string) (features.Input, error) {
	query := `SELECT draft_values, sky_cover FROM drafts WHERE session_id = ?`

	var valuesJSON string
	var in features.Input
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&valuesJSON, &in.SkyCover)
	if errors.Is(err, sql.ErrNoRows) {
		return features.Input{}, fmt.Errorf("draft for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return features.Input{}, err
	}

	if err := json.Unmarshal([]byte(valuesJSON), &in.Values); err != nil {
		return features.Input{}, fmt.Errorf("decoding draft: %w", err)
	}
	return in, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (*Prediction, error) {
	var p Prediction
	var sessionID, model sql.NullString
	var featuresJSON, createdAt string

	err := row.Scan(&p.ID, &sessionID, &model, &featuresJSON, &p.SkyCover, &p.ForecastKW, &p.EnergyJ, &createdAt)
	if err != nil {
		return nil, err
	}

	p.SessionID = sessionID.String
	p.Model = model.String
	if err := json.Unmarshal([]byte(featuresJSON), &p.Features); err != nil {
		return nil, fmt.Errorf("decoding features: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}

	return &p, nil
}
