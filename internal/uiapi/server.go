package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/awaistahir/solarcast/internal/features"
	"github.com/awaistahir/solarcast/internal/forecast"
	"github.com/awaistahir/solarcast/internal/session"
	"github.com/awaistahir/solarcast/internal/store"
)

const (
	version       = "1.0.0"
	sessionCookie = "solarcast_session"
)

// History records predictions and form drafts. *store.Store implements it.
type History interface {
	SavePrediction(ctx context.Context, p *store.Prediction) (int64, error)
	RecentPredictions(ctx context.Context, limit int) ([]*store.Prediction, error)
	GetPrediction(ctx context.Context, id int64) (*store.Prediction, error)
	SaveDraft(ctx context.Context, sessionID string, in features.Input) error
	GetDraft(ctx context.Context, sessionID string) (features.Input, error)
}

type Server struct {
	predicter session.Predicter
	history   History
	sessions  *session.Registry
	validate  *validator.Validate
	log       zerolog.Logger
}

func NewServer(predicter session.Predicter, history History, sessions *session.Registry, log zerolog.Logger) *Server {
	return &Server{
		predicter: predicter,
		history:   history,
		sessions:  sessions,
		validate:  validator.New(),
		log:       log,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.serveUI)
	r.Post("/submit", s.handleSubmit)
	r.Post("/back", s.handleBack)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/fields", s.handleFields)
		r.Post("/predict", s.handlePredict)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{id}", s.handleGetPrediction)
	})

	return r
}

// sessionID returns the caller's session, issuing a cookie on first visit.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := session.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// state returns the live state of id. A session the registry no longer
// knows starts over, prefilled with its last stored draft.
func (s *Server) state(ctx context.Context, id string) session.State {
	if st, ok := s.sessions.Lookup(id); ok {
		return st
	}

	st := session.New()
	if draft, err := s.history.GetDraft(ctx, id); err == nil {
		st.Draft = draft
	}
	return st
}

func (s *Server) serveUI(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	st := s.state(r.Context(), id)
	s.sessions.Put(id, st)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := renderPage(w, st); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("rendering page")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := hlog.FromRequest(r)
	id := s.sessionID(w, r)
	st := s.state(ctx, id)

	in, err := parseForm(r)
	if err != nil {
		if st.Mode == session.ShowingResult {
			// a stale form posted over a shown result; only Back leaves it
			logger.Debug().Err(err).Str("mode", st.Mode.String()).Msg("ignoring submit")
		} else {
			st.Err = session.Message(err)
		}
		s.sessions.Put(id, st)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	next, err := session.Submit(ctx, st, in, s.predicter)
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		// a resubmitted form while the result is showing; keep the result
		logger.Debug().Str("mode", st.Mode.String()).Msg("ignoring submit")
	case err != nil:
		logger.Warn().Err(err).Str("kind", forecast.Kind(err)).Msg("prediction failed")
	default:
		logger.Info().
			Float64("forecast_kw", next.Result.ForecastKW).
			Float64("energy_j", next.Result.EnergyJ).
			Str("model", next.Result.Model).
			Msg("prediction")
		s.record(ctx, id, *next.Record, *next.Result)
	}

	if err := s.history.SaveDraft(ctx, id, next.Draft); err != nil {
		logger.Error().Err(err).Msg("saving draft")
	}
	s.sessions.Put(id, next)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	s.sessions.Put(id, session.Back(s.state(r.Context(), id)))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// record stores a successful prediction. Failing to store it does not fail
// the submission.
func (s *Server) record(ctx context.Context, sessionID string, rec features.Record, res forecast.Result) *store.Prediction {
	p := &store.Prediction{
		SessionID:  sessionID,
		Model:      res.Model,
		Features:   rec.Map(),
		SkyCover:   rec.SkyCover(),
		ForecastKW: res.ForecastKW,
		EnergyJ:    res.EnergyJ,
	}
	if _, err := s.history.SavePrediction(ctx, p); err != nil {
		s.log.Error().Err(err).Msg("saving prediction")
	}
	return p
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  version,
		"sessions": s.sessions.Len(),
	})
}

type fieldResponse struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Unit    string  `json:"unit"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Step    float64 `json:"step"`
}

type fieldsResponse struct {
	Fields         []fieldResponse `json:"fields"`
	SkyCoverLevels int             `json:"sky_cover_levels"`
	FeatureNames   []string        `json:"feature_names"`
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	out := fieldsResponse{
		SkyCoverLevels: features.SkyCoverLevels,
		FeatureNames:   features.Names(),
	}
	for _, f := range features.Fields {
		out.Fields = append(out.Fields, fieldResponse{
			Name: f.Name, Label: f.Label, Unit: f.Unit,
			Min: f.Min, Max: f.Max, Default: f.Default, Step: f.Step,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// PredictRequest is the body of POST /api/predict. Readings outside their
// bounds are clamped; omitted readings take their defaults.
type PredictRequest struct {
	Values   map[string]float64 `json:"values"`
	SkyCover *int               `json:"sky_cover" validate:"required,min=0,max=4"`
}

type PredictResponse struct {
	ID         int64           `json:"id,omitempty"`
	ForecastKW float64         `json:"forecast_kw"`
	EnergyJ    float64         `json:"energy_j"`
	Model      string          `json:"model,omitempty"`
	Record     features.Record `json:"record"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := features.NewRecord(req.Values, *req.SkyCover)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.predicter.Predict(ctx, rec)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("kind", forecast.Kind(err)).Msg("prediction failed")
		switch {
		case errors.Is(err, forecast.ErrModelUnavailable):
			respondError(w, http.StatusServiceUnavailable, session.Message(err))
		case errors.Is(err, forecast.ErrPredictionFailed):
			respondError(w, http.StatusUnprocessableEntity, session.Message(err))
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	p := s.record(ctx, "", rec, res)
	respondJSON(w, http.StatusOK, PredictResponse{
		ID:         p.ID,
		ForecastKW: res.ForecastKW,
		EnergyJ:    res.EnergyJ,
		Model:      res.Model,
		Record:     rec,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}

	predictions, err := s.history.RecentPredictions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, predictions)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	p, err := s.history.GetPrediction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "prediction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
