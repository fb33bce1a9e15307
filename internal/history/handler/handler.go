package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"borderhist/internal/history/models"
	"borderhist/internal/history/service"
	"borderhist/internal/ingest"
	"borderhist/internal/platform/metrics"
	"borderhist/internal/platform/middleware"
	dErrors "borderhist/pkg/domain-errors"
	"borderhist/pkg/platform/httputil"
)

// Service defines the interface for history operations.
type Service interface {
	Latest(ctx context.Context) (*models.AdministrativeState, error)
	States(ctx context.Context) ([]*models.AdministrativeState, error)
	AsOf(ctx context.Context, date time.Time) (*models.AdministrativeState, error)
	Pairs(ctx context.Context, date time.Time, homelandOnly, altNames bool) ([]models.RDPair, error)
	Compare(ctx context.Context, date time.Time, target []models.RDPair, homelandOnly bool) (*service.ComparisonResult, error)
	IdentifyState(ctx context.Context, target []models.RDPair, homelandOnly bool) ([]service.StateMatch, error)
	VerifyConsistency(ctx context.Context) ([]string, error)
	LookupUnit(ctx context.Context, kind models.UnitKind, name string) (*models.Unit, error)
	LineageInto(ctx context.Context, unit string) ([]models.LineageEdge, error)
	LineageFrom(ctx context.Context, unit string) ([]models.LineageEdge, error)
	ApplyAll(ctx context.Context, changes []models.Change) (int, error)
}

// Handler handles history-related endpoints.
type Handler struct {
	logger       *slog.Logger
	history      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new history Handler.
func New(
	history Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		history:      history,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the history routes with the chi router. Read endpoints
// are open; applying changes requires a valid token.
func (h *Handler) Register(r chi.Router) {
	historyRouter := chi.NewRouter()
	historyRouter.Use(middleware.Recovery(h.logger))
	historyRouter.Use(middleware.RequestID)
	historyRouter.Use(middleware.Logger(h.logger))
	historyRouter.Use(middleware.Timeout(30 * time.Second))
	historyRouter.Use(middleware.ContentTypeJSON)
	historyRouter.Use(middleware.Latency(h.metrics))

	historyRouter.Get("/history/states", h.handleListStates)
	historyRouter.Get("/history/state", h.handleStateAsOf)
	historyRouter.Get("/history/state/pairs", h.handlePairs)
	historyRouter.Post("/history/state/compare", h.handleCompare)
	historyRouter.Post("/history/state/identify", h.handleIdentify)
	historyRouter.Get("/history/verify", h.handleVerify)
	historyRouter.Get("/history/units/{kind}/{name}", h.handleLookupUnit)
	historyRouter.Get("/history/lineage", h.handleLineage)
	historyRouter.With(middleware.RequireAuth(h.jwtValidator, h.logger)).
		Post("/history/changes", h.handleApplyChanges)

	r.Mount("/", historyRouter)
}

// StateSummary is one row of the state-list response.
type StateSummary struct {
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	Regions   int        `json:"regions"`
	Districts int        `json:"districts"`
}

func (h *Handler) handleListStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	states, err := h.history.States(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to list states")
		return
	}

	summaries := make([]StateSummary, len(states))
	for i, st := range states {
		districts := 0
		for _, region := range st.Regions {
			districts += len(region.Districts)
		}
		summaries[i] = StateSummary{
			ValidFrom: st.ValidFrom,
			ValidTo:   st.ValidTo,
			Regions:   len(st.Regions),
			Districts: districts,
		}
	}
	httputil.WriteJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleStateAsOf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		state *models.AdministrativeState
		err   error
	)
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, perr := parseDate(raw)
		if perr != nil {
			httputil.WriteError(w, perr)
			return
		}
		state, err = h.history.AsOf(ctx, date)
	} else {
		state, err = h.history.Latest(ctx)
	}
	if err != nil {
		h.writeError(ctx, w, err, "failed to resolve state")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) handlePairs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	date, err := parseDate(q.Get("date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pairs, err := h.history.Pairs(ctx, date, boolParam(q.Get("homeland_only")), boolParam(q.Get("alt_names")))
	if err != nil {
		h.writeError(ctx, w, err, "failed to list pairs")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pairs)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	date, err := parseDate(q.Get("date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	target, err := decodePairs(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.history.Compare(ctx, date, target, boolParam(q.Get("homeland_only")))
	if err != nil {
		h.writeError(ctx, w, err, "failed to compare states")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, err := decodePairs(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	matches, err := h.history.IdentifyState(ctx, target, boolParam(r.URL.Query().Get("homeland_only")))
	if err != nil {
		h.writeError(ctx, w, err, "failed to identify state")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, matches)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issues, err := h.history.VerifyConsistency(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to verify history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"consistent": len(issues) == 0,
		"issues":     issues,
	})
}

func (h *Handler) handleLookupUnit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := parseUnitKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	unit, err := h.history.LookupUnit(ctx, kind, chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(ctx, w, err, "failed to look up unit")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, unit)
}

func (h *Handler) handleLineage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	unit := q.Get("unit")
	if unit == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unit query parameter is required"))
		return
	}

	var (
		edges []models.LineageEdge
		err   error
	)
	switch direction := q.Get("direction"); direction {
	case "", "into":
		edges, err = h.history.LineageInto(ctx, unit)
	case "from":
		edges, err = h.history.LineageFrom(ctx, unit)
	default:
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown lineage direction %q", direction))
		return
	}
	if err != nil {
		h.writeError(ctx, w, err, "failed to query lineage")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, edges)
}

// ApplyResult reports the outcome of an accepted change list.
type ApplyResult struct {
	BatchesApplied int       `json:"batches_applied"`
	ValidFrom      time.Time `json:"valid_from"`
}

func (h *Handler) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	changes, err := ingest.DecodeChanges(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid change list",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	applied, err := h.history.ApplyAll(ctx, changes)
	if err != nil {
		h.writeError(ctx, w, err, "failed to apply changes")
		return
	}

	latest, err := h.history.Latest(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to load latest state")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ApplyResult{
		BatchesApplied: applied,
		ValidFrom:      latest.ValidFrom,
	})
}

// writeError logs server-side failures and maps the error onto an HTTP
// response. Domain codes carry their own status; anything uncoded is a 500.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, "date query parameter is required")
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeBadRequest, "invalid date %q, expected YYYY-MM-DD", raw)
	}
	return date, nil
}

func parseUnitKind(raw string) (models.UnitKind, error) {
	switch raw {
	case "region":
		return models.UnitKindRegion, nil
	case "district":
		return models.UnitKindDistrict, nil
	}
	return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown unit kind %q", raw)
}

func boolParam(raw string) bool {
	return raw == "true" || raw == "1"
}

func decodePairs(r *http.Request) ([]models.RDPair, error) {
	var pairs []models.RDPair
	if err := json.NewDecoder(r.Body).Decode(&pairs); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "request body is not a JSON pair list")
	}
	return pairs, nil
}
