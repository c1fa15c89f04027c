// Package api provides HTTP handlers for the experiment analysis REST API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"exphub/internal/domain"
	"exphub/internal/middleware"
	"exphub/internal/runner"
	"exphub/internal/service/experiment"
)

// Handler exposes the analysis pipeline over HTTP.
type Handler struct {
	svc         *experiment.Service
	experiments domain.ExperimentRepository
	metrics     domain.MetricRepository
	logger      *slog.Logger
}

// NewHandler creates a Handler with its service dependencies.
func NewHandler(svc *experiment.Service, experiments domain.ExperimentRepository, metrics domain.MetricRepository, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, experiments: experiments, metrics: metrics, logger: logger}
}

// Routes mounts all API routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/experiments", h.createExperiment)
		r.Get("/experiments/{id}", h.getExperiment)
		r.Post("/experiments/{id}/snapshots", h.createSnapshot)

		r.Get("/snapshots/{id}", h.getSnapshot)
		r.Get("/snapshots/{id}/status", h.snapshotStatus)
		r.Post("/snapshots/{id}/cancel", h.cancelSnapshot)

		r.Post("/metrics", h.createMetric)
		r.Get("/metrics/{id}", h.getMetric)
		r.Post("/metrics/{id}/analysis", h.analyzeMetric)
		r.Get("/metric-analyses/{id}/status", h.metricAnalysisStatus)
		r.Post("/metric-analyses/{id}/cancel", h.cancelMetricAnalysis)

		r.Post("/datasources/{id}/past-experiments", h.importPastExperiments)
		r.Get("/past-experiments/{id}/status", h.pastExperimentsStatus)
		r.Post("/past-experiments/{id}/cancel", h.cancelPastExperiments)

		r.Post("/datasources/{id}/segment-comparisons", h.compareSegments)
		r.Get("/segment-comparisons/{id}/status", h.segmentComparisonStatus)
		r.Post("/segment-comparisons/{id}/cancel", h.cancelSegmentComparison)
	})
}

// --- responses ---

// statusResponse is the poll envelope. Query failures surface in queryStatus,
// never as a non-200 response.
type statusResponse struct {
	Status      int                `json:"status"`
	QueryStatus domain.QueryStatus `json:"queryStatus"`
	Elapsed     float64            `json:"elapsed"`
	Finished    int                `json:"finished"`
	Total       int                `json:"total"`
	Error       string             `json:"error,omitempty"`
	Result      interface{}        `json:"result,omitempty"`
}

func newStatusResponse(st *runner.Status, storedErr string, result interface{}) statusResponse {
	return statusResponse{
		Status:      http.StatusOK,
		QueryStatus: st.QueryStatus,
		Elapsed:     st.Elapsed.Seconds(),
		Finished:    st.Finished,
		Total:       st.Total,
		Error:       storedErr,
		Result:      result,
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.logger.Warn("encode response", "error", err)
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.respond(w, status, map[string]interface{}{
		"status":  status,
		"message": err.Error(),
	})
}

func (h *Handler) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

func org(r *http.Request) string {
	o, _ := middleware.OrganizationFromContext(r.Context())
	return o
}

// --- experiments and metrics registry ---

func (h *Handler) createExperiment(w http.ResponseWriter, r *http.Request) {
	var exp domain.Experiment
	if err := h.decode(r, &exp); err != nil {
		h.respondError(w, err)
		return
	}
	exp.Organization = org(r)
	created, err := h.experiments.Create(r.Context(), &exp)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, created)
}

func (h *Handler) getExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.experiments.GetByID(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, exp)
}

func (h *Handler) createMetric(w http.ResponseWriter, r *http.Request) {
	var m domain.Metric
	if err := h.decode(r, &m); err != nil {
		h.respondError(w, err)
		return
	}
	m.Organization = org(r)
	created, err := h.metrics.Create(r.Context(), &m)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, created)
}

func (h *Handler) getMetric(w http.ResponseWriter, r *http.Request) {
	m, err := h.metrics.GetByID(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, m)
}

// --- snapshots ---

type createSnapshotRequest struct {
	Phase     int    `json:"phase"`
	Dimension string `json:"dimension"`
	UseCache  *bool  `json:"useCache"`
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	snap, err := h.svc.CreateSnapshot(r.Context(), org(r), chi.URLParam(r, "id"), experiment.SnapshotOptions{
		Phase:     req.Phase,
		Dimension: req.Dimension,
		UseCache:  useCache,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, snap)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	_, snap, err := h.svc.SnapshotStatus(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, snap)
}

func (h *Handler) snapshotStatus(w http.ResponseWriter, r *http.Request) {
	st, snap, err := h.svc.SnapshotStatus(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	var result interface{}
	if snap.Results != nil {
		result = snap.Results
	}
	h.respond(w, http.StatusOK, newStatusResponse(st, snap.Error, result))
}

func (h *Handler) cancelSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelSnapshot(r.Context(), org(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"status": http.StatusOK})
}

// --- metric analyses ---

type analyzeRequest struct {
	UseCache *bool `json:"useCache"`
}

func (h *Handler) analyzeMetric(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	analysis, err := h.svc.AnalyzeMetric(r.Context(), org(r), chi.URLParam(r, "id"), useCache)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, analysis)
}

func (h *Handler) metricAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	st, analysis, err := h.svc.MetricAnalysisStatus(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	var result interface{}
	if analysis.Analysis != nil {
		result = analysis.Analysis
	}
	h.respond(w, http.StatusOK, newStatusResponse(st, analysis.Error, result))
}

func (h *Handler) cancelMetricAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelMetricAnalysis(r.Context(), org(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"status": http.StatusOK})
}

// --- past experiments ---

func (h *Handler) importPastExperiments(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	imp, err := h.svc.ImportPastExperiments(r.Context(), org(r), chi.URLParam(r, "id"), useCache)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, imp)
}

func (h *Handler) pastExperimentsStatus(w http.ResponseWriter, r *http.Request) {
	st, imp, err := h.svc.PastExperimentsStatus(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	var result interface{}
	if imp.Experiments != nil {
		result = imp.Experiments
	}
	h.respond(w, http.StatusOK, newStatusResponse(st, imp.Error, result))
}

func (h *Handler) cancelPastExperiments(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelPastExperiments(r.Context(), org(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"status": http.StatusOK})
}

// --- segment comparisons ---

type compareSegmentsRequest struct {
	Segment1 string `json:"segment1"`
	Segment2 string `json:"segment2"`
	UseCache *bool  `json:"useCache"`
}

func (h *Handler) compareSegments(w http.ResponseWriter, r *http.Request) {
	var req compareSegmentsRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	sc, err := h.svc.CompareSegments(r.Context(), org(r), chi.URLParam(r, "id"), req.Segment1, req.Segment2, useCache)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, sc)
}

func (h *Handler) segmentComparisonStatus(w http.ResponseWriter, r *http.Request) {
	st, sc, err := h.svc.SegmentComparisonStatus(r.Context(), org(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	var result interface{}
	if sc.Results != nil {
		result = sc.Results
	}
	h.respond(w, http.StatusOK, newStatusResponse(st, sc.Error, result))
}

func (h *Handler) cancelSegmentComparison(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelSegmentComparison(r.Context(), org(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"status": http.StatusOK})
}
