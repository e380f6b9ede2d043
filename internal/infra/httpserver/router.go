package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appai "github.com/medphys/bulkcbct/internal/application/ai"
	appbatches "github.com/medphys/bulkcbct/internal/application/batches"
	domai "github.com/medphys/bulkcbct/internal/domain/ai"
	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
	"github.com/medphys/bulkcbct/internal/middleware"
	"github.com/medphys/bulkcbct/internal/report"
)

// ScanDefaults are the server-side fallbacks applied when a request
// omits scan options or the phantom model. Populated from config.
type ScanDefaults struct {
	Extensions     []string
	FollowSymlinks bool
	NestedSeries   bool
	Phantom        string
}

type Router struct {
	batchSvc *appbatches.Service
	aiSvc    *appai.Service
	defaults ScanDefaults
}

func NewRouter(batchSvc *appbatches.Service, aiSvc *appai.Service, defaults ScanDefaults, checkers map[string]middleware.HealthChecker) http.Handler {
	r := &Router{batchSvc: batchSvc, aiSvc: aiSvc, defaults: defaults}
	mux := chi.NewRouter()

	mux.Get("/health", middleware.HealthHandler(checkers))
	mux.Get("/readyz", middleware.ReadinessHandler)
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/phantoms", r.wrap(r.handlePhantoms))
		rt.Post("/scan", r.wrap(r.handleScan))
		rt.Post("/batches", r.wrap(r.handleTriggerBatch))
		rt.Get("/batches/latest", r.wrap(r.handleLatest))
		rt.Get("/batches/{id}", r.wrap(r.handleGet))
		rt.Get("/batches/{id}/report", r.wrap(r.handleReport))
		rt.Post("/batches/{id}/triage", r.wrap(r.handleTriage))
		rt.Get("/summary", r.wrap(r.handleSummary))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequestError marks caller mistakes so wrap can map them to 400.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return badRequestError{err: err} }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequestError
			switch {
			case errors.Is(err, sql.ErrNoRows), errors.Is(err, studies.ErrRootNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			case errors.Is(err, studies.ErrRootNotDirectory),
				errors.Is(err, studies.ErrUnknownPhantom),
				errors.As(err, &br):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// GET /v1/phantoms
func (r *Router) handlePhantoms(w http.ResponseWriter, req *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(studies.Phantoms())
}

// Flags are pointers so an omitted field can fall back to the
// configured default while an explicit false still overrides it.
type scanRequest struct {
	Root           string   `json:"root"`
	Extensions     []string `json:"extensions"`
	FollowSymlinks *bool    `json:"follow_symlinks"`
	NestedSeries   *bool    `json:"nested_series"`
}

func (b *scanRequest) validate() error {
	if err := middleware.ValidateRoot(b.Root); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateExtensions(b.Extensions); err != nil {
		return badRequest(err)
	}
	return nil
}

// options merges the request with the configured defaults.
func (b *scanRequest) options(d ScanDefaults) studies.ScanOptions {
	opts := studies.ScanOptions{
		Extensions:     b.Extensions,
		FollowSymlinks: d.FollowSymlinks,
		NestedSeries:   d.NestedSeries,
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = d.Extensions
	}
	if b.FollowSymlinks != nil {
		opts.FollowSymlinks = *b.FollowSymlinks
	}
	if b.NestedSeries != nil {
		opts.NestedSeries = *b.NestedSeries
	}
	return opts
}

// POST /v1/scan
// Builds the study inventory for a root without running any analysis.
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) error {
	var body scanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if err := body.validate(); err != nil {
		return err
	}

	inv, err := r.batchSvc.Scanner.Scan(body.Root, body.options(r.defaults))
	if err != nil {
		return err
	}

	doc, err := inv.ToJSON()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(doc)
	return err
}

// POST /v1/batches
// Body: scanRequest fields plus "phantom". The batch runs in the
// background so the analyzer (minutes per study) is not bound to the
// request context.
func (r *Router) handleTriggerBatch(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		scanRequest
		Phantom string `json:"phantom"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if err := body.validate(); err != nil {
		return err
	}

	phantom := body.Phantom
	if phantom == "" {
		phantom = r.defaults.Phantom
	}
	if err := middleware.ValidatePhantom(phantom); err != nil {
		return badRequest(err)
	}

	opts := body.options(r.defaults)
	cmd := appbatches.TriggerBatchCommand{
		Root:           body.Root,
		Phantom:        phantom,
		Extensions:     opts.Extensions,
		FollowSymlinks: opts.FollowSymlinks,
		NestedSeries:   opts.NestedSeries,
	}

	go func() {
		middleware.IncrementBatches()
		middleware.IncrementBatchesRunning()
		defer middleware.DecrementBatchesRunning()

		result, err := r.batchSvc.TriggerBatchUntilDone(cmd)
		if err != nil {
			log.Printf("background batch error root=%s phantom=%s: %v",
				cmd.Root, cmd.Phantom, err)
			return
		}

		middleware.AddStudiesAnalyzed(result.SuccessCount)
		middleware.AddStudiesFailed(result.FailureCount)
		log.Printf("batch finished id=%s studies=%d failed=%d report=%s",
			result.ID, result.StudyCount, result.FailureCount, result.ReportURL)
	}()

	resp := map[string]any{
		"status":   "queued",
		"root":     body.Root,
		"phantom":  phantom,
		"message":  "batch started in background",
		"queuedAt": time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(resp)
}

// GET /v1/batches/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	list, err := r.batchSvc.Latest(req.Context(), limit)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/batches/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateBatchID(id); err != nil {
		return badRequest(err)
	}

	batch, err := r.batchSvc.Get(req.Context(), domain.BatchID(id))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(batch)
}

// GET /v1/batches/{id}/report
// Re-renders the XML report from the stored batch. Rendering is
// deterministic, so this matches the copy uploaded at batch completion.
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateBatchID(id); err != nil {
		return badRequest(err)
	}

	batch, err := r.batchSvc.Get(req.Context(), domain.BatchID(id))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/xml")
	return report.WriteXML(w, batch)
}

// POST /v1/batches/{id}/triage
func (r *Router) handleTriage(w http.ResponseWriter, req *http.Request) error {
	if r.aiSvc == nil {
		return badRequest(errors.New("ai triage is not configured"))
	}

	id := chi.URLParam(req, "id")
	if err := middleware.ValidateBatchID(id); err != nil {
		return badRequest(err)
	}

	batch, err := r.batchSvc.Get(req.Context(), domain.BatchID(id))
	if err != nil {
		return err
	}

	guidance, err := r.aiSvc.Triage(req.Context(), batch)
	if err != nil {
		return err
	}

	// The model is instructed to emit JSON; fall back to a plain string
	// if it did not.
	var triage any = json.RawMessage(guidance)
	if !json.Valid([]byte(guidance)) {
		triage = guidance
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"batch_id": id,
		"triage":   triage,
	})
}

// GET /v1/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))
	days = middleware.ValidateDays(days)

	summary, err := r.batchSvc.Summary(req.Context(), days)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(summary)
}
