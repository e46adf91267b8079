package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appanalysis "github.com/bryanwahyu/metro-bim/internal/application/analysis"
	appevidence "github.com/bryanwahyu/metro-bim/internal/application/evidence"
	appmodels "github.com/bryanwahyu/metro-bim/internal/application/models"
	"github.com/bryanwahyu/metro-bim/internal/application/worker"
	domai "github.com/bryanwahyu/metro-bim/internal/domain/ai"
	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/evidence"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
	"github.com/bryanwahyu/metro-bim/internal/domain/files"
	"github.com/bryanwahyu/metro-bim/internal/middleware"
)

// MaxUploadBytes bounds multipart uploads.
const MaxUploadBytes = 200 << 20

// Deps groups what the router needs. Failures and Health are optional;
// empty Origins allows every origin.
type Deps struct {
	Analyses   *appanalysis.Service
	Models     *appmodels.Service
	Evidence   *appevidence.Service
	Executor   *worker.Executor
	Failures   failures.Repository
	Health     map[string]middleware.HealthChecker
	UploadsDir string
	APIKeys    map[string]string
	Origins    []string
	RateLimit  RateLimit
	Log        logrus.FieldLogger
}

// RateLimit configures the per-client token bucket; zero Capacity disables it.
type RateLimit struct {
	Capacity   int
	RefillRate int // tokens per second
}

type Router struct {
	analyses *appanalysis.Service
	models   *appmodels.Service
	evidence *appevidence.Service
	exec     *worker.Executor
	failures failures.Repository
	uploads  string
	log      logrus.FieldLogger
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	r := &Router{
		analyses: d.Analyses,
		models:   d.Models,
		evidence: d.Evidence,
		exec:     d.Executor,
		failures: d.Failures,
		uploads:  d.UploadsDir,
		log:      d.Log,
	}
	origins := d.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware(d.Log))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(d.Health))
	mux.Get("/healthz", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(d.APIKeys))
		if d.RateLimit.Capacity > 0 {
			rt.Use(middleware.RateLimitMiddleware(d.RateLimit.Capacity, d.RateLimit.RefillRate))
		}

		rt.Post("/analyses", r.wrap(r.handleRunAnalysis))
		rt.Get("/analyses", r.wrap(r.handleListAnalyses))
		rt.Get("/analyses/{id}", r.wrap(r.handleGetAnalysis))
		rt.Post("/analyses/{id}/retry", r.wrap(r.handleRetryAnalysis))

		rt.Post("/projects/{project}/models", r.wrap(r.handleUploadModel))
		rt.Get("/models/{id}", r.wrap(r.handleGetModel))
		rt.Post("/models/{id}/ingest", r.wrap(r.handleIngestModel))

		rt.Post("/projects/{project}/evidence", r.wrap(r.handleRegisterEvidence))
		rt.Get("/evidence/{id}", r.wrap(r.handleGetEvidence))
		rt.Post("/evidence/{id}/analyze", r.wrap(r.handleAnalyzeEvidence))

		rt.Get("/failures/{entity}", r.wrap(r.handleListFailures))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks errors caused by the request itself.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func invalid(format string, args ...any) error {
	return badRequest{fmt.Errorf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br),
			errors.Is(err, analysis.ErrInvalidInput),
			errors.Is(err, bim.ErrInvalidInput),
			errors.Is(err, evidence.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, analysis.ErrNotFound),
			errors.Is(err, bim.ErrNotFound),
			errors.Is(err, evidence.ErrNotFound),
			errors.Is(err, files.ErrFileNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, analysis.ErrAlreadyCompleted),
			errors.Is(err, evidence.ErrStillProcessing):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, err)
		case errors.Is(err, worker.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err)
		default:
			r.log.WithError(err).WithField("path", req.URL.Path).Error("request failed")
			writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	_ = writeJSON(w, status, map[string]string{"error": err.Error()})
}

// submit hands a unit to the executor and keeps the running gauge in step.
func (r *Router) submit(unit failures.Unit, id string, task worker.Task) error {
	return r.exec.Submit(worker.Key{Unit: unit, EntityID: id}, func(ctx context.Context) error {
		middleware.IncrementUnitsRunning()
		defer middleware.DecrementUnitsRunning()
		return task(ctx)
	})
}

// POST /v1/analyses
// Runs synchronously; a failed run is still returned, with 502.
func (r *Router) handleRunAnalysis(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ProjectName    string `json:"project_name"`
		RequestedBy    string `json:"requested_by"`
		BimSourceURI   string `json:"bim_source_uri"`
		ImageSourceURI string `json:"image_source_uri"`
		Context        string `json:"context"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("invalid JSON body: %v", err)
	}
	for _, uri := range []string{body.BimSourceURI, body.ImageSourceURI} {
		if err := middleware.ValidateSourceURI(uri); err != nil {
			return badRequest{err}
		}
	}

	run, err := r.analyses.Execute(req.Context(), appanalysis.ExecuteCommand{
		ProjectName:    middleware.SanitizeString(body.ProjectName),
		RequestedBy:    middleware.SanitizeString(body.RequestedBy),
		BimSourceURI:   body.BimSourceURI,
		ImageSourceURI: body.ImageSourceURI,
		Context:        middleware.SanitizeString(body.Context),
	})
	middleware.RecordUnit(failures.UnitAnalysis, err)
	var ee *analysis.ExecutionError
	if errors.As(err, &ee) && run != nil {
		return writeJSON(w, http.StatusBadGateway, run)
	}
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, run)
}

// GET /v1/analyses?limit=20
func (r *Router) handleListAnalyses(w http.ResponseWriter, req *http.Request) error {
	limit, err := middleware.ParseLimit(req.URL.Query().Get("limit"))
	if err != nil {
		return badRequest{err}
	}
	list, err := r.analyses.ListRecent(req.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/analyses/{id}
func (r *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) error {
	run, err := r.analyses.Get(req.Context(), analysis.RunID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run)
}

// POST /v1/analyses/{id}/retry
// Body (optional): {"context": "..."}
func (r *Router) handleRetryAnalysis(w http.ResponseWriter, req *http.Request) error {
	id := analysis.RunID(chi.URLParam(req, "id"))
	var body struct {
		Context string `json:"context"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return invalid("invalid JSON body: %v", err)
		}
	}
	run, err := r.analyses.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if !run.Retryable() {
		return fmt.Errorf("%w: %s", analysis.ErrAlreadyCompleted, id)
	}
	projectContext := middleware.SanitizeString(body.Context)
	err = r.submit(failures.UnitAnalysis, string(id), func(ctx context.Context) error {
		_, err := r.analyses.Retry(ctx, id, projectContext)
		return err
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued", "queuedAt": time.Now().UTC()})
}

// POST /v1/projects/{project}/models  (multipart, field "file")
func (r *Router) handleUploadModel(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	if err := middleware.ValidateProjectID(project); err != nil {
		return badRequest{err}
	}
	rel, err := r.saveUpload(w, req, project, middleware.ValidateModelFile)
	if err != nil {
		return err
	}
	doc, err := r.models.Upload(req.Context(), appmodels.UploadCommand{ProjectID: project, FilePath: rel})
	if err != nil {
		return err
	}
	if err := r.queueIngest(doc.ID, rel); err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, doc)
}

// GET /v1/models/{id}
func (r *Router) handleGetModel(w http.ResponseWriter, req *http.Request) error {
	view, err := r.models.Get(req.Context(), bim.DocumentID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

// POST /v1/models/{id}/ingest
// Body: {"file_path": "<path under the uploads dir>"}
func (r *Router) handleIngestModel(w http.ResponseWriter, req *http.Request) error {
	id := bim.DocumentID(chi.URLParam(req, "id"))
	var body struct {
		FilePath string `json:"file_path"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("invalid JSON body: %v", err)
	}
	if err := middleware.ValidateModelFile(body.FilePath); err != nil {
		return badRequest{err}
	}
	if err := middleware.ValidatePath(body.FilePath); err != nil {
		return badRequest{err}
	}
	view, err := r.models.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if err := r.queueIngest(id, body.FilePath); err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, view.Document)
}

func (r *Router) queueIngest(id bim.DocumentID, path string) error {
	return r.submit(failures.UnitIngestion, string(id), func(ctx context.Context) error {
		_, err := r.models.Ingest(ctx, id, path)
		return err
	})
}

// POST /v1/projects/{project}/evidence  (multipart, fields "file" and "description")
func (r *Router) handleRegisterEvidence(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	if err := middleware.ValidateProjectID(project); err != nil {
		return badRequest{err}
	}
	rel, err := r.saveUpload(w, req, project, middleware.ValidateImageFile)
	if err != nil {
		return err
	}
	e, err := r.evidence.Register(req.Context(), appevidence.RegisterCommand{
		ProjectID:   project,
		FilePath:    rel,
		Description: middleware.SanitizeString(req.FormValue("description")),
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, e)
}

// GET /v1/evidence/{id}
func (r *Router) handleGetEvidence(w http.ResponseWriter, req *http.Request) error {
	view, err := r.evidence.Get(req.Context(), evidence.ID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

// POST /v1/evidence/{id}/analyze
// Queues analysis of the registered photo; completed or failed items are re-run.
func (r *Router) handleAnalyzeEvidence(w http.ResponseWriter, req *http.Request) error {
	id := evidence.ID(chi.URLParam(req, "id"))
	view, err := r.evidence.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if view.Status == evidence.StatusProcessing && r.exec.InFlight(worker.Key{Unit: failures.UnitEvidence, EntityID: string(id)}) > 0 {
		return fmt.Errorf("%w: %s", evidence.ErrStillProcessing, id)
	}
	// a fresh processing item is refused here, not inside the queued unit
	if _, err := r.evidence.Requeue(req.Context(), id); err != nil {
		return err
	}
	path := view.FilePath
	err = r.submit(failures.UnitEvidence, string(id), func(ctx context.Context) error {
		_, err := r.evidence.Analyze(ctx, id, path)
		return err
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued", "queuedAt": time.Now().UTC()})
}

// GET /v1/failures/{entity}?limit=20
func (r *Router) handleListFailures(w http.ResponseWriter, req *http.Request) error {
	entity := chi.URLParam(req, "entity")
	if err := middleware.ValidateID(entity); err != nil {
		return badRequest{err}
	}
	if r.failures == nil {
		return writeJSON(w, http.StatusOK, []*failures.Entry{})
	}
	limit, err := middleware.ParseLimit(req.URL.Query().Get("limit"))
	if err != nil {
		return badRequest{err}
	}
	list, err := r.failures.ListByEntity(req.Context(), entity, appanalysis.ClampLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// saveUpload stores the multipart "file" under <uploads>/<project>/ and returns
// its path relative to the uploads dir.
func (r *Router) saveUpload(w http.ResponseWriter, req *http.Request, project string, validate func(string) error) (string, error) {
	req.Body = http.MaxBytesReader(w, req.Body, MaxUploadBytes)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		return "", invalid("invalid multipart form: %v", err)
	}
	src, hdr, err := req.FormFile("file")
	if err != nil {
		return "", invalid("file is required: %v", err)
	}
	defer src.Close()

	name := filepath.Base(hdr.Filename)
	if err := validate(name); err != nil {
		return "", badRequest{err}
	}
	rel := filepath.Join(project, uuid.New().String()+"-"+name)
	if err := writeFile(filepath.Join(r.uploads, rel), src); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return rel, nil
}

func writeFile(dst string, src multipart.File) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
