package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/engine"
	"github.com/rpattn/rentalreports/internal/middleware"
)

// Handler serves report results over HTTP.
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	// Ingest, when set, is mounted at POST /ingest.
	Ingest http.Handler
}

// NewRouter builds the HTTP API over the engine.
func NewRouter(eng *engine.Engine, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{engine: eng, logger: logger}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Content-Disposition"},
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(corsHandler.Handler)

	r.Get("/healthz", h.Health)
	r.Get("/reports", h.ListReports)
	r.Get("/reports/{name}", h.RunReport)
	r.Post("/reports/run", h.RunReports)
	r.Get("/views/{name}", h.GetView)
	r.Post("/views/{name}/refresh", h.RefreshView)
	if opts.Ingest != nil {
		r.Method(http.MethodPost, "/ingest", opts.Ingest)
	}
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reportInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Standing     bool            `json:"standing,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Columns      []domain.Column `json:"columns"`
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	cat := h.engine.Catalog()
	names := cat.Names()
	infos := make([]reportInfo, 0, len(names))
	for _, name := range names {
		report, ok := cat.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, reportInfo{
			Name:         name,
			Description:  report.Definition.Description,
			Standing:     report.Definition.Standing,
			Dependencies: report.Dependencies,
			Columns:      report.Output,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// RunReport runs one report; ?format=json|csv|xlsx|table selects the encoding.
func (h *Handler) RunReport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.engine.Run(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResults(w, r, format, FileName(name, format), result)
}

type runRequest struct {
	Reports []string `json:"reports"`
	Format  string   `json:"format"`
}

// RunReports runs the listed reports in one run, or every report when none are listed.
func (h *Handler) RunReports(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			return
		}
	}
	format, err := ParseFormat(req.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var results map[string]domain.ResultSet
	if len(req.Reports) == 0 {
		results, err = h.engine.RunAll(r.Context())
	} else {
		results, err = h.engine.RunMany(r.Context(), req.Reports...)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if format == FormatJSON {
		writeJSON(w, http.StatusOK, results)
		return
	}
	h.writeResults(w, r, format, FileName("reports", format), SortedResults(results)...)
}

func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snapshot, ok := h.engine.View(name)
	if !ok {
		http.Error(w, fmt.Sprintf("view %q has not been refreshed", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) RefreshView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.engine.Refresh(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	snapshot, _ := h.engine.View(name)
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) writeResults(w http.ResponseWriter, r *http.Request, format Format, fileName string, results ...domain.ResultSet) {
	var buf bytes.Buffer
	if err := Write(&buf, format, results...); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format == FormatCSV || format == FormatXLSX {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// StatusCode maps engine errors to HTTP statuses.
func StatusCode(err error) int {
	var (
		notFound   *domain.ReportNotFoundError
		timeout    *domain.TimeoutError
		execErr    *domain.ReportExecutionError
		validation *domain.ValidationError
		unknown    *domain.UnknownFieldError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &execErr):
		return http.StatusInternalServerError
	case errors.As(err, &validation), errors.As(err, &unknown):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("report request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
