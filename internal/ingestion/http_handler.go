package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rpattn/rentalreports/internal/domain"
)

// Handler replaces one table of the file store from an uploaded CSV or XLSX file.
type Handler struct {
	service *Service
	// OnIngest runs after a successful upload, for example to refresh standing views.
	OnIngest func(r *http.Request, summary Summary)
}

// NewHTTPHandler wraps the service with a POST endpoint taking a multipart "file"
// and a "table" form value.
func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	table := strings.TrimSpace(r.FormValue("table"))
	if table == "" {
		http.Error(w, "table is required", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Ingest(r.Context(), Request{
		Table:    table,
		FileName: header.Filename,
		Data:     bytes.NewReader(data),
	})
	if err != nil {
		status := http.StatusBadRequest
		var unknown *domain.UnknownFieldError
		if errors.As(err, &unknown) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	if h.OnIngest != nil {
		h.OnIngest(r, summary)
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
