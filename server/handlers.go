package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Form limits for POST /objects
const (
	fileField            = "file"
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	multipartMemory      = 32 << 20
)

// Handler serves the objects HTTP API
type Handler struct {
	service        *ObjectService
	logger         logrus.FieldLogger
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	ready          func(ctx context.Context) error
	maxUploadBytes int64
	apiDoc         *openapi3.T
}

// HandlerOptions configures the optional parts of a Handler
type HandlerOptions struct {
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
	Ready          func(ctx context.Context) error
	MaxUploadBytes int64
}

// NewHandler creates the HTTP layer over service
func NewHandler(service *ObjectService, logger logrus.FieldLogger, opts HandlerOptions) *Handler {
	return &Handler{
		service:        service,
		logger:         logger,
		metrics:        opts.Metrics,
		gatherer:       opts.Gatherer,
		ready:          opts.Ready,
		maxUploadBytes: opts.MaxUploadBytes,
		apiDoc:         newAPIDocument(),
	}
}

// Router returns the routes of the API
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.handleHealth)
	r.Get("/api", h.handleAPIDoc)
	r.Get("/api-json", h.handleAPIDoc)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/objects", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleDelete)
	})

	return r
}

// handleHealth handles the health endpoint
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WithError(err).Warn("health check failed")
			http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleAPIDoc serves the OpenAPI document
func (h *Handler) handleAPIDoc(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.apiDoc)
}

// handleCreate handles POST /objects
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "request must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	in, err := readCreateForm(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	created, err := h.service.CreateObject(r.Context(), *in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// readCreateForm validates the form fields and extracts the uploaded file.
// A missing file yields empty image data, which the service rejects.
func readCreateForm(r *http.Request) (*CreateObjectInput, error) {
	title := r.FormValue("title")
	if strings.TrimSpace(title) == "" {
		return nil, newError(ErrValidation, nil, "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, newError(ErrValidation, nil, "title must be at most %d characters", maxTitleLength)
	}

	description := r.FormValue("description")
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, newError(ErrValidation, nil, "description must be at most %d characters", maxDescriptionLength)
	}

	in := &CreateObjectInput{
		Title:       title,
		Description: description,
	}

	file, header, err := r.FormFile(fileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return in, nil
		}
		return nil, newError(ErrValidation, err, "invalid file upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, newError(ErrValidation, err, "failed to read uploaded file")
	}

	in.ImageData = data
	in.ImageContentType = header.Header.Get("Content-Type")
	in.ImageFilename = header.Filename

	return in, nil
}

// handleList handles GET /objects
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	objects, err := h.service.ListObjects(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, objects)
}

// handleGet handles GET /objects/{id}
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	object, err := h.service.GetObject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, object)
}

// handleDelete handles DELETE /objects/{id}
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DeleteObject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps an error kind to its status code
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		h.writeError(w, http.StatusBadRequest, clientMessage(err, "bad request"))
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, clientMessage(err, "not found"))
	default:
		h.writeError(w, http.StatusInternalServerError, clientMessage(err, "internal server error"))
	}
}

// errorBody is the JSON body of every error response
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorBody{
		StatusCode: status,
		Message:    message,
		Error:      http.StatusText(status),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).WithField("status", status).Debug("failed to write response body")
	}
}
