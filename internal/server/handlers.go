package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/productshot-api/internal/compose"
	"github.com/maauso/productshot-api/internal/job"
	"github.com/maauso/productshot-api/internal/perturb"
	"github.com/maauso/productshot-api/internal/video"
)

// Form defaults for POST /composites.
const (
	DefaultProductMaxEdge = 800
	DefaultOutputSize     = 800
	DefaultFormat         = "jpeg"
	DefaultMaskColor      = "#ffffff"
	DefaultMaskOpacity    = 30
	DefaultLogo           = "black"
	DefaultPlacement      = "center"
)

// Form defaults for POST /perturbations.
const (
	DefaultCopies = 5
	DefaultPixels = 50
)

// DefaultMaxUploadBytes bounds a multipart request body.
const DefaultMaxUploadBytes int64 = 512 << 20

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temp files.
const multipartMemory = 32 << 20

var errInvalidField = errors.New("invalid form field")

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *job.Service
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of multipart request bodies.
// Non-positive values keep the default.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateComposite handles POST /composites requests.
//
// The multipart form carries one or more "backgrounds" and "products" file
// parts plus optional scalar fields; every background is composited with
// every product.
func (h *Handlers) CreateComposite(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form, err := compositeForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	if !h.validate(w, form) {
		return
	}

	backgrounds, closeBg, err := openParts(r.MultipartForm.File["backgrounds"])
	if err != nil {
		h.writeServiceError(w, err, "failed to read backgrounds")
		return
	}
	defer closeBg()
	products, closeProducts, err := openParts(r.MultipartForm.File["products"])
	if err != nil {
		h.writeServiceError(w, err, "failed to read products")
		return
	}
	defer closeProducts()

	format, err := compose.ParseFormat(form.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	placement, err := compose.ParsePlacement(form.Placement)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	logo, err := compose.ParseLogoVariant(form.Logo)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	maskColor, err := parseHexColor(form.MaskColor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.CreateCompositeJob(r.Context(), job.CompositeInput{
		Backgrounds:        backgrounds,
		Products:           products,
		ProductMaxEdge:     form.ProductMaxEdge,
		OutputSize:         form.OutputSize,
		Format:             format,
		MaskEnabled:        form.MaskEnabled,
		MaskColor:          maskColor,
		MaskOpacityPercent: form.MaskOpacity,
		Logo:               logo,
		Placement:          placement,
		PushToRemote:       form.PushToS3,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create job")
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("kind", string(created.Kind)),
		slog.Int("backgrounds", form.Backgrounds),
		slog.Int("products", form.Products),
	)
	writeJSON(w, http.StatusAccepted, createdResponse(created))
}

// CreatePerturbation handles POST /perturbations requests.
func (h *Handlers) CreatePerturbation(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := PerturbForm{}
	var err error
	if form.Copies, err = intField(r, "copies", DefaultCopies); err == nil {
		if form.Pixels, err = intField(r, "pixels", DefaultPixels); err == nil {
			form.PushToS3, err = boolField(r, "push_to_s3")
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	if !h.validate(w, form) {
		return
	}

	upload, closeFn, err := singlePart(r, "image")
	if err != nil {
		h.writeServiceError(w, err, "failed to read image")
		return
	}
	defer closeFn()

	created, err := h.service.CreatePerturbJob(r.Context(), job.PerturbInput{
		Image:         upload,
		Copies:        form.Copies,
		PixelsPerCopy: form.Pixels,
		PushToRemote:  form.PushToS3,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create job")
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("kind", string(created.Kind)),
		slog.Int("copies", form.Copies),
		slog.Int("pixels", form.Pixels),
	)
	writeJSON(w, http.StatusAccepted, createdResponse(created))
}

// CreateVideo handles POST /videos requests.
func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	push, err := boolField(r, "push_to_s3")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	upload, closeFn, err := singlePart(r, "video")
	if err != nil {
		h.writeServiceError(w, err, "failed to read video")
		return
	}
	defer closeFn()

	if !video.IsSupportedContainer(upload.Name) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported video container, expected one of %s", strings.Join(video.SupportedContainers, ", ")),
			"UNSUPPORTED_FORMAT")
		return
	}

	created, err := h.service.CreateVideoJob(r.Context(), job.VideoInput{
		Video:        upload,
		PushToRemote: push,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create job")
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("kind", string(created.Kind)),
		slog.String("video", upload.Name),
	)
	writeJSON(w, http.StatusAccepted, createdResponse(created))
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(found))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list jobs")
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadJob handles GET /jobs/{id}/download requests by streaming the
// local artifact of a completed job.
func (h *Handlers) DownloadJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	found, rc, err := h.service.OpenArtifact(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, "failed to open artifact")
		return
	}
	defer rc.Close()

	contentType := found.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if found.DownloadName != "" {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": found.DownloadName}))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("artifact download interrupted",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteJob handles DELETE /jobs/{id} requests. A running job is cancelled
// first.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", h.maxUploadBytes), "PAYLOAD_TOO_LARGE")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "PAYLOAD_TOO_LARGE")
			return false
		}
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return false
	}
	return true
}

func (h *Handlers) validate(w http.ResponseWriter, v any) bool {
	if err := h.validator.Struct(v); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP status codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobNotReady):
		writeError(w, http.StatusConflict, err.Error(), "JOB_NOT_READY")
	case errors.Is(err, job.ErrNoArtifact):
		writeError(w, http.StatusNotFound, err.Error(), "ARTIFACT_NOT_FOUND")
	case errors.Is(err, job.ErrNoInput):
		writeError(w, http.StatusBadRequest, err.Error(), "MISSING_FILE")
	case errors.Is(err, video.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_FORMAT")
	case errors.Is(err, compose.ErrEmptyBatch),
		errors.Is(err, compose.ErrInvalidOutputSize),
		errors.Is(err, compose.ErrInvalidProductEdge),
		errors.Is(err, compose.ErrInvalidMaskOpacity),
		errors.Is(err, compose.ErrUnsupportedFormat),
		errors.Is(err, perturb.ErrInvalidCopies),
		errors.Is(err, perturb.ErrInvalidPixelCount):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error(fallback,
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, fallback, "INTERNAL_ERROR")
	}
}

func compositeForm(r *http.Request) (CompositeForm, error) {
	form := CompositeForm{
		Backgrounds: len(r.MultipartForm.File["backgrounds"]),
		Products:    len(r.MultipartForm.File["products"]),
		Format:      stringField(r, "format", DefaultFormat),
		MaskColor:   strings.ToLower(stringField(r, "mask_color", DefaultMaskColor)),
		Logo:        strings.ToLower(stringField(r, "logo", DefaultLogo)),
		Placement:   strings.ToLower(stringField(r, "placement", DefaultPlacement)),
	}
	form.Format = strings.ToLower(form.Format)

	var err error
	if form.ProductMaxEdge, err = intField(r, "product_max_edge", DefaultProductMaxEdge); err != nil {
		return form, err
	}
	if form.OutputSize, err = intField(r, "output_size", DefaultOutputSize); err != nil {
		return form, err
	}
	if form.MaskOpacity, err = intField(r, "mask_opacity", DefaultMaskOpacity); err != nil {
		return form, err
	}
	if form.MaskEnabled, err = boolField(r, "mask_enabled"); err != nil {
		return form, err
	}
	if form.PushToS3, err = boolField(r, "push_to_s3"); err != nil {
		return form, err
	}
	return form, nil
}

func stringField(r *http.Request, name, def string) string {
	if v := strings.TrimSpace(r.FormValue(name)); v != "" {
		return v
	}
	return def
}

func intField(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errInvalidField, name)
	}
	return n, nil
}

func boolField(r *http.Request, name string) (bool, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return false, nil
	}
	if strings.EqualFold(v, "on") {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errInvalidField, name)
	}
	return b, nil
}

// parseHexColor parses a #rrggbb string into an opaque color.
func parseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("%w: mask_color must look like #rrggbb", errInvalidField)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: mask_color must look like #rrggbb", errInvalidField)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// openParts opens every file part. The returned func closes them.
func openParts(headers []*multipart.FileHeader) ([]job.Upload, func(), error) {
	uploads := make([]job.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		files = append(files, f)
		uploads = append(uploads, job.Upload{Name: fh.Filename, Body: f})
	}
	return uploads, closeAll, nil
}

func singlePart(r *http.Request, field string) (job.Upload, func(), error) {
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return job.Upload{}, func() {}, fmt.Errorf("%w: %s file part is required", job.ErrNoInput, field)
	}
	uploads, closeFn, err := openParts(headers[:1])
	if err != nil {
		return job.Upload{}, closeFn, err
	}
	return uploads[0], closeFn, nil
}

func createdResponse(j *job.Job) CreateJobResponse {
	return CreateJobResponse{
		ID:     j.ID,
		Kind:   string(j.Kind),
		Status: string(j.GetStatus()),
	}
}

func jobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Kind:      string(j.Kind),
		Status:    string(j.Status),
		Progress:  j.Progress,
		Error:     j.Error,
		Warnings:  j.Warnings,
		URL:       j.URL,
		CreatedAt: j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	if j.Status == job.StatusCompleted && j.OutputPath != "" {
		resp.DownloadURL = "/jobs/" + j.ID + "/download"
	}
	if s := j.Summary; s != nil {
		summary := &SummaryJSON{
			Total:         s.Total,
			Succeeded:     s.Succeeded,
			Entries:       s.Entries,
			FramesRemoved: s.FramesRemoved,
			FramesWritten: s.FramesWritten,
			TotalFrames:   s.TotalFrames,
			FPS:           s.FPS,
			Width:         s.Width,
			Height:        s.Height,
			HasAudio:      s.HasAudio,
			Remediation:   s.Remediation,
		}
		for _, f := range s.Failed {
			summary.Failed = append(summary.Failed, FailedItemJSON(f))
		}
		resp.Summary = summary
	}
	return resp
}
