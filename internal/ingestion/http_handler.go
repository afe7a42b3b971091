package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const multipartMemory = 32 << 20

// Handler exposes ingestion over HTTP.
type Handler struct {
	service        *Service
	maxUploadBytes int64
	logger         zerolog.Logger
}

// NewHTTPHandler wraps the service. Uploads larger than maxUploadBytes are
// rejected.
func NewHTTPHandler(service *Service, maxUploadBytes int64, logger zerolog.Logger) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Routes mounts the ingestion endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.handleSubmit)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/logs", h.handleLogs)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	upload, err := spoolUpload(file)
	if err != nil {
		h.logger.Error().Err(err).Str("source_file", header.Filename).Msg("failed to spool upload")
		h.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job, err := h.service.Submit(r.Context(), Request{
		FileName: header.Filename,
		Data:     upload,
	})
	if err != nil {
		if errors.Is(err, domain.ErrJobConflict) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("source_file", header.Filename).Msg("failed to admit ingestion job")
		h.writeError(w, http.StatusInternalServerError, "failed to start ingestion")
		return
	}

	h.writeJSON(w, http.StatusAccepted, job)
}

// spooledUpload is an upload copied to a private temp file so background
// processing outlives the request. Close removes the file.
type spooledUpload struct {
	*os.File
}

func spoolUpload(src io.Reader) (*spooledUpload, error) {
	tmp, err := os.CreateTemp("", "prodfacts-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	upload := &spooledUpload{File: tmp}

	if _, err := io.Copy(tmp, src); err != nil {
		_ = upload.Close()
		return nil, fmt.Errorf("failed to copy upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = upload.Close()
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	return upload, nil
}

func (u *spooledUpload) Close() error {
	closeErr := u.File.Close()
	if err := os.Remove(u.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return closeErr
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	jobs, err := h.service.Jobs(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list ingestion jobs")
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	logs, err := h.service.Logs(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrJobNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error().Err(err).Msg("ingestion lookup failed")
	h.writeError(w, http.StatusInternalServerError, "lookup failed")
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}
