package handler

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zynqcloud/go-attachments/internal/compress"
	"github.com/zynqcloud/go-attachments/internal/store"
)

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	StoragePath string               `json:"storage_path"`
	Size        int64                `json:"size"`
	Compression *CompressionResponse `json:"compression,omitempty"`
}

// CompressionResponse summarises the post-upload compression run.
type CompressionResponse struct {
	Outcome      compress.Outcome `json:"outcome"`
	OriginalSize int64            `json:"original_size"`
	NewSize      int64            `json:"new_size"`
}

// Upload stores one attachment for an operation.
//
// Form fields:
//
//	file    the attachment; only its extension survives in the stored name
//	entity  facility the operation belongs to, e.g. "Albergaria (ETAR)"
//
// The stored file is compressed in the same request when enabled. A
// compression failure never fails the upload.
func (h *Handler) Upload(c *gin.Context) {
	h.metrics.uploads.Inc()
	operationID := c.Param("operationId")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			h.metrics.uploadsFailed.WithLabelValues("too_large").Inc()
			writeError(c, http.StatusRequestEntityTooLarge, "file too large")
		case errors.Is(err, http.ErrMissingFile):
			h.metrics.uploadsFailed.WithLabelValues("no_file").Inc()
			writeError(c, http.StatusBadRequest, store.ErrNoFile.Error())
		default:
			h.metrics.uploadsFailed.WithLabelValues("bad_request").Inc()
			writeError(c, http.StatusBadRequest, "invalid multipart body")
		}
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.metrics.uploadsFailed.WithLabelValues("bad_request").Inc()
		writeError(c, http.StatusBadRequest, "unreadable file part")
		return
	}
	defer f.Close()

	rel, err := h.store.Persist(f, fh.Filename, operationID, c.PostForm("entity"))
	if err != nil {
		h.metrics.uploadsFailed.WithLabelValues(reason(err)).Inc()
		h.fail(c, "upload", err, zap.String("operation_id", operationID))
		return
	}

	resp := UploadResponse{StoragePath: rel, Size: fh.Size}
	if h.cfg.Compress.Enabled && h.pipeline != nil {
		resp = h.compressStored(resp)
	}

	h.metrics.bytesWritten.Add(float64(resp.Size))
	c.JSON(http.StatusCreated, resp)
}

// compressStored runs the pipeline on a freshly stored file and folds the result
// into the response. The public path follows any extension change.
func (h *Handler) compressStored(resp UploadResponse) UploadResponse {
	abs, err := h.store.Abs(resp.StoragePath)
	if err != nil {
		h.logger.Warn("compression skipped", zap.String("path", resp.StoragePath), zap.Error(err))
		return resp
	}

	res := h.pipeline.Process(abs)
	h.metrics.observeCompression(res)

	if res.FinalPath != abs {
		resp.StoragePath = path.Join(path.Dir(resp.StoragePath), filepath.Base(res.FinalPath))
	}
	if res.Outcome == compress.OutcomeCompressed {
		resp.Size = res.NewSize
	}
	resp.Compression = &CompressionResponse{
		Outcome:      res.Outcome,
		OriginalSize: res.OriginalSize,
		NewSize:      res.NewSize,
	}
	return resp
}

// Download streams a stored attachment. When the stored name differs from
// the requested one, X-Normalized-Filename carries the served name.
func (h *Handler) Download(c *gin.Context) {
	att, err := h.store.Resolve(c.Param("entity"), c.Param("year"), c.Param("month"), c.Param("filename"))
	if err != nil {
		h.metrics.downloads.WithLabelValues(reason(err)).Inc()
		h.fail(c, "download", err)
		return
	}
	defer att.Close()

	result := "served"
	if att.Normalized {
		result = "normalized"
		c.Header("X-Normalized-Filename", att.Name)
	}
	h.metrics.downloads.WithLabelValues(result).Inc()

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Content-Type", store.ContentType(att.File))
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": att.Name}))
	http.ServeContent(c.Writer, c.Request, att.Name, att.ModTime, att.File)
}

// Delete permanently removes a stored attachment.
func (h *Handler) Delete(c *gin.Context) {
	err := h.store.Remove(c.Param("entity"), c.Param("year"), c.Param("month"), c.Param("filename"))
	if err != nil {
		h.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail logs err with its server-side detail and answers with the status for
// its kind. The response body never carries filesystem paths.
func (h *Handler) fail(c *gin.Context, op string, err error, fields ...zap.Field) {
	status := statusFor(err)
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	c.Error(err) //nolint:errcheck

	var serr *store.Error
	msg := http.StatusText(status)
	if errors.As(err, &serr) {
		msg = serr.Kind.Error()
	}
	writeError(c, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrNoFile):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// reason is the metric label for err.
func reason(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return "invalid"
	case errors.Is(err, store.ErrNoFile):
		return "no_file"
	case errors.Is(err, store.ErrPermission):
		return "forbidden"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrDirectory):
		return "directory"
	default:
		return "save"
	}
}
