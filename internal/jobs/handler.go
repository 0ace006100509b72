package jobs

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docbrief-backend/internal/admission"
	"docbrief-backend/internal/parse"
	"docbrief-backend/internal/progress"
	"docbrief-backend/internal/shared/server/middleware"
	"docbrief-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the brief pipeline service.
type Handler struct {
	Svc   *Service
	Polls *progress.PollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, polls *progress.PollLimiter) *Handler {
	return &Handler{Svc: svc, Polls: polls}
}

// RegisterRoutes attaches brief routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/briefs", h.submit)
	rg.GET("/briefs", h.list)
	rg.GET("/briefs/:id", h.get)
	rg.GET("/briefs/:id/progress", h.progress)
	rg.POST("/briefs/:id/retry", h.retry)
}

func (h *Handler) submit(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fileHeader.Size > maxDocumentBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "too_large", "document is too large", nil)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read file", nil)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read file", nil)
		return
	}

	job, err := h.Svc.Submit(WithRequestID(c.Request.Context(), c.GetString("requestId")), SubmitInput{
		SourceKey: c.ClientIP(),
		Identity:  identity,
		FileName:  fileHeader.Filename,
		MimeType:  fileHeader.Header.Get("Content-Type"),
		Data:      data,
	})
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"briefId":      job.ID,
		"stage":        job.Stage,
		"sectionCount": job.SectionCount,
		"costCredits":  job.CostCredits,
	})
}

func (h *Handler) writeSubmitError(c *gin.Context, err error) {
	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		writeDenied(c, denied)
	case errors.Is(err, parse.ErrUnsupported):
		respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_type", "document type is not supported", nil)
	case errors.Is(err, parse.ErrEmptyDocument):
		respond.Error(c, http.StatusBadRequest, "validation_error", "document has no readable text", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to submit document", nil)
	}
}

func writeDenied(c *gin.Context, denied *DeniedError) {
	if denied.Reason == admission.ReasonInsufficientFunds {
		respond.Error(c, http.StatusPaymentRequired, "insufficient_funds", "not enough credits for this brief", nil)
		return
	}
	retryAfter := int(denied.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down", gin.H{
		"retryAfterSeconds": retryAfter,
	})
}

func (h *Handler) get(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)
	briefID := c.Param("id")
	if briefID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "brief id is required", nil)
		return
	}

	job, rows, err := h.Svc.Get(c.Request.Context(), identity, briefID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner):
			respond.Error(c, http.StatusNotFound, "not_found", "brief not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch brief", nil)
		}
		return
	}

	respond.OK(c, gin.H{
		"brief":     job,
		"artifacts": rows,
	})
}

func (h *Handler) list(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)
	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	briefs, err := h.Svc.List(c.Request.Context(), identity, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list briefs", nil)
		return
	}
	if briefs == nil {
		briefs = []Job{}
	}
	respond.OK(c, gin.H{"briefs": briefs})
}

func (h *Handler) progress(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)
	briefID := c.Param("id")
	if briefID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "brief id is required", nil)
		return
	}

	if !h.Polls.Allow(identity, briefID) {
		retryAfter := h.Polls.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "polling too frequently", gin.H{
			"retryAfterSeconds": retryAfter,
		})
		return
	}

	snap, err := h.Svc.GetProgress(c.Request.Context(), identity, briefID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner):
			respond.Error(c, http.StatusNotFound, "not_found", "brief not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch progress", nil)
		}
		return
	}
	respond.OK(c, snap)
}

func (h *Handler) retry(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)
	briefID := c.Param("id")
	if briefID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "brief id is required", nil)
		return
	}

	job, err := h.Svc.Retry(WithRequestID(c.Request.Context(), c.GetString("requestId")), c.ClientIP(), identity, briefID)
	if err != nil {
		var denied *DeniedError
		switch {
		case errors.As(err, &denied):
			writeDenied(c, denied)
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner):
			respond.Error(c, http.StatusNotFound, "not_found", "brief not found", nil)
		case errors.Is(err, ErrNotRetryable):
			respond.Error(c, http.StatusConflict, "not_retryable", "brief already completed", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to retry brief", nil)
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"briefId": job.ID,
		"stage":   job.Stage,
	})
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
