package tasks

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docgen-backend/internal/compose"
	"docgen-backend/internal/shared/server/middleware"
	"docgen-backend/internal/shared/server/respond"
	"docgen-backend/internal/shared/storage/object"
	"docgen-backend/internal/shared/util"
)

// ArtifactReader opens stored artifacts for the local download route.
type ArtifactReader interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Handler wires HTTP handlers to the task service.
type Handler struct {
	Svc       *Service
	Artifacts ArtifactReader
	limiter   *pollLimiter
}

// NewHandler constructs a Handler. artifacts may be nil, which disables the
// artifact route.
func NewHandler(svc *Service, artifacts ArtifactReader) *Handler {
	return &Handler{Svc: svc, Artifacts: artifacts, limiter: newPollLimiter(pollLimitWindow, nil)}
}

// RegisterRoutes attaches task routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/tasks", h.submit(""))
	rg.POST("/cover-letters", h.submit(compose.CoverLetter))
	rg.POST("/resumes", h.submit(compose.Resume))
	rg.POST("/follow-ups", h.submit(compose.FollowUpEmail))
	rg.GET("/tasks/:id", h.status)
	rg.GET("/tasks/:id/result", h.result)
	rg.GET("/tasks/:id/download", h.download)
	if h.Artifacts != nil {
		rg.GET("/artifacts/*key", h.artifact)
	}
}

type submitRequest struct {
	SubjectID      string `json:"subjectId" binding:"required"`
	JobID          string `json:"jobId"`
	JobDescription string `json:"jobDescription"`
	Tone           string `json:"tone"`
	DocType        string `json:"docType"`
	Skills         string `json:"skills"`
	Experience     string `json:"experience"`
}

type statusResponse struct {
	TaskID    string          `json:"taskId"`
	DocType   compose.DocType `json:"docType"`
	Stage     Stage           `json:"stage"`
	Attempt   int             `json:"attempt"`
	Ready     bool            `json:"ready"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Result    *Result         `json:"result,omitempty"`
	Error     *Failure        `json:"error,omitempty"`
}

func (h *Handler) submit(fixed compose.DocType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "subjectId is required", nil)
			return
		}

		docType := fixed
		if docType == "" {
			parsed, err := compose.ParseDocType(req.DocType)
			if err != nil {
				respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), []map[string]string{
					{"field": "docType", "issue": "unsupported"},
				})
				return
			}
			docType = parsed
		}

		ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
		task, err := h.Svc.Submit(ctx, Params{
			SubjectID:      req.SubjectID,
			JobID:          req.JobID,
			JobDescription: req.JobDescription,
			Tone:           req.Tone,
			DocType:        docType,
			Skills:         req.Skills,
			Experience:     req.Experience,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidParams):
				respond.Error(c, http.StatusBadRequest, respond.CodeValidation, util.SingleLine(err.Error()), nil)
			default:
				respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, "failed to queue task", nil)
			}
			return
		}

		c.Set("taskId", task.ID)
		base := strings.TrimSuffix(c.FullPath(), path.Base(c.FullPath()))
		respond.JSON(c, http.StatusAccepted, gin.H{
			"taskId":    task.ID,
			"status":    task.Stage,
			"statusUrl": base + "tasks/" + task.ID,
			"resultUrl": base + "tasks/" + task.ID + "/result",
		})
	}
}

func (h *Handler) status(c *gin.Context) {
	taskID := c.Param("id")
	if !h.limiter.Allow(c.ClientIP(), taskID) {
		retryAfter := h.limiter.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respond.Error(c, http.StatusTooManyRequests, respond.CodeRateLimited, "poll at most once per second", nil)
		return
	}

	task, ok := h.load(c, taskID)
	if !ok {
		return
	}
	respond.OK(c, statusResponse{
		TaskID:    task.ID,
		DocType:   task.Params.DocType,
		Stage:     task.Stage,
		Attempt:   task.Attempt,
		Ready:     task.Ready(),
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
		Result:    task.Result,
		Error:     task.Failure,
	})
}

func (h *Handler) result(c *gin.Context) {
	task, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	switch {
	case task.Stage == StageSucceeded && task.Result != nil:
		respond.OK(c, task.Result)
	case task.Stage == StageFailed && task.Failure != nil:
		respond.JSON(c, http.StatusUnprocessableEntity, task.Failure)
	default:
		respond.JSON(c, http.StatusAccepted, gin.H{
			"taskId":  task.ID,
			"stage":   task.Stage,
			"attempt": task.Attempt,
			"ready":   false,
		})
	}
}

func (h *Handler) download(c *gin.Context) {
	task, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	if task.Result == nil {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "document not ready", nil)
		return
	}

	var url string
	switch strings.ToLower(c.DefaultQuery("format", "pdf")) {
	case "pdf":
		url = task.Result.PDFURL
	case "txt", "text":
		url = task.Result.TextURL
	default:
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "format must be pdf or txt", nil)
		return
	}
	if url == "" {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "artifact was not persisted", nil)
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (h *Handler) artifact(c *gin.Context) {
	key, err := util.SanitizeKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid artifact key", nil)
		return
	}
	reader, err := h.Artifacts.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "artifact not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load artifact", nil)
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+path.Base(key)+"\"")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}

func (h *Handler) load(c *gin.Context, taskID string) (Task, bool) {
	task, err := h.Svc.Get(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "task not found", nil)
		} else {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to fetch task", nil)
		}
		return Task{}, false
	}
	return task, true
}

