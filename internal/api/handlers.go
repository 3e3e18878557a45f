package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
	"github.com/yokitheyo/vidjoin/internal/model"
	"github.com/yokitheyo/vidjoin/internal/taskmgr"
)

type HealthChecker interface {
	Check(ctx context.Context) (ffmpeg.Health, error)
}

type APIHandler struct {
	TM      *taskmgr.TaskManager
	Engine  HealthChecker
	Limiter *rate.Limiter
	Log     zerolog.Logger
}

type ConcatenateRequest struct {
	URLs       []string `json:"urls"`
	OutputName string   `json:"output_name"`
	MaxSizeMB  float64  `json:"max_size_mb"`
	Sync       bool     `json:"sync"`
}

type StatusResponse struct {
	JobID       string          `json:"job_id"`
	Status      model.JobStatus `json:"status"`
	Phase       string          `json:"phase"`
	Progress    model.Progress  `json:"progress"`
	OutputName  string          `json:"output_name"`
	MaxSizeMB   float64         `json:"max_size_mb"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	StatusURL   string          `json:"status_url"`
	DownloadURL string          `json:"download_url,omitempty"`

	FileSize         *float64 `json:"file_size,omitempty"`
	OriginalSize     *float64 `json:"original_size,omitempty"`
	WasCompressed    *bool    `json:"was_compressed,omitempty"`
	TargetMet        *bool    `json:"target_met,omitempty"`
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`
	Attempts         *int     `json:"attempts,omitempty"`
	Error            string   `json:"error,omitempty"`
	Warning          string   `json:"warning,omitempty"`
}

func NewStatusResponse(j model.Job) StatusResponse {
	resp := StatusResponse{
		JobID:      j.ID,
		Status:     j.Status,
		Phase:      j.Phase(),
		Progress:   j.Progress,
		OutputName: j.OutputName,
		MaxSizeMB:  j.MaxSizeMB,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		FinishedAt: j.FinishedAt,
		StatusURL:  "/api/status/" + j.ID,
		Error:      j.Error,
		Warning:    j.Warning,
	}
	if j.Status == model.StatusCompleted {
		resp.DownloadURL = "/api/download/" + j.ID
		resp.FileSize = &j.FileSizeMB
		resp.OriginalSize = &j.OriginalSizeMB
		resp.WasCompressed = &j.WasCompressed
		resp.TargetMet = &j.TargetMet
		resp.CompressionRatio = &j.CompressionRatio
		resp.Attempts = &j.Attempts
	}
	return resp
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *APIHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.Log), Metrics())
	RegisterHandlers(r, h)
	return r
}

func RegisterHandlers(r *gin.Engine, h *APIHandler) {
	api := r.Group("/api")
	api.POST("/concatenate", RateLimit(h.Limiter), h.concatenate)
	api.GET("/status/:id", h.getStatus)
	api.GET("/download/:id", h.download)
	api.GET("/jobs", h.listJobs)
	api.DELETE("/jobs/:id", h.cancelJob)

	r.SetHTMLTemplate(pages)
	r.GET("/", h.index)
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *APIHandler) concatenate(c *gin.Context) {
	var req ConcatenateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.TM.Submit(taskmgr.Request{
		URLs:       req.URLs,
		OutputName: req.OutputName,
		MaxSizeMB:  req.MaxSizeMB,
	})
	switch {
	case errors.Is(err, taskmgr.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, taskmgr.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.Log.Error().Err(err).Msg("submit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create job"})
		return
	}

	if req.Sync {
		done, err := h.TM.Wait(c.Request.Context(), job.ID)
		if err == nil {
			c.JSON(http.StatusOK, NewStatusResponse(done))
			return
		}
		job = done
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"status_url": "/api/status/" + job.ID,
	})
}

func (h *APIHandler) getStatus(c *gin.Context) {
	job, err := h.TM.Registry().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, NewStatusResponse(job))
}

func (h *APIHandler) download(c *gin.Context) {
	job, err := h.TM.Registry().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status != model.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "job not completed", "status": job.Status})
		return
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "output file not found"})
		return
	}
	c.FileAttachment(job.OutputPath, job.OutputName)
}

func (h *APIHandler) listJobs(c *gin.Context) {
	jobs := h.TM.Registry().List()
	out := make([]StatusResponse, len(jobs))
	for i, j := range jobs {
		out[i] = NewStatusResponse(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out, "active_jobs": h.TM.Active()})
}

func (h *APIHandler) cancelJob(c *gin.Context) {
	id := c.Param("id")
	err := h.TM.Cancel(id)
	switch {
	case errors.Is(err, taskmgr.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, taskmgr.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": "cancelling"})
	}
}

func (h *APIHandler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "healthy", "active_jobs": h.TM.Active()}

	hc, err := h.Engine.Check(ctx)
	body["ffmpeg"] = hc.FFmpeg
	body["ffprobe"] = hc.FFprobe
	if hc.Version != "" {
		body["version"] = hc.Version
	}
	if err != nil || !hc.OK() {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		if err != nil {
			body["error"] = err.Error()
		}
	}
	c.JSON(status, body)
}
