package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/errs"
	"github.com/codevaldcortex/orchestrator/internal/orchestration"
	"github.com/codevaldcortex/orchestrator/internal/registry"
	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/gin-gonic/gin"
)

// setupServer wires the spec §6 JSON API onto a gin engine, grounded on
// the teacher's gin.New + gin.Logger/gin.Recovery bootstrap
// (internal/app/app.go setupServer).
func (a *App) setupServer() error {
	if a.config.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
	})

	v1 := router.Group("/api/v1")
	{
		// Submission API
		v1.POST("/tasks", a.submitTask)
		v1.POST("/workflows", a.submitWorkflow)
		v1.POST("/tasks/:id/cancel", a.cancelTask)
		v1.GET("/tasks/:id", a.taskStatus)
		v1.GET("/tasks/upcoming", a.upcomingTasks)

		// Worker API
		v1.POST("/workers/register", a.registerWorker)
		v1.POST("/workers/heartbeat", a.heartbeat)
		v1.POST("/tasks/:id/complete", a.completeTask)
		v1.POST("/tasks/:id/fail", a.failTask)
		v1.POST("/messages/:id/ack", a.ackMessage)
	}

	a.server = &http.Server{
		Addr:         a.config.Server.Host + ":" + strconv.Itoa(a.config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeout) * time.Second,
	}
	return nil
}

// httpStatusFor maps the error taxonomy (spec §7) onto HTTP status codes.
func httpStatusFor(err error) int {
	switch errs.TagOf(err) {
	case errs.InvalidInput:
		return http.StatusBadRequest
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) submitTask(c *gin.Context) {
	var t task.Task
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := a.orch.Submit(c.Request.Context(), &t)
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (a *App) submitWorkflow(c *gin.Context) {
	var wf orchestration.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := a.orch.SubmitWorkflow(c.Request.Context(), &wf)
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": result.WorkflowID, "task_ids": result.TaskIDs})
}

func (a *App) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.orch.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (a *App) taskStatus(c *gin.Context) {
	id := c.Param("id")
	t, err := a.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(httpStatusFor(errs.Wrap(errs.NotFound, err)), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (a *App) upcomingTasks(c *gin.Context) {
	horizonHours := 1.0
	if v := c.Query("horizon_hours"); v != "" {
		if parsed, err := time.ParseDuration(v + "h"); err == nil {
			horizonHours = parsed.Hours()
		}
	}
	tasks, err := a.store.UpcomingTasks(c.Request.Context(), time.Duration(horizonHours*float64(time.Hour)))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (a *App) registerWorker(c *gin.Context) {
	var inst registry.WorkerInstance
	if err := c.ShouldBindJSON(&inst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.orch.RegisterWorker(c.Request.Context(), &inst); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// heartbeatRequest mirrors spec §6's `heartbeat(instance_id, load, health)`.
// The reported health string is accepted for audit logging only: Health
// itself is computed by the Registry's own inactivity scan (spec §4.5), not
// self-reported, so a heartbeat always resets an instance to Healthy.
type heartbeatRequest struct {
	InstanceID  string  `json:"instance_id"`
	Load        int     `json:"load"`
	Health      string  `json:"health"`
	SuccessRate float64 `json:"success_rate"`
}

func (a *App) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.reg.Heartbeat(c.Request.Context(), req.InstanceID, req.Load, req.SuccessRate); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type completeRequest struct {
	Output map[string]interface{} `json:"output"`
}

func (a *App) completeTask(c *gin.Context) {
	id := c.Param("id")
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.orch.ReportCompletion(c.Request.Context(), id, req.Output); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

type failRequest struct {
	ErrorTag         string `json:"error_tag"`
	Message          string `json:"message"`
	RetryRecommended bool   `json:"retry_recommended"`
}

func (a *App) failTask(c *gin.Context) {
	id := c.Param("id")
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.orch.ReportFailure(c.Request.Context(), id, req.ErrorTag, req.Message); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

func (a *App) ackMessage(c *gin.Context) {
	id := c.Param("id")
	a.delivery.Ack(id)
	// A TaskRequest's message id is the task id (see deliveryNotifier), so
	// the same ack that clears the pending delivery also starts the task.
	// Acking any other message type is a harmless no-op here.
	if err := a.orch.AckTaskStart(c.Request.Context(), id); err != nil {
		a.logger.WithError(err).WithField("message_id", id).Warn("task-start ack failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "acked"})
}
