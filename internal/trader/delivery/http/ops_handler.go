package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/service"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

// OpsHandler serves the operational endpoints of the trader service.
type OpsHandler struct {
	queue     repository.QueueRepository
	scheduler service.SchedulerService
	runtime   repository.RuntimeConfigRepository
	validate  *validator.Validate
	logger    *logger.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(
	queue repository.QueueRepository,
	scheduler service.SchedulerService,
	runtime repository.RuntimeConfigRepository,
	log *logger.Logger,
) *OpsHandler {
	return &OpsHandler{
		queue:     queue,
		scheduler: scheduler,
		runtime:   runtime,
		validate:  validator.New(),
		logger:    log,
	}
}

// RegisterRoutes registers health, metrics and the api group.
func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.GET("/tasks/failed", h.ListFailedTasks)
	api.POST("/tasks", h.EnqueueTask)
	api.GET("/scheduled", h.ListScheduled)
	api.DELETE("/scheduled/:id", h.CancelScheduled)
	api.POST("/runtime/emergency-stop", h.SetEmergencyStop)
	api.POST("/runtime/simulation-mode", h.SetSimulationMode)
}

func (h *OpsHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// ListFailedTasks returns the failed-task hash, newest first.
func (h *OpsHandler) ListFailedTasks(c echo.Context) error {
	tasks, err := h.queue.ListFailed(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list failed tasks", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list failed tasks"})
	}
	return c.JSON(http.StatusOK, tasks)
}

// EnqueueTask pushes a signal id onto the work queue.
func (h *OpsHandler) EnqueueTask(c echo.Context) error {
	var req dto.EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request payload"})
	}
	req.SignalID = strings.TrimSpace(req.SignalID)
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "signal_id is required"})
	}

	task := dto.Task{SignalID: req.SignalID, SignalName: req.SignalName}
	if err := h.queue.Enqueue(c.Request().Context(), task); err != nil {
		h.logger.Error("Failed to enqueue task", logger.StringField("signal_id", req.SignalID), logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to enqueue task"})
	}
	return c.JSON(http.StatusAccepted, task)
}

// ListScheduled returns pending reanalyses in due order.
func (h *OpsHandler) ListScheduled(c echo.Context) error {
	entries, err := h.scheduler.List(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list scheduled reanalyses", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list scheduled reanalyses"})
	}
	return c.JSON(http.StatusOK, entries)
}

// CancelScheduled removes a pending reanalysis.
func (h *OpsHandler) CancelScheduled(c echo.Context) error {
	id := c.Param("id")
	if err := h.scheduler.Cancel(c.Request().Context(), id); err != nil {
		if errors.Is(err, dto.ErrNotFound) {
			return c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Scheduled reanalysis not found"})
		}
		h.logger.Error("Failed to cancel scheduled reanalysis", logger.StringField("signal_id", id), logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to cancel scheduled reanalysis"})
	}
	h.logger.Info("Scheduled reanalysis cancelled", logger.StringField("signal_id", id))
	return c.NoContent(http.StatusNoContent)
}

func (h *OpsHandler) SetEmergencyStop(c echo.Context) error {
	return h.toggle(c, "emergency_stop", h.runtime.SetEmergencyStop)
}

func (h *OpsHandler) SetSimulationMode(c echo.Context) error {
	return h.toggle(c, "simulation_mode", h.runtime.SetSimulationMode)
}

func (h *OpsHandler) toggle(c echo.Context, name string, set func(ctx context.Context, enabled bool) error) error {
	var req dto.ToggleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request payload"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "enabled is required"})
	}

	ctx := c.Request().Context()
	if err := set(ctx, *req.Enabled); err != nil {
		h.logger.Error("Failed to update runtime switch", logger.StringField("switch", name), logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to update runtime configuration"})
	}
	h.logger.Warn("Runtime switch updated", logger.StringField("switch", name), logger.Field("enabled", *req.Enabled))

	snapshot, err := h.runtime.Snapshot(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to read runtime configuration"})
	}
	return c.JSON(http.StatusOK, dto.RuntimeResponse{
		EmergencyStop:  snapshot.EmergencyStop,
		SimulationMode: snapshot.SimulationMode,
		DecisionMode:   snapshot.DecisionMode,
	})
}
