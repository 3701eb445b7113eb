package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"task-lifecycle-service/internal/task-manager/services"
)

// SchedulerHandler exposes the run-once trigger and read-only diagnostics.
type SchedulerHandler struct {
	Scheduler *services.SchedulerService
	clock     services.Clock
}

func NewSchedulerHandler(scheduler *services.SchedulerService, clock services.Clock) *SchedulerHandler {
	if clock == nil {
		clock = time.Now
	}
	return &SchedulerHandler{Scheduler: scheduler, clock: clock}
}

// RunOnce executes one tick synchronously. Skipped or failed rows still give
// 200; only a tick that could not start is reported as 503.
func (h *SchedulerHandler) RunOnce(ctx context.Context, c *app.RequestContext) {
	report, err := h.Scheduler.RunTick(ctx, h.clock())
	if err != nil {
		hlog.CtxErrorf(ctx, "Manual tick failed to run: %v", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SchedulerHandler) ListDue(ctx context.Context, c *app.RequestContext) {
	now := h.clock()
	if raw := c.Query("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid 'at', expected RFC3339: " + err.Error()})
			return
		}
		now = at
	}
	report, err := h.Scheduler.ListDue(ctx, now)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SchedulerHandler) Status(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, h.Scheduler.Status())
}
