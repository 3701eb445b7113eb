package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	taskDB "task-lifecycle-service/internal/task-manager/db"
	"task-lifecycle-service/internal/task-manager/services"
)

func writeError(c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, taskDB.ErrNotFound):
		c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
	case errors.Is(err, services.ErrStatusConflict):
		c.JSON(http.StatusConflict, utils.H{"error": err.Error()})
	case services.IsClientError(err):
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
	case errors.Is(err, services.ErrStoreUnavailable), errors.Is(err, services.ErrSubmissionDisabled):
		c.JSON(http.StatusServiceUnavailable, utils.H{"success": false, "error": err.Error()})
	default:
		hlog.Errorf("Unhandled error serving %s %s: %v", c.Method(), c.Path(), err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
	}
}

func parseID(c *app.RequestContext) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid ID format"})
		return 0, false
	}
	return uint(id), true
}
