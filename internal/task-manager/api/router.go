package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
)

// RegisterRoutes mounts every handler on h.
func RegisterRoutes(h *server.Hertz, tasks *TaskHandler, scheduler *SchedulerHandler, notifications *NotificationHandler) {
	taskGroup := h.Group("/tasks")
	{
		taskGroup.POST("", tasks.CreateTask)
		taskGroup.GET("", tasks.GetTasks)
		taskGroup.GET("/:id", tasks.GetTaskByID)
		taskGroup.POST("/:id/reject", tasks.RejectTask)
		taskGroup.POST("/:id/submit", tasks.SubmitTask)
	}

	notificationGroup := h.Group("/notifications")
	{
		notificationGroup.POST("", notifications.CreateAnnouncement)
		notificationGroup.GET("", notifications.ListNotifications)
		notificationGroup.PUT("/:id/read", notifications.MarkRead)
	}

	adminGroup := h.Group("/admin/scheduler")
	{
		adminGroup.POST("/run", scheduler.RunOnce)
		adminGroup.GET("/due", scheduler.ListDue)
		adminGroup.GET("/status", scheduler.Status)
	}

	h.GET("/ping", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, utils.H{"message": "pong"})
	})
}
