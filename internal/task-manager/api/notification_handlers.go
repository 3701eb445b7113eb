package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	taskDB "task-lifecycle-service/internal/task-manager/db"
	"task-lifecycle-service/internal/task-manager/services"
)

type NotificationHandler struct {
	Service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{Service: service}
}

// AnnouncementRequest is an admin message to one participant.
type AnnouncementRequest struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
}

func (h *NotificationHandler) CreateAnnouncement(ctx context.Context, c *app.RequestContext) {
	var req AnnouncementRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	if req.Title == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "title and message are required"})
		return
	}
	id, err := h.Service.Notify(ctx, req.RecipientID, taskDB.NotificationAnnouncement, req.Title, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.H{"id": id})
}

func (h *NotificationHandler) ListNotifications(ctx context.Context, c *app.RequestContext) {
	unread := false
	if raw := c.Query("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid 'unread' flag"})
			return
		}
		unread = v
	}
	list, err := h.Service.List(ctx, c.Query("recipient_id"), unread)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *NotificationHandler) MarkRead(ctx context.Context, c *app.RequestContext) {
	if err := h.Service.MarkRead(ctx, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"id": c.Param("id"), "read": true})
}
