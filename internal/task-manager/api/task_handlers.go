package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	taskDB "task-lifecycle-service/internal/task-manager/db"
	"task-lifecycle-service/internal/task-manager/services"
	"task-lifecycle-service/pkg/validation"
)

const createTaskSchema = `{
  "type": "object",
  "required": ["title"],
  "additionalProperties": false,
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string"},
    "start_date": {"type": ["string", "null"], "format": "date"},
    "start_time": {"type": ["string", "null"], "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9](:[0-5][0-9])?$"},
    "end_date": {"type": ["string", "null"], "format": "date"},
    "end_time": {"type": ["string", "null"], "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9](:[0-5][0-9])?$"},
    "owner_id": {"type": ["string", "null"], "maxLength": 64}
  }
}`

var createTaskValidator = validation.MustCompile("create_task.json", createTaskSchema)

type TaskHandler struct {
	Service *services.TaskService
}

func NewTaskHandler(service *services.TaskService) *TaskHandler {
	return &TaskHandler{Service: service}
}

type SubmitTaskRequest struct {
	SubmissionLink string `json:"submission_link"`
}

func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	body := c.Request.Body()
	if err := createTaskValidator.Validate(body); err != nil {
		hlog.CtxInfof(ctx, "Create task payload rejected: %v", err)
		c.JSON(http.StatusBadRequest, utils.H{
			"error":             "Task payload does not match the schema.",
			"validation_errors": err.Error(),
		})
		return
	}
	var req services.CreateTaskInput
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	task, err := h.Service.Create(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	filter := taskDB.TaskFilter{
		Status:  taskDB.TaskStatus(c.Query("status")),
		OwnerID: c.Query("owner_id"),
	}
	tasks, err := h.Service.List(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := h.Service.Get(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) RejectTask(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := h.Service.Reject(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) SubmitTask(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req SubmitTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	task, err := h.Service.Submit(ctx, id, req.SubmissionLink)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
