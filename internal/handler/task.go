package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/supoclip/api/internal/model"
	"github.com/supoclip/api/internal/repository"
	"github.com/supoclip/api/internal/service"
	"github.com/supoclip/api/pkg/response"
)

type TaskHandler struct {
	service   *service.TaskService
	validator *validator.Validate
}

func NewTaskHandler(svc *service.TaskService, v *validator.Validate) *TaskHandler {
	return &TaskHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/tasks
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var req model.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrQueueUnavailable) {
			return response.QueueError(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/tasks/:taskId
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	task, err := h.service.Get(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.TaskResponse{
		TaskID:          task.ID,
		Status:          task.Status,
		Progress:        task.Progress,
		ProgressMessage: task.ProgressMessage,
		Source:          task.Source,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
	})
}

// Clips handles GET /api/tasks/:taskId/clips
func (h *TaskHandler) Clips(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	clips, err := h.service.ListClips(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}
	if clips == nil {
		clips = []model.Clip{}
	}

	return response.OK(c, model.ClipsResponse{
		TaskID: taskID,
		Clips:  clips,
	})
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
