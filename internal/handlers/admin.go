package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/middleware"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler serves the moderation side of the console: projects,
// organizer requests, photos and tasks.
type AdminHandler struct {
	users    *services.UserService
	projects *services.ProjectService
	photos   *services.PhotoService
	tasks    *services.TaskService
	logger   *zap.Logger
}

func NewAdminHandler(
	users *services.UserService,
	projects *services.ProjectService,
	photos *services.PhotoService,
	tasks *services.TaskService,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{users: users, projects: projects, photos: photos, tasks: tasks, logger: logger}
}

// Register mounts the console routes on an authenticated group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/projects", h.ListProjects)
	rg.POST("/projects/:id/approve", h.ApproveProject)
	rg.POST("/projects/:id/reject", h.RejectProject)

	rg.GET("/organizers/pending", h.ListPendingOrganizers)
	rg.POST("/organizers/:id/approve", h.ApproveOrganizer)
	rg.POST("/organizers/:id/reject", h.RejectOrganizer)

	rg.GET("/photos", h.ListPhotos)
	rg.POST("/photos/:id/approve", h.ApprovePhoto)
	rg.POST("/photos/:id/reject", h.RejectPhoto)

	rg.GET("/tasks", h.ListTasks)
}

func validStatus(status string, allowed ...string) bool {
	if status == "" {
		return true
	}
	for _, s := range allowed {
		if status == s {
			return true
		}
	}
	return false
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// ListProjects
//
//	GET /api/v1/admin/projects?status=pending|approved|rejected
func (h *AdminHandler) ListProjects(c *gin.Context) {
	status := c.Query("status")
	if !validStatus(status, models.ProjectStatusPending, models.ProjectStatusApproved, models.ProjectStatusRejected) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
		return
	}
	projects, err := h.projects.ListByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (h *AdminHandler) ApproveProject(c *gin.Context) {
	h.setProjectStatus(c, models.ProjectStatusApproved)
}

func (h *AdminHandler) RejectProject(c *gin.Context) {
	h.setProjectStatus(c, models.ProjectStatusRejected)
}

func (h *AdminHandler) setProjectStatus(c *gin.Context, status string) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	project, err := h.projects.SetStatus(c.Request.Context(), id, status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("project moderated", zap.Uint("project_id", id), zap.String("status", status),
		zap.String("by", c.GetString(middleware.AdminKey)))
	c.JSON(http.StatusOK, project)
}

func (h *AdminHandler) ListPendingOrganizers(c *gin.Context) {
	users, err := h.users.PendingOrganizers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *AdminHandler) ApproveOrganizer(c *gin.Context) {
	h.setOrganizerStatus(c, true)
}

// RejectOrganizer clears the organization name so the request disappears.
func (h *AdminHandler) RejectOrganizer(c *gin.Context) {
	h.setOrganizerStatus(c, false)
}

func (h *AdminHandler) setOrganizerStatus(c *gin.Context, approve bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.users.SetOrganizerStatus(c.Request.Context(), id, approve)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("organizer request decided", zap.Uint("user_id", id), zap.Bool("approved", approve),
		zap.String("by", c.GetString(middleware.AdminKey)))
	c.JSON(http.StatusOK, user)
}

// ListPhotos
//
//	GET /api/v1/admin/photos?status=pending|approved|rejected
func (h *AdminHandler) ListPhotos(c *gin.Context) {
	status := c.Query("status")
	if !validStatus(status, models.PhotoStatusPending, models.PhotoStatusApproved, models.PhotoStatusRejected) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
		return
	}
	photos, err := h.photos.List(c.Request.Context(), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, photos)
}

type ApprovePhotoRequest struct {
	Rating *int `json:"rating,omitempty" example:"5"`
}

// ApprovePhoto approves a pending photo and optionally grades it 1..5. The
// volunteer hears about it once the grade is applied.
func (h *AdminHandler) ApprovePhoto(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ApprovePhotoRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Rating != nil {
		if _, err := services.RatingPoints(*req.Rating); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	ctx := c.Request.Context()
	if _, err := h.photos.Approve(ctx, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	photo, err := h.photos.Rate(ctx, id, req.Rating)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, photo)
}

type RejectPhotoRequest struct {
	Feedback string `json:"feedback,omitempty" example:"Фото размыто"`
}

func (h *AdminHandler) RejectPhoto(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RejectPhotoRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	photo, err := h.photos.Reject(c.Request.Context(), id, req.Feedback)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, photo)
}

// ListTasks returns every task with assignment counters.
func (h *AdminHandler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}
