package post

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sportadm/events-api/internal/handler"
	"github.com/sportadm/events-api/internal/model"
	postsvc "github.com/sportadm/events-api/internal/service/post"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// Whitespace-only overrides would otherwise slip past "required".
		v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	}
}

type Handler struct {
	service postsvc.Service
}

func NewHandler(service postsvc.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	posts := r.Group("/posts")
	{
		posts.POST("", h.Create)
		posts.GET("", h.List)
		posts.GET("/:id", h.Get)
		posts.PUT("/:id", h.Update)
		posts.PATCH("/:id/status", h.ChangeStatus)
		posts.GET("/:id/deliveries", h.ListDeliveries)
	}
}

type createPostRequest struct {
	EventID        uuid.UUID `json:"event_id" binding:"required"`
	Title          string    `json:"title" binding:"required,max=200"`
	Body           string    `json:"body"`
	PublishAt      time.Time `json:"publish_at" binding:"required"`
	Status         string    `json:"status" binding:"omitempty,oneof=DRAFT SCHEDULED"`
	Audience       string    `json:"audience" binding:"required,oneof=PUBLIC SUBSCRIBERS"`
	Channel        string    `json:"channel" binding:"required,oneof=TELEGRAM EMAIL INTERNAL"`
	TargetOverride *string   `json:"target_override" binding:"omitempty,notblank"`
	LinkURL        *string   `json:"link_url" binding:"omitempty,url"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	post := &model.Post{
		EventID:        req.EventID,
		Title:          req.Title,
		Body:           req.Body,
		PublishAt:      req.PublishAt,
		Status:         model.PostStatus(req.Status),
		Audience:       model.Audience(req.Audience),
		Channel:        model.Channel(req.Channel),
		TargetOverride: req.TargetOverride,
		LinkURL:        req.LinkURL,
	}
	if err := h.service.Create(c.Request.Context(), post); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(post))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid post id"))
		return
	}

	post, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(post))
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.PostFilters{}

	if raw := c.Query("event_id"); raw != "" {
		eventID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid event_id"))
			return
		}
		filters.EventID = &eventID
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := model.ParsePostStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid status"))
			return
		}
		filters.Status = &status
	}
	if raw := c.Query("audience"); raw != "" {
		audience, ok := model.ParseAudience(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid audience"))
			return
		}
		filters.Audience = &audience
	}
	if raw := c.Query("channel"); raw != "" {
		channel, ok := model.ParseChannel(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid channel"))
			return
		}
		filters.Channel = &channel
	}

	posts, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(posts))
}

type updatePostRequest struct {
	Title          string    `json:"title" binding:"required,max=200"`
	Body           string    `json:"body"`
	PublishAt      time.Time `json:"publish_at" binding:"required"`
	Status         string    `json:"status" binding:"required,oneof=DRAFT SCHEDULED PUBLISHED FAILED CANCELED"`
	Audience       string    `json:"audience" binding:"required,oneof=PUBLIC SUBSCRIBERS"`
	Channel        string    `json:"channel" binding:"required,oneof=TELEGRAM EMAIL INTERNAL"`
	TargetOverride *string   `json:"target_override" binding:"omitempty,notblank"`
	LinkURL        *string   `json:"link_url" binding:"omitempty,url"`
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid post id"))
		return
	}

	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	current, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	current.Title = req.Title
	current.Body = req.Body
	current.PublishAt = req.PublishAt
	current.Status = model.PostStatus(req.Status)
	current.Audience = model.Audience(req.Audience)
	current.Channel = model.Channel(req.Channel)
	current.TargetOverride = req.TargetOverride
	current.LinkURL = req.LinkURL

	if err := h.service.Update(c.Request.Context(), current); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(current))
}

type changeStatusRequest struct {
	Status string  `json:"status" binding:"required,oneof=DRAFT SCHEDULED PUBLISHED FAILED CANCELED"`
	Error  *string `json:"error"`
}

// ChangeStatus applies a single state machine edge, e.g. scheduling a draft or
// re-scheduling a failed post.
func (h *Handler) ChangeStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid post id"))
		return
	}

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	post, err := h.service.ChangeStatus(c.Request.Context(), id, model.PostStatus(req.Status), req.Error)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(post))
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid post id"))
		return
	}

	attempts, err := h.service.ListDeliveries(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(attempts))
}
