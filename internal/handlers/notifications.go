package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

const defaultListLimit = 20

// NotificationHandler exposes the polling gateway and the producer API.
type NotificationHandler struct {
	polling      *services.PollingService
	service      *services.NotificationService
	defaultLimit int
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(polling *services.PollingService, service *services.NotificationService, defaultLimit int) *NotificationHandler {
	if defaultLimit <= 0 {
		defaultLimit = defaultListLimit
	}
	return &NotificationHandler{polling: polling, service: service, defaultLimit: defaultLimit}
}

type createNotificationRequest struct {
	Type       string         `json:"type" validate:"omitempty,max=32"`
	Title      string         `json:"title" validate:"omitempty,max=200"`
	Message    string         `json:"message" validate:"omitempty,max=4000"`
	Icon       string         `json:"icon" validate:"omitempty,max=64"`
	Link       string         `json:"link" validate:"omitempty,max=512"`
	Priority   string         `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Target     models.Target  `json:"target"`
	Template   string         `json:"template" validate:"omitempty,max=64"`
	Vars       map[string]any `json:"vars"`
	ScheduleAt *time.Time     `json:"schedule_at"`
	ExpiresAt  *time.Time     `json:"expires_at"`
	Metadata   map[string]any `json:"metadata"`
}

// BeginSession marks the caller as logged in for the polling surface.
func (h *NotificationHandler) BeginSession(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	marker, err := h.polling.BeginSession(requestContext(c), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, marker)
}

// EndSession drops the caller's liveness marker. Deliveries are untouched.
func (h *NotificationHandler) EndSession(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	if err := h.polling.EndSession(requestContext(c), identity); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"logged_in": false})
}

// Heartbeat refreshes the caller's session and returns the unread summary.
func (h *NotificationHandler) Heartbeat(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	result, err := h.polling.Heartbeat(requestContext(c), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// List pages through the caller's deliveries, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	limit := parseIntQuery(c, "limit", h.defaultLimit)
	page, err := h.polling.ListMine(
		requestContext(c),
		identity,
		strings.TrimSpace(c.Query("cursor")),
		limit,
		parseBoolQuery(c, "include_dismissed"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Items, &response.Meta{
		Limit:      services.ClampListLimit(limit),
		Count:      len(page.Items),
		NextCursor: page.NextCursor,
	})
}

// MarkRead marks one of the caller's deliveries read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	h.mutate(c, h.polling.MarkRead)
}

// MarkDismissed hides one of the caller's deliveries from default listings.
func (h *NotificationHandler) MarkDismissed(c *gin.Context) {
	h.mutate(c, h.polling.MarkDismissed)
}

func (h *NotificationHandler) mutate(c *gin.Context, apply func(ctx context.Context, identity, notificationID string) (*models.Delivery, error)) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	delivery, err := apply(requestContext(c), identity, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, delivery)
}

// Create authors a notification on behalf of a producer.
func (h *NotificationHandler) Create(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req createNotificationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Create(requestContext(c), services.CreateNotificationInput{
		Type:         models.NotificationType(strings.TrimSpace(req.Type)),
		Title:        req.Title,
		Message:      req.Message,
		Icon:         req.Icon,
		Link:         req.Link,
		Priority:     models.Priority(strings.TrimSpace(req.Priority)),
		Target:       req.Target,
		TemplateName: strings.TrimSpace(req.Template),
		Vars:         req.Vars,
		ScheduleAt:   req.ScheduleAt,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
		CreatedBy:    identity,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// Status returns a notification with its delivery statistics.
func (h *NotificationHandler) Status(c *gin.Context) {
	status, err := h.service.Get(requestContext(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// Unschedule withdraws a notification that has not been promoted yet.
func (h *NotificationHandler) Unschedule(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Unschedule(requestContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "unscheduled": true})
}
