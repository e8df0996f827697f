package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

// TemplateHandler exposes the notification template catalog.
type TemplateHandler struct {
	svc *services.TemplateService
}

// NewTemplateHandler constructs a template handler.
func NewTemplateHandler(svc *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

type templateRequest struct {
	Name            string `json:"name" validate:"omitempty,max=64"`
	Type            string `json:"type" validate:"required,max=32"`
	TitlePattern    string `json:"title_pattern" validate:"required,max=512"`
	MessagePattern  string `json:"message_pattern" validate:"omitempty,max=4000"`
	DefaultIcon     string `json:"default_icon" validate:"omitempty,max=64"`
	DefaultPriority string `json:"default_priority" validate:"omitempty,oneof=low normal high urgent"`
	Description     string `json:"description" validate:"omitempty,max=255"`
}

func (r templateRequest) input(name string) services.TemplateInput {
	return services.TemplateInput{
		Name:            name,
		Type:            models.NotificationType(strings.TrimSpace(r.Type)),
		TitlePattern:    r.TitlePattern,
		MessagePattern:  r.MessagePattern,
		DefaultIcon:     r.DefaultIcon,
		DefaultPriority: models.Priority(strings.TrimSpace(r.DefaultPriority)),
		Description:     r.Description,
	}
}

type previewRequest struct {
	Vars map[string]any `json:"vars"`
}

// List returns every template.
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, templates)
}

// Get returns a single template by name.
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.svc.Get(requestContext(c), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tpl)
}

// Create adds a template.
func (h *TemplateHandler) Create(c *gin.Context) {
	var req templateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tpl, err := h.svc.Create(requestContext(c), req.input(req.Name))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, tpl)
}

// Update replaces the patterns of an existing template.
func (h *TemplateHandler) Update(c *gin.Context) {
	var req templateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tpl, err := h.svc.Update(requestContext(c), c.Param("name"), req.input(c.Param("name")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tpl)
}

// Delete removes a template.
func (h *TemplateHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.svc.Delete(requestContext(c), name); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"name": name, "deleted": true})
}

// Preview renders a template with the supplied variables without storing anything.
func (h *TemplateHandler) Preview(c *gin.Context) {
	var req previewRequest
	if !bindAndValidate(c, &req) {
		return
	}

	_, rendered, err := h.svc.Render(requestContext(c), c.Param("name"), req.Vars)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rendered)
}
