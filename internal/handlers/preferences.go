package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

// PreferenceHandler serves per-recipient delivery preferences.
type PreferenceHandler struct {
	svc *services.PreferenceService
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(svc *services.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{svc: svc}
}

type quietHoursRequest struct {
	Start    string `json:"start" validate:"required,clock"`
	End      string `json:"end" validate:"required,clock"`
	Timezone string `json:"timezone" validate:"omitempty,max=64"`
}

type preferenceRequest struct {
	OptedOutTypes  []string           `json:"opted_out_types" validate:"omitempty,dive,required,max=32"`
	Channels       []string           `json:"channels" validate:"omitempty,dive,oneof=email sms push"`
	QuietHours     *quietHoursRequest `json:"quiet_hours"`
	SoundEnabled   *bool              `json:"sound_enabled"`
	DesktopEnabled *bool              `json:"desktop_enabled"`
}

// Get returns the recipient's preferences, or defaults when none are stored.
func (h *PreferenceHandler) Get(c *gin.Context) {
	recipientID, ok := h.authorize(c)
	if !ok {
		return
	}

	pref, err := h.svc.Get(requestContext(c), recipientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, pref)
}

// Put replaces the recipient's preferences wholesale.
func (h *PreferenceHandler) Put(c *gin.Context) {
	recipientID, ok := h.authorize(c)
	if !ok {
		return
	}

	var req preferenceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.PreferenceInput{
		OptedOutTypes:  make([]models.NotificationType, 0, len(req.OptedOutTypes)),
		Channels:       make([]models.Channel, 0, len(req.Channels)),
		SoundEnabled:   req.SoundEnabled,
		DesktopEnabled: req.DesktopEnabled,
	}
	for _, t := range req.OptedOutTypes {
		input.OptedOutTypes = append(input.OptedOutTypes, models.NotificationType(strings.TrimSpace(t)))
	}
	for _, ch := range req.Channels {
		input.Channels = append(input.Channels, models.Channel(ch))
	}
	if req.QuietHours != nil {
		input.QuietHours = &services.QuietHoursInput{
			Start:    req.QuietHours.Start,
			End:      req.QuietHours.End,
			Timezone: req.QuietHours.Timezone,
		}
	}

	pref, err := h.svc.Replace(requestContext(c), recipientID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, pref)
}

// authorize lets recipients manage their own preferences and defers to
// preference.manage for everyone else.
func (h *PreferenceHandler) authorize(c *gin.Context) (string, bool) {
	identity, ok := requireIdentity(c)
	if !ok {
		return "", false
	}

	recipientID := strings.TrimSpace(c.Param("recipientID"))
	allowed, err := h.svc.CanManage(requestContext(c), identity, recipientID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return "", false
	}
	if !allowed {
		response.Error(c, errors.ErrForbidden)
		return "", false
	}
	return recipientID, true
}
