package services

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

// Rendered is the concrete output of a template expansion.
type Rendered struct {
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Icon     string          `json:"icon"`
	Priority models.Priority `json:"priority"`
}

// RenderTemplate expands tpl against vars. Missing variables and malformed
// patterns are validation errors.
func RenderTemplate(tpl models.NotificationTemplate, vars map[string]any) (Rendered, error) {
	if vars == nil {
		vars = map[string]any{}
	}

	title, err := expandPattern(tpl.Name+".title", tpl.TitlePattern, vars)
	if err != nil {
		return Rendered{}, apperrors.NewValidation("template %q: %v", tpl.Name, err)
	}
	if strings.TrimSpace(title) == "" {
		return Rendered{}, apperrors.NewValidation("template %q rendered an empty title", tpl.Name)
	}

	message, err := expandPattern(tpl.Name+".message", tpl.MessagePattern, vars)
	if err != nil {
		return Rendered{}, apperrors.NewValidation("template %q: %v", tpl.Name, err)
	}

	priority := tpl.DefaultPriority
	if !priority.Valid() {
		priority = models.PriorityNormal
	}

	return Rendered{
		Title:    strings.TrimSpace(title),
		Message:  strings.TrimSpace(message),
		Icon:     defaultIfEmpty(strings.TrimSpace(tpl.DefaultIcon), DefaultIcon(tpl.Type)),
		Priority: priority,
	}, nil
}

func expandPattern(name, pattern string, vars map[string]any) (string, error) {
	if pattern == "" {
		return "", nil
	}
	tmpl, err := parsePattern(name, pattern)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func parsePattern(name, pattern string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(pattern)
}

// DefaultIcon returns the icon shown for a notification type when neither
// the producer nor the template supplies one.
func DefaultIcon(t models.NotificationType) string {
	switch t {
	case models.TypeSystem:
		return "info"
	case models.TypeCall:
		return "phone"
	case models.TypeVoicemail:
		return "voicemail"
	case models.TypeSMS:
		return "message-square"
	case models.TypeAlert:
		return "alert-triangle"
	case models.TypeMessage:
		return "mail"
	case models.TypeTask:
		return "clipboard-check"
	case models.TypeAnnouncement:
		return "megaphone"
	}
	return "bell"
}
