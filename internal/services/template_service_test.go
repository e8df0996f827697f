package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/pbxnotify/internal/database/testutil"
	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

func newTemplateService(t *testing.T) *TemplateService {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewTemplateService(db, audit)
	require.NoError(t, err)
	return svc
}

func TestTemplateServiceSeededCatalog(t *testing.T) {
	svc := newTemplateService(t)

	templates, err := svc.List(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(templates))
	for _, tpl := range templates {
		names = append(names, tpl.Name)
	}
	require.Equal(t, []string{"announcement", "missed_call", "sms_received", "system_alert", "task_assigned", "voicemail"}, names)

	tpl, out, err := svc.Render(context.Background(), "voicemail", map[string]any{
		"caller":   "2001",
		"duration": 42,
		"mailbox":  "2000",
	})
	require.NoError(t, err)
	require.Equal(t, models.TypeVoicemail, tpl.Type)
	require.Equal(t, "New voicemail from 2001", out.Title)
	require.Equal(t, "42s message in mailbox 2000", out.Message)
	require.Equal(t, models.PriorityHigh, out.Priority)
}

func TestTemplateServiceCRUD(t *testing.T) {
	svc := newTemplateService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, TemplateInput{
		Name:         "queue_overflow",
		Type:         models.TypeAlert,
		TitlePattern: "Queue {{.queue}} overflowing",
	})
	require.NoError(t, err)
	require.Equal(t, models.PriorityNormal, created.DefaultPriority)

	_, err = svc.Create(ctx, TemplateInput{Name: "queue_overflow", Type: models.TypeAlert, TitlePattern: "dup"})
	require.True(t, errors.Is(err, apperrors.ErrConflict))

	updated, err := svc.Update(ctx, "queue_overflow", TemplateInput{
		Type:            models.TypeAlert,
		TitlePattern:    "Queue {{.queue}} has {{.waiting}} callers",
		DefaultPriority: models.PriorityUrgent,
	})
	require.NoError(t, err)
	require.Equal(t, models.PriorityUrgent, updated.DefaultPriority)
	require.Equal(t, "queue_overflow", updated.Name)

	require.NoError(t, svc.Delete(ctx, "queue_overflow"))
	_, err = svc.Get(ctx, "queue_overflow")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.True(t, errors.Is(svc.Delete(ctx, "queue_overflow"), apperrors.ErrNotFound))
}

func TestTemplateServiceRejectsInvalidInput(t *testing.T) {
	svc := newTemplateService(t)
	ctx := context.Background()

	cases := []TemplateInput{
		{Type: models.TypeAlert, TitlePattern: "x"},
		{Name: "bad_type", Type: "fax", TitlePattern: "x"},
		{Name: "bad_priority", Type: models.TypeAlert, TitlePattern: "x", DefaultPriority: "meh"},
		{Name: "no_title", Type: models.TypeAlert},
		{Name: "bad_pattern", Type: models.TypeAlert, TitlePattern: "{{.x"},
	}
	for _, input := range cases {
		_, err := svc.Create(ctx, input)
		require.Truef(t, errors.Is(err, apperrors.ErrValidation), "input %+v", input)
	}
}

func TestTemplateServiceRenderUnknownTemplate(t *testing.T) {
	svc := newTemplateService(t)

	_, _, err := svc.Render(context.Background(), "does_not_exist", nil)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}
