package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

// Listing bounds for ListForRecipient.
const (
	DefaultListLimit = 25
	MaxListLimit     = 100
)

const materializeBatchSize = 200

// ListDeliveriesInput selects a page of a recipient's deliveries.
type ListDeliveriesInput struct {
	RecipientID      string
	Cursor           string
	Limit            int
	IncludeDismissed bool
}

// DeliveryPage is one page of a recipient's deliveries, newest first.
type DeliveryPage struct {
	Items      []models.Delivery `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// DeliveryStats summarises a notification's ledger rows.
type DeliveryStats struct {
	Recipients int64 `gorm:"column:recipient_count" json:"recipients"`
	Delivered  int64 `gorm:"column:delivered_count" json:"delivered"`
	Read       int64 `gorm:"column:read_count" json:"read"`
	Dismissed  int64 `gorm:"column:dismissed_count" json:"dismissed"`
}

// DeliveryLedger owns every mutation of recipient visible delivery state.
type DeliveryLedger struct {
	db  *gorm.DB
	now Clock
}

// NewDeliveryLedger constructs a ledger over db.
func NewDeliveryLedger(db *gorm.DB) (*DeliveryLedger, error) {
	if db == nil {
		return nil, errors.New("delivery ledger: db is required")
	}
	return &DeliveryLedger{db: db, now: systemClock}, nil
}

// WithClock overrides the ledger clock.
func (l *DeliveryLedger) WithClock(clock Clock) *DeliveryLedger {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Materialize inserts one undelivered row per recipient, ignoring rows that
// already exist. It returns the number of rows actually inserted.
func (l *DeliveryLedger) Materialize(ctx context.Context, notificationID string, recipientIDs []string) (int64, error) {
	ctx = ensureContext(ctx)
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return 0, apperrors.NewValidation("notification id is required")
	}

	ids := normaliseIDs(recipientIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	rows := make([]models.Delivery, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.Delivery{NotificationID: notificationID, RecipientID: id})
	}

	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, materializeBatchSize)
	if result.Error != nil {
		return 0, fmt.Errorf("delivery ledger: materialize: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Deliver materializes rows for the recipients and stamps delivered_at on
// every one of them that is still undelivered, in a single transaction.
// Rows left undelivered by an earlier run are stamped too. It returns the
// number of rows inserted.
func (l *DeliveryLedger) Deliver(ctx context.Context, notificationID string, recipientIDs []string) (int64, error) {
	ctx = ensureContext(ctx)
	ids := normaliseIDs(recipientIDs)

	var inserted int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := &DeliveryLedger{db: tx, now: l.now}
		n, err := scoped.Materialize(ctx, notificationID, ids)
		if err != nil {
			return err
		}
		inserted = n
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&models.Delivery{}).
			Where("notification_id = ? AND recipient_id IN ? AND delivered_at IS NULL", strings.TrimSpace(notificationID), ids).
			Update("delivered_at", l.now()).Error; err != nil {
			return fmt.Errorf("delivery ledger: stamp delivered: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// MarkDelivered stamps delivered_at once. It reports whether the row changed.
func (l *DeliveryLedger) MarkDelivered(ctx context.Context, notificationID, recipientID string) (bool, error) {
	ctx = ensureContext(ctx)

	result := l.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("notification_id = ? AND recipient_id = ? AND delivered_at IS NULL", notificationID, recipientID).
		Update("delivered_at", l.now())
	if result.Error != nil {
		return false, fmt.Errorf("delivery ledger: mark delivered: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkRead sets read_at on a delivered row. Repeating the call is a no-op
// success; undelivered rows fail with ErrNotDelivered.
func (l *DeliveryLedger) MarkRead(ctx context.Context, recipientID, notificationID string) (*models.Delivery, error) {
	return l.advance(ctx, recipientID, notificationID, "read_at")
}

// MarkDismissed sets dismissed_at with the same contract as MarkRead.
func (l *DeliveryLedger) MarkDismissed(ctx context.Context, recipientID, notificationID string) (*models.Delivery, error) {
	return l.advance(ctx, recipientID, notificationID, "dismissed_at")
}

func (l *DeliveryLedger) advance(ctx context.Context, recipientID, notificationID, column string) (*models.Delivery, error) {
	ctx = ensureContext(ctx)

	result := l.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("notification_id = ? AND recipient_id = ? AND delivered_at IS NOT NULL AND "+column+" IS NULL", notificationID, recipientID).
		Update(column, l.now())
	if result.Error != nil {
		return nil, fmt.Errorf("delivery ledger: set %s: %w", column, result.Error)
	}

	row, err := l.find(ctx, recipientID, notificationID)
	if err != nil {
		return nil, err
	}
	if row.DeliveredAt == nil {
		return nil, apperrors.ErrNotDelivered
	}
	return row, nil
}

// Get returns the caller's row with its notification and channel attempts.
func (l *DeliveryLedger) Get(ctx context.Context, recipientID, notificationID string) (*models.Delivery, error) {
	ctx = ensureContext(ctx)
	row, err := l.find(ctx, recipientID, notificationID)
	if err != nil {
		return nil, err
	}
	rows := []models.Delivery{*row}
	if err := l.attachAttempts(ctx, recipientID, rows); err != nil {
		return nil, err
	}
	return &rows[0], nil
}

func (l *DeliveryLedger) find(ctx context.Context, recipientID, notificationID string) (*models.Delivery, error) {
	var row models.Delivery
	err := l.db.WithContext(ctx).
		Preload("Notification").
		Where("notification_id = ? AND recipient_id = ?", notificationID, recipientID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("delivery not found")
	}
	if err != nil {
		return nil, fmt.Errorf("delivery ledger: load delivery: %w", err)
	}
	return &row, nil
}

// Ownership succeeds when recipientID holds a row for notificationID. Callers
// get ErrForbidden for someone else's notification and ErrNotFound otherwise.
func (l *DeliveryLedger) Ownership(ctx context.Context, recipientID, notificationID string) error {
	ctx = ensureContext(ctx)

	var owned int64
	if err := l.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("notification_id = ? AND recipient_id = ?", notificationID, recipientID).
		Count(&owned).Error; err != nil {
		return fmt.Errorf("delivery ledger: check ownership: %w", err)
	}
	if owned > 0 {
		return nil
	}

	var exists int64
	if err := l.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Count(&exists).Error; err != nil {
		return fmt.Errorf("delivery ledger: check notification: %w", err)
	}
	if exists > 0 {
		return apperrors.ErrForbidden.WithMessage("notification belongs to another recipient")
	}
	return apperrors.ErrNotFound.WithMessage("notification not found")
}

// unreadRank sorts unread rows ahead of read rows delivered at the same instant.
const unreadRank = "CASE WHEN deliveries.read_at IS NULL THEN 1 ELSE 0 END"

// ListForRecipient pages through delivered, unexpired rows ordered by
// delivered_at descending, unread first among equal timestamps, then
// notification id descending.
func (l *DeliveryLedger) ListForRecipient(ctx context.Context, input ListDeliveriesInput) (*DeliveryPage, error) {
	ctx = ensureContext(ctx)
	recipientID := strings.TrimSpace(input.RecipientID)
	if recipientID == "" {
		return nil, apperrors.NewValidation("recipient id is required")
	}
	limit := ClampListLimit(input.Limit)

	query := l.visible(ctx, recipientID)
	if !input.IncludeDismissed {
		query = query.Where("deliveries.dismissed_at IS NULL")
	}
	if input.Cursor != "" {
		cur, err := decodeCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		rank := 0
		if cur.Unread {
			rank = 1
		}
		query = query.Where(
			"(deliveries.delivered_at < ? OR (deliveries.delivered_at = ? AND ("+unreadRank+" < ? OR ("+unreadRank+" = ? AND deliveries.notification_id < ?))))",
			cur.DeliveredAt, cur.DeliveredAt, rank, rank, cur.NotificationID,
		)
	}

	var rows []models.Delivery
	if err := query.
		Preload("Notification").
		Order("deliveries.delivered_at DESC").
		Order(unreadRank + " DESC").
		Order("deliveries.notification_id DESC").
		Limit(limit + 1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("delivery ledger: list deliveries: %w", err)
	}

	page := &DeliveryPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(listCursor{
			DeliveredAt:    *last.DeliveredAt,
			Unread:         !last.IsRead(),
			NotificationID: last.NotificationID,
		})
	}
	if page.Items == nil {
		page.Items = []models.Delivery{}
	}
	if err := l.attachAttempts(ctx, recipientID, page.Items); err != nil {
		return nil, err
	}
	return page, nil
}

// CountUnread counts delivered, unexpired rows the recipient has not read.
func (l *DeliveryLedger) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := l.visible(ctx, strings.TrimSpace(recipientID)).
		Where("deliveries.read_at IS NULL").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("delivery ledger: count unread: %w", err)
	}
	return count, nil
}

// Stats aggregates ledger state for a notification.
func (l *DeliveryLedger) Stats(ctx context.Context, notificationID string) (DeliveryStats, error) {
	ctx = ensureContext(ctx)

	var stats DeliveryStats
	err := l.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Select("COUNT(*) AS recipient_count, COUNT(delivered_at) AS delivered_count, " +
			"COUNT(read_at) AS read_count, COUNT(dismissed_at) AS dismissed_count").
		Where("notification_id = ?", notificationID).
		Scan(&stats).Error
	if err != nil {
		return DeliveryStats{}, fmt.Errorf("delivery ledger: stats: %w", err)
	}
	return stats, nil
}

func (l *DeliveryLedger) visible(ctx context.Context, recipientID string) *gorm.DB {
	return l.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Joins("JOIN notifications ON notifications.id = deliveries.notification_id").
		Where("deliveries.recipient_id = ? AND deliveries.delivered_at IS NOT NULL", recipientID).
		Where("(notifications.expires_at IS NULL OR notifications.expires_at > ?)", l.now())
}

func (l *DeliveryLedger) attachAttempts(ctx context.Context, recipientID string, rows []models.Delivery) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.NotificationID)
	}

	var attempts []models.ChannelAttempt
	if err := l.db.WithContext(ctx).
		Where("recipient_id = ? AND notification_id IN ?", recipientID, ids).
		Order("attempted_at ASC").
		Order("attempt ASC").
		Find(&attempts).Error; err != nil {
		return fmt.Errorf("delivery ledger: load channel attempts: %w", err)
	}

	grouped := make(map[string][]models.ChannelAttempt, len(rows))
	for _, attempt := range attempts {
		grouped[attempt.NotificationID] = append(grouped[attempt.NotificationID], attempt)
	}
	for i := range rows {
		rows[i].ChannelAttempts = grouped[rows[i].NotificationID]
		if rows[i].ChannelAttempts == nil {
			rows[i].ChannelAttempts = []models.ChannelAttempt{}
		}
	}
	return nil
}

// ClampListLimit returns the page size ListForRecipient actually uses.
func ClampListLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// listCursor is the keyset position of the last row of a page.
type listCursor struct {
	DeliveredAt    time.Time
	Unread         bool
	NotificationID string
}

func encodeCursor(c listCursor) string {
	unread := "0"
	if c.Unread {
		unread = "1"
	}
	raw := c.DeliveredAt.UTC().Format(time.RFC3339Nano) + "|" + unread + "|" + c.NotificationID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (listCursor, error) {
	invalid := apperrors.NewValidation("invalid cursor")
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(cursor))
	if err != nil {
		return listCursor{}, invalid
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 || parts[2] == "" || (parts[1] != "0" && parts[1] != "1") {
		return listCursor{}, invalid
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return listCursor{}, invalid
	}
	return listCursor{DeliveredAt: at.UTC(), Unread: parts[1] == "1", NotificationID: parts[2]}, nil
}
