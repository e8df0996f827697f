package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

// Directory answers identity questions for target resolution and channel
// contact lookup.
type Directory interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	UsersInGroup(ctx context.Context, group string) ([]string, error)
	ActiveUsers(ctx context.Context) ([]string, error)
	User(ctx context.Context, id string) (*models.User, error)
}

// DatabaseDirectory reads the local users, roles and groups tables.
type DatabaseDirectory struct {
	db *gorm.DB
}

// NewDatabaseDirectory constructs a directory over db.
func NewDatabaseDirectory(db *gorm.DB) (*DatabaseDirectory, error) {
	if db == nil {
		return nil, errors.New("directory: db is required")
	}
	return &DatabaseDirectory{db: db}, nil
}

// UsersWithRole returns active identities holding the named role.
func (d *DatabaseDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ensureContext(ctx)).
		Table("users").
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.name = ? AND users.is_active = ?", role, true).
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("directory: users with role: %w", err)
	}
	return ids, nil
}

// UsersInGroup returns active members of the named group.
func (d *DatabaseDirectory) UsersInGroup(ctx context.Context, group string) ([]string, error) {
	ctx = ensureContext(ctx)
	groupIDs := d.db.WithContext(ctx).Model(&models.Group{}).Select("id").Where("name = ?", group)

	var ids []string
	err := d.db.WithContext(ctx).
		Table("users").
		Joins("JOIN user_groups ON user_groups.user_id = users.id").
		Where("user_groups.group_id IN (?) AND users.is_active = ?", groupIDs, true).
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("directory: users in group: %w", err)
	}
	return ids, nil
}

// ActiveUsers returns every active identity.
func (d *DatabaseDirectory) ActiveUsers(ctx context.Context) ([]string, error) {
	var ids []string
	if err := d.db.WithContext(ensureContext(ctx)).
		Model(&models.User{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("directory: active users: %w", err)
	}
	return ids, nil
}

// User loads a single identity with its contact data.
func (d *DatabaseDirectory) User(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := d.db.WithContext(ensureContext(ctx)).Where("id = ?", id).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("identity %q not found", id))
		}
		return nil, fmt.Errorf("directory: load user: %w", err)
	}
	return &user, nil
}

// TargetResolver turns an abstract target into concrete recipient identities.
type TargetResolver struct {
	directory Directory
}

// NewTargetResolver constructs a resolver backed by directory.
func NewTargetResolver(directory Directory) (*TargetResolver, error) {
	if directory == nil {
		return nil, errors.New("target resolver: directory is required")
	}
	return &TargetResolver{directory: directory}, nil
}

// Resolve returns the sorted, deduplicated recipients for target as the
// directory reports them now. An empty result is not an error.
func (r *TargetResolver) Resolve(ctx context.Context, target models.Target) ([]string, error) {
	ctx = ensureContext(ctx)
	target = target.Normalized()

	kind, err := target.Kind()
	if err != nil {
		return nil, apperrors.NewValidation("%v", err)
	}

	var ids []string
	switch kind {
	case models.TargetKindUser:
		ids = []string{target.UserID}
	case models.TargetKindRole:
		ids, err = r.directory.UsersWithRole(ctx, target.Role)
	case models.TargetKindGroup:
		ids, err = r.directory.UsersInGroup(ctx, target.Group)
	case models.TargetKindBroadcast:
		ids, err = r.directory.ActiveUsers(ctx)
	default:
		return nil, fmt.Errorf("target resolver: unhandled target kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("target resolver: resolve %s %s: %w", kind, describeTarget(target), err)
	}

	return sortedIDs(ids), nil
}

func describeTarget(target models.Target) string {
	switch {
	case target.UserID != "":
		return target.UserID
	case target.Role != "":
		return target.Role
	case target.Group != "":
		return target.Group
	default:
		return "all"
	}
}
