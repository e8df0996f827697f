package models

import (
	"errors"
	"strings"
)

// TargetKind identifies which variant of a Target is populated.
type TargetKind string

const (
	TargetKindUser      TargetKind = "user"
	TargetKindRole      TargetKind = "role"
	TargetKindGroup     TargetKind = "group"
	TargetKindBroadcast TargetKind = "broadcast"
)

// ErrMalformedTarget is returned when a Target has zero or several variants set.
var ErrMalformedTarget = errors.New("target must set exactly one of user_id, role, group, broadcast")

// Target is the abstract addressee of a notification. Exactly one field is set.
type Target struct {
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Group     string `json:"group,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`
}

// Kind returns the populated variant or ErrMalformedTarget.
func (t Target) Kind() (TargetKind, error) {
	var (
		kind  TargetKind
		count int
	)
	if strings.TrimSpace(t.UserID) != "" {
		kind, count = TargetKindUser, count+1
	}
	if strings.TrimSpace(t.Role) != "" {
		kind, count = TargetKindRole, count+1
	}
	if strings.TrimSpace(t.Group) != "" {
		kind, count = TargetKindGroup, count+1
	}
	if t.Broadcast {
		kind, count = TargetKindBroadcast, count+1
	}
	if count != 1 {
		return "", ErrMalformedTarget
	}
	return kind, nil
}

// Normalized trims whitespace from the populated field.
func (t Target) Normalized() Target {
	return Target{
		UserID:    strings.TrimSpace(t.UserID),
		Role:      strings.TrimSpace(t.Role),
		Group:     strings.TrimSpace(t.Group),
		Broadcast: t.Broadcast,
	}
}
