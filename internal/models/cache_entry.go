package models

import (
	"time"
)

// CacheEntry backs cache.Store when redis is disabled. It holds session
// liveness markers and rate-limit windows. A zero ExpiresAt never expires.
type CacheEntry struct {
	Key string `gorm:"primaryKey;size:256"`
	// Untyped so every dialect picks its own binary column.
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
