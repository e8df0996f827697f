package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charlesng35/pbxnotify/internal/models"
)

// Decision is the Preference Engine's verdict for one recipient.
type Decision struct {
	SuppressInApp     bool             `json:"suppress_in_app"`
	ChannelsToAttempt []models.Channel `json:"channels_to_attempt"`
	InQuietHours      bool             `json:"in_quiet_hours"`
}

// Decide applies pref to notification at now. Opted out types produce no
// in-app row. Quiet hours mute every channel unless the notification is urgent.
func Decide(pref models.NotificationPreference, notification *models.Notification, now time.Time) Decision {
	if pref.OptedOut(notification.Type) {
		return Decision{SuppressInApp: true}
	}

	decision := Decision{}
	if notification.Priority != models.PriorityUrgent {
		decision.InQuietHours = inQuietHours(pref, now)
	}
	if decision.InQuietHours {
		return decision
	}

	for _, channel := range pref.Channels {
		if channel.Valid() && !containsChannel(decision.ChannelsToAttempt, channel) {
			decision.ChannelsToAttempt = append(decision.ChannelsToAttempt, channel)
		}
	}
	return decision
}

func inQuietHours(pref models.NotificationPreference, now time.Time) bool {
	if !pref.HasQuietHours() {
		return false
	}
	start, err := parseClock(pref.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(pref.QuietHoursEnd)
	if err != nil {
		return false
	}

	local := now.In(loadLocation(pref.QuietHoursTimezone))
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// window wraps midnight
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" into minutes past midnight.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}

func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func containsChannel(values []models.Channel, target models.Channel) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
