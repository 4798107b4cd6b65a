package domain

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Subscriber is one member of a preference group.
type Subscriber struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId,omitempty"`
}

// FrequencyGroup is the (frequency, time key) partition key of a feature type.
type FrequencyGroup struct {
	Frequency Frequency
	TimeKey   string
}

// DynamicSchedule is a scheduler-owned trigger derived from a preference group.
type DynamicSchedule struct {
	ScheduleID  string       `json:"scheduleId"`
	FeatureType string       `json:"featureType"`
	Frequency   Frequency    `json:"frequency"`
	TimeKey     string       `json:"timeKey"`
	UserCount   int          `json:"userCount"`
	Subscribers []Subscriber `json:"-"`
}

// ScheduleIDFor derives the schedule id of a preference group. The same three
// inputs always yield the same id. The readable prefix is lossy; the appended
// xxhash of the raw inputs separates groups whose prefixes coincide.
func ScheduleIDFor(featureType string, frequency Frequency, timeKey string) string {
	sum := xxhash.Sum64String(featureType + "\x00" + frequency.String() + "\x00" + timeKey)
	return fmt.Sprintf("pref_%s_%s_%s_%016x",
		sanitizeKeyPart(featureType),
		sanitizeKeyPart(frequency.String()),
		sanitizeKeyPart(timeKey),
		sum,
	)
}

func sanitizeKeyPart(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, normalized)
}

// ScheduleFromTimeKey builds a Schedule from a preference group's time key.
// Accepted forms are "HH:MM" and "DAY@HH:MM", where DAY is a weekday name for
// weekly groups or a day of month for monthly groups.
func ScheduleFromTimeKey(frequency Frequency, timeKey string) Schedule {
	day, clock, ok := strings.Cut(strings.TrimSpace(timeKey), "@")
	if !ok {
		clock = day
		day = ""
	}
	return Schedule{
		Frequency: frequency.String(),
		Time:      clock,
		Day:       day,
	}
}
