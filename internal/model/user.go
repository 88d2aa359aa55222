package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default reminder time when a user never set a preference.
const (
	DefaultReminderHour   = 22
	DefaultReminderMinute = 0
)

// Preference holds the daily reminder time and the user's timezone.
type Preference struct {
	ReminderHour   int    `json:"reminderHour"`
	ReminderMinute int    `json:"reminderMinute"`
	Timezone       string `json:"timezone"`
}

// DefaultPreference returns the 22:00 reminder in the given timezone.
func DefaultPreference(timezone string) Preference {
	return Preference{
		ReminderHour:   DefaultReminderHour,
		ReminderMinute: DefaultReminderMinute,
		Timezone:       timezone,
	}
}

func (p Preference) Validate() error {
	if p.ReminderHour < 0 || p.ReminderHour > 23 {
		return fmt.Errorf("reminderHour %d out of range 0-23", p.ReminderHour)
	}
	if p.ReminderMinute < 0 || p.ReminderMinute > 59 {
		return fmt.Errorf("reminderMinute %d out of range 0-59", p.ReminderMinute)
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the preference timezone. An empty timezone means UTC.
func (p Preference) Location() (*time.Location, error) {
	if strings.TrimSpace(p.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", p.Timezone)
	}
	return loc, nil
}

// Subscription kinds.
const (
	KindWebPush  = "webpush"
	KindTelegram = "telegram"
)

// PushKeys are the browser-generated keys of a web push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription describes where a user's notifications are delivered.
type Subscription struct {
	Kind     string   `json:"kind,omitempty"`
	Endpoint string   `json:"endpoint,omitempty"`
	Keys     PushKeys `json:"keys"`
	ChatID   int64    `json:"chatId,omitempty"`
}

// Normalized fills in the default kind.
func (s Subscription) Normalized() Subscription {
	if s.Kind == "" {
		s.Kind = KindWebPush
	}
	return s
}

func (s Subscription) Validate() error {
	switch s.Normalized().Kind {
	case KindWebPush:
		if strings.TrimSpace(s.Endpoint) == "" {
			return errors.New("subscription endpoint is required")
		}
		if s.Keys.P256dh == "" || s.Keys.Auth == "" {
			return errors.New("subscription keys are required")
		}
	case KindTelegram:
		if s.ChatID == 0 {
			return errors.New("telegram subscription requires chatId")
		}
	default:
		return fmt.Errorf("unsupported subscription kind %q", s.Kind)
	}
	return nil
}
