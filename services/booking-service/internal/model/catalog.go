package model

import (
	"fmt"
	"time"
)

type Provider struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"-"`
	Name     string `yaml:"name"`
	Active   bool   `yaml:"active"`
	// TemplateID is the provider's default weekly hours, used when the
	// event type does not name a template of its own.
	TemplateID string `yaml:"template_id"`
}

type EventType struct {
	ID                         string   `yaml:"id"`
	TenantID                   string   `yaml:"-"`
	Name                       string   `yaml:"name"`
	DurationMinutes            int      `yaml:"duration_minutes"`
	TemplateID                 string   `yaml:"template_id"`
	RequiresProviderAssignment bool     `yaml:"requires_provider_assignment"`
	ProviderIDs                []string `yaml:"provider_ids"`
	MinNoticeMinutes           int      `yaml:"min_notice_minutes"`
	// Buffers keep the provider free around each appointment of this type.
	BufferBeforeMinutes int `yaml:"buffer_before_minutes"`
	BufferAfterMinutes  int `yaml:"buffer_after_minutes"`
	// MaxAdvanceDays limits how far ahead slots are offered. Zero means no limit.
	MaxAdvanceDays int  `yaml:"max_advance_days"`
	Active         bool `yaml:"active"`
}

func (e EventType) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e EventType) MinNotice() time.Duration {
	return time.Duration(e.MinNoticeMinutes) * time.Minute
}

func (e EventType) BufferBefore() time.Duration {
	return time.Duration(e.BufferBeforeMinutes) * time.Minute
}

func (e EventType) BufferAfter() time.Duration {
	return time.Duration(e.BufferAfterMinutes) * time.Minute
}

// Window is one recurring weekly opening, minutes since local midnight.
type Window struct {
	DayOfWeek   time.Weekday `yaml:"day_of_week"`
	StartMinute int          `yaml:"start_minute"`
	EndMinute   int          `yaml:"end_minute"`
	// Timezone is an IANA name; empty means the tenant timezone.
	Timezone string `yaml:"timezone"`
}

func (w Window) Validate() error {
	if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
		return fmt.Errorf("%w: day_of_week %d out of range", ErrValidation, w.DayOfWeek)
	}
	if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
		return fmt.Errorf("%w: window %d-%d is not a valid time range", ErrValidation, w.StartMinute, w.EndMinute)
	}
	return nil
}

type AvailabilityTemplate struct {
	ID       string   `yaml:"id"`
	TenantID string   `yaml:"-"`
	Name     string   `yaml:"name"`
	Windows  []Window `yaml:"windows"`
}

// DateOverride replaces a provider's template hours on one date. Either
// the whole day is blocked or the given range becomes the day's only window.
// Several overrides on the same date add up.
type DateOverride struct {
	ProviderID  string `yaml:"provider_id"`
	Date        Date   `yaml:"date"`
	Unavailable bool   `yaml:"unavailable"`
	StartMinute int    `yaml:"start_minute"`
	EndMinute   int    `yaml:"end_minute"`
}
