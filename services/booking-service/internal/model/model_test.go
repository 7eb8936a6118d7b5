package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusPending, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusConfirmed, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTransitionStampsCancellation(t *testing.T) {
	at := time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC)
	a := Appointment{ID: "a1", Status: StatusConfirmed}

	if err := a.Transition(StatusCancelled, at); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if a.CancelledAt == nil || !a.CancelledAt.Equal(at) || !a.UpdatedAt.Equal(at) {
		t.Fatalf("cancellation not stamped: %+v", a)
	}
	if err := a.Transition(StatusCancelled, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel: expected ErrNotFound, got %v", err)
	}
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	a := Appointment{Start: base, End: base.Add(30 * time.Minute)}

	if a.Overlaps(base.Add(30*time.Minute), base.Add(time.Hour)) {
		t.Fatalf("touching intervals must not overlap")
	}
	if !a.Overlaps(base.Add(29*time.Minute), base.Add(time.Hour)) {
		t.Fatalf("expected overlap")
	}
}

func TestDateArithmetic(t *testing.T) {
	d, err := ParseDate("2028-02-28")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if got := d.AddDays(1).String(); got != "2028-02-29" {
		t.Fatalf("AddDays across leap day: %s", got)
	}
	if got := d.AddDays(2).String(); got != "2028-03-01" {
		t.Fatalf("AddDays into March: %s", got)
	}
	if !d.Before(d.AddDays(1)) || d.After(d) {
		t.Fatalf("ordering broken")
	}
	if Date.Weekday(Date{2026, time.January, 5}) != time.Monday {
		t.Fatalf("2026-01-05 is a Monday")
	}
	if !IsLeapYear(2000) || IsLeapYear(1900) || IsLeapYear(2026) {
		t.Fatalf("leap year rules broken")
	}
	if _, err := ParseDate("2026-13-01"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDateDecodesFromYAML(t *testing.T) {
	var h Holiday
	if err := yaml.Unmarshal([]byte("date: 2026-04-13\nname: Songkran\nactive: true\n"), &h); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if h.Date != (Date{2026, time.April, 13}) || !h.Active {
		t.Fatalf("unexpected holiday %+v", h)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsConflict(fmt.Errorf("%w: taken", ErrSlotUnavailable)) || !IsConflict(ErrHolidayConflict) {
		t.Fatalf("conflicts misclassified")
	}
	if IsConflict(ErrValidation) || !IsValidation(ErrValidation) || !IsValidation(ErrInvalidEventType) {
		t.Fatalf("validation misclassified")
	}
}

func TestWindowValidate(t *testing.T) {
	if err := (Window{DayOfWeek: time.Monday, StartMinute: 540, EndMinute: 720}).Validate(); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}
	if err := (Window{DayOfWeek: time.Monday, StartMinute: 720, EndMinute: 540}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("inverted window accepted")
	}
}
