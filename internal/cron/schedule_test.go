package cron

import (
	"testing"
	"time"
)

func TestScheduleNextAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := NewSchedule(NormalizedSchedule{Kind: ScheduleAt, AtMs: now.UnixMilli()})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	next, ok, err := sched.Next(now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatalf("expected schedule to be due")
	}
	if !next.Equal(now) {
		t.Fatalf("expected next run at %v, got %v", now, next)
	}
}

func TestScheduleNextEvery(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := NewSchedule(NormalizedSchedule{Kind: ScheduleEvery, EveryMs: (5 * time.Minute).Milliseconds()})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	next, ok, err := sched.Next(now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatalf("expected schedule to be valid")
	}
	expected := now.Add(5 * time.Minute)
	if !next.Equal(expected) {
		t.Fatalf("expected next run at %v, got %v", expected, next)
	}
}

func TestScheduleNextCron(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := NewSchedule(NormalizedSchedule{Kind: ScheduleCron, Expr: "0 */5 * * *"})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	next, ok, err := sched.Next(now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatalf("expected schedule to be valid")
	}
	if !next.After(now) {
		t.Fatalf("expected next run after now")
	}
}

func TestScheduleAtDoesNotFireTwice(t *testing.T) {
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := NewSchedule(NormalizedSchedule{Kind: ScheduleAt, AtMs: at.UnixMilli()})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	_, ok, err := sched.Next(at.Add(time.Minute))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ok {
		t.Fatalf("expected an at-schedule already in the past to report not due")
	}
}
