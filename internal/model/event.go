package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies queued work items. Validation events are drained
// by the manage mode, backfill events by the backfill mode.
type EventType string

const (
	// Validation events.
	EventAuto    EventType = "auto"
	EventManual  EventType = "manual"
	EventArchive EventType = "archive"

	// Backfill events. Revalidate events are claimed by manage workers
	// (ValidationTypes), not by backfill workers.
	EventBackfill   EventType = "backfill"
	EventForwardfill EventType = "forwardfill"
	EventRevalidate  EventType = "revalidate"
)

// ValidationTypes are the event types claimed by manage workers.
var ValidationTypes = []EventType{EventAuto, EventManual, EventArchive, EventRevalidate}

// BackfillTypes are the event types claimed by backfill workers.
var BackfillTypes = []EventType{EventBackfill, EventForwardfill}

// EventStatus is the lifecycle of a queued work item:
// new -> open -> done | error.
type EventStatus string

const (
	EventNew   EventStatus = "new"
	EventOpen  EventStatus = "open"
	EventDone  EventStatus = "done"
	EventError EventStatus = "error"
)

// Event is a durable work item in the events queue. Queue rows are
// unique on (type, exchange, market, start, duration), so events of
// different types for the same window are separate rows.
type Event struct {
	ID          int64
	Type        EventType
	Exchange    string
	MarketID    uuid.UUID
	Start       time.Time // bucket or window start, UTC
	Duration    int64     // seconds; timeframe for candles, 86400 for days
	Droplet     string    // empty = any instance may claim
	Status      EventStatus
	Notes       string
	CreatedTS   time.Time
	ProcessedTS *time.Time
	Attempts    int
}

// Alert is an insert-only row surfaced to operators, with droplet and
// exchange context.
type Alert struct {
	ID        int64
	Droplet   string
	Exchange  string
	MarketID  *uuid.UUID
	Level     string // info | warning | critical
	Message   string
	CreatedTS time.Time
}
