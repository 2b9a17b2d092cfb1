package planner

import (
	"context"
	"log/slog"
)

// Stage names a point in a compilation observed by Hooks.
type Stage string

const (
	StageResolved     Stage = "resolved"
	StageDisconnected Stage = "disconnected"
	StageCompiled     Stage = "compiled"
	StageBaseSelected Stage = "base_selected"
	StagePlanned      Stage = "planned"
)

// Event describes one observed stage. It carries only names and counts,
// never plan pointers, so observers cannot mutate the plan.
type Event struct {
	TraceID     string
	Stage       Stage
	Pass        string   // "direct" or "whole_grain" for resolution stages
	Components  int      // connected components after resolution
	Datasources []string // resolved datasource identifiers, sorted
	CTEs        []string // CTE names in compiled order
	Base        string   // base CTE name
	Joins       int
	Fingerprint string
}

// Hooks observes a compilation for tracing or telemetry.
type Hooks interface {
	Resolved(Event)
	Disconnected(Event)
	Compiled(Event)
	BaseSelected(Event)
	Planned(Event)
}

// NopHooks ignores every event.
type NopHooks struct{}

func (NopHooks) Resolved(Event)     {}
func (NopHooks) Disconnected(Event) {}
func (NopHooks) Compiled(Event)     {}
func (NopHooks) BaseSelected(Event) {}
func (NopHooks) Planned(Event)      {}

// LogHooks writes every event to a structured logger.
type LogHooks struct {
	Logger *slog.Logger
}

func (h LogHooks) log(level slog.Level, e Event) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), level, "planner stage",
		"trace", e.TraceID,
		"stage", string(e.Stage),
		"pass", e.Pass,
		"components", e.Components,
		"datasources", len(e.Datasources),
		"ctes", len(e.CTEs),
		"base", e.Base,
		"joins", e.Joins,
		"fingerprint", e.Fingerprint)
}

func (h LogHooks) Resolved(e Event)     { h.log(slog.LevelDebug, e) }
func (h LogHooks) Disconnected(e Event) { h.log(slog.LevelWarn, e) }
func (h LogHooks) Compiled(e Event)     { h.log(slog.LevelDebug, e) }
func (h LogHooks) BaseSelected(e Event) { h.log(slog.LevelDebug, e) }
func (h LogHooks) Planned(e Event)      { h.log(slog.LevelInfo, e) }

// Recorder collects events in order. It is useful in tests and for the CLI
// trace output.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Resolved(e Event)     { r.Events = append(r.Events, e) }
func (r *Recorder) Disconnected(e Event) { r.Events = append(r.Events, e) }
func (r *Recorder) Compiled(e Event)     { r.Events = append(r.Events, e) }
func (r *Recorder) BaseSelected(e Event) { r.Events = append(r.Events, e) }
func (r *Recorder) Planned(e Event)      { r.Events = append(r.Events, e) }

// Stages returns the recorded stages in order.
func (r *Recorder) Stages() []Stage {
	out := make([]Stage, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Stage
	}
	return out
}
