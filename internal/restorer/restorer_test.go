package restorer_test

import (
	"math"
	"testing"
	"time"

	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/restorer"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

func newWriter(t *testing.T, dir string, now func() time.Time) *stream.Writer {
	t.Helper()
	cfg := &config.Config{
		LogLevel:             config.LogLevelEverything,
		StoragePath:          dir,
		EnableIntegrityCheck: true,
	}
	w := stream.New(cfg, stream.WithClock(now))
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return w
}

func TestDetectImplicitResumptionNoPriorActivity(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newWriter(t, dir, func() time.Time { return clock })

	r := restorer.New(w).WithClock(func() time.Time { return clock })
	decision, err := r.DetectImplicitResumption(30)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if decision.ShouldRestore {
		t.Fatalf("expected no restore with empty stream")
	}
	if !math.IsInf(decision.GapMinutes, 1) {
		t.Fatalf("expected +Inf gap, got %v", decision.GapMinutes)
	}
}

func TestDetectImplicitResumptionWithinThreshold(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newWriter(t, dir, func() time.Time { return clock })
	w.Append(stream.Action{
		ID:          "a1",
		Timestamp:   stream.FormatTimestamp(clock),
		Type:        stream.TypeToolCall,
		Severity:    stream.SeverityLow,
		Platform:    "test",
		Description: "did something",
		SessionID:   "s1",
	})

	clock = clock.Add(10 * time.Minute)
	r := restorer.New(w).WithClock(func() time.Time { return clock })
	decision, err := r.DetectImplicitResumption(30)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !decision.ShouldRestore {
		t.Fatalf("expected restore within threshold, gap=%v", decision.GapMinutes)
	}
	if decision.RecentContext == nil {
		t.Fatalf("expected recent context to be populated")
	}
}

func TestDetectImplicitResumptionPastThreshold(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newWriter(t, dir, func() time.Time { return clock })
	w.Append(stream.Action{
		ID:          "a1",
		Timestamp:   stream.FormatTimestamp(clock),
		Type:        stream.TypeToolCall,
		Severity:    stream.SeverityLow,
		Platform:    "test",
		Description: "did something",
	})

	clock = clock.Add(2 * time.Hour)
	r := restorer.New(w).WithClock(func() time.Time { return clock })
	decision, err := r.DetectImplicitResumption(30)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if decision.ShouldRestore {
		t.Fatalf("expected no restore past threshold, gap=%v", decision.GapMinutes)
	}
}

func TestRestoreContextFiltersBySessionAndExtractsDecisions(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newWriter(t, dir, func() time.Time { return clock })

	w.Append(stream.Action{
		ID: "a1", Timestamp: stream.FormatTimestamp(clock), Type: stream.TypeToolCall,
		Severity: stream.SeverityLow, Platform: "test", Description: "other session", SessionID: "other",
	})
	w.Append(stream.Action{
		ID: "a2", Timestamp: stream.FormatTimestamp(clock.Add(time.Minute)), Type: stream.TypeToolCall,
		Severity: stream.SeverityCritical, Platform: "test", Description: "critical thing", SessionID: "s1",
		ToolName: "write",
	})
	w.Append(stream.Action{
		ID: "a3", Timestamp: stream.FormatTimestamp(clock.Add(2 * time.Minute)), Type: stream.TypeToolCall,
		Severity: stream.SeverityLow, Platform: "test", Description: "normal thing", SessionID: "s1",
		ToolName: "exec",
	})

	r := restorer.New(w).WithClock(func() time.Time { return clock })
	ctx, err := r.RestoreContext("s1")
	if err != nil {
		t.Fatalf("restore context: %v", err)
	}
	if ctx.ActionCount != 2 {
		t.Fatalf("expected 2 matched actions, got %d", ctx.ActionCount)
	}
	if ctx.CriticalCount != 1 {
		t.Fatalf("expected 1 critical action, got %d", ctx.CriticalCount)
	}
	if len(ctx.KeyDecisions) != 1 {
		t.Fatalf("expected 1 key decision, got %d", len(ctx.KeyDecisions))
	}
	wantWorkflows := map[string]bool{"file-operations": true, "command-execution": true}
	if len(ctx.ActiveWorkflows) != 2 {
		t.Fatalf("expected 2 active workflows, got %v", ctx.ActiveWorkflows)
	}
	for _, wf := range ctx.ActiveWorkflows {
		if !wantWorkflows[wf] {
			t.Fatalf("unexpected workflow %q", wf)
		}
	}
}

func TestRestoreContextNoMatchingSession(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newWriter(t, dir, func() time.Time { return clock })
	w.Append(stream.Action{
		ID: "a1", Timestamp: stream.FormatTimestamp(clock), Type: stream.TypeToolCall,
		Severity: stream.SeverityLow, Platform: "test", Description: "x", SessionID: "other",
	})

	r := restorer.New(w).WithClock(func() time.Time { return clock })
	ctx, err := r.RestoreContext("missing")
	if err != nil {
		t.Fatalf("restore context: %v", err)
	}
	if ctx.ActionCount != 0 {
		t.Fatalf("expected 0 matched actions, got %d", ctx.ActionCount)
	}
}

func TestGetRecentActivitySummaryHighlightsCriticalAndStart(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newWriter(t, dir, func() time.Time { return clock })

	w.Append(stream.Action{
		ID: "a1", Timestamp: stream.FormatTimestamp(clock), Type: stream.TypeAgentStart,
		Severity: stream.SeverityLow, Platform: "test", Description: "agent booted", SessionID: "s1",
	})
	w.Append(stream.Action{
		ID: "a2", Timestamp: stream.FormatTimestamp(clock.Add(time.Minute)), Type: stream.TypeToolCall,
		Severity: stream.SeverityCritical, Platform: "test", Description: "something bad", SessionID: "s1",
	})

	clock = clock.Add(10 * time.Minute)
	r := restorer.New(w).WithClock(func() time.Time { return clock })
	summary, err := r.GetRecentActivitySummary(1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Count != 2 {
		t.Fatalf("expected count 2, got %d", summary.Count)
	}
	if summary.DistinctSessions != 1 {
		t.Fatalf("expected 1 distinct session, got %d", summary.DistinctSessions)
	}
	if len(summary.Highlights) != 2 {
		t.Fatalf("expected 2 highlights, got %v", summary.Highlights)
	}
}

func TestIsDecisionalMatchesHeuristic(t *testing.T) {
	cases := map[string]bool{
		"I think we should proceed":        true,
		"Let's DECIDE on an approach":      true,
		"just a status update":             false,
		"my conclusion is to roll forward": true,
	}
	for content, want := range cases {
		if got := restorer.IsDecisional(content); got != want {
			t.Errorf("IsDecisional(%q) = %v, want %v", content, got, want)
		}
	}
}
