// Package restorer decides whether a fresh agent start should be treated
// as a continuation of recent activity and summarizes what the stream
// already knows. It is read-only: every operation here is built on the
// stream writer's query surface.
package restorer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/tomismeta/continuity-plugin/internal/stream"
)

// reader is the subset of *stream.Writer the restorer depends on, kept
// narrow so tests can fake it without standing up a full writer.
type reader interface {
	GetRecentActions(limit int) ([]stream.Action, error)
	QueryActions(f stream.QueryFilter) ([]stream.Action, error)
	GetStats() (stream.Stats, error)
}

// Restorer decides implicit resumption and rebuilds context summaries.
type Restorer struct {
	reader reader
	now    func() time.Time
}

// New builds a Restorer over r. now defaults to time.Now.
func New(r reader) *Restorer {
	return &Restorer{reader: r, now: time.Now}
}

// WithClock overrides the wall clock, for tests exercising gap-minute math.
func (r *Restorer) WithClock(now func() time.Time) *Restorer {
	r.now = now
	return r
}

// ResumptionDecision is the result of detectImplicitResumption.
type ResumptionDecision struct {
	ShouldRestore    bool
	LastActivityTime string
	GapMinutes       float64
	ThresholdMinutes float64
	RecentContext    *ActivitySummary
}

// DetectImplicitResumption inspects the timestamp of the last recorded
// action and decides whether the gap since then is small enough to treat
// this agent start as a silent continuation of prior work. It reads the
// last action time via GetStats, which scans every stream file, rather
// than GetRecentActions, which only looks at the current UTC day's file
// and would wrongly report no prior activity right after a midnight
// rotation.
func (r *Restorer) DetectImplicitResumption(thresholdMinutes float64) (ResumptionDecision, error) {
	stats, err := r.reader.GetStats()
	if err != nil {
		return ResumptionDecision{}, fmt.Errorf("get stats: %w", err)
	}
	if stats.LastActionTime == "" {
		return ResumptionDecision{ShouldRestore: false, GapMinutes: math.Inf(1)}, nil
	}

	lastTime, err := time.Parse("2006-01-02T15:04:05.000Z", stats.LastActionTime)
	if err != nil {
		return ResumptionDecision{}, fmt.Errorf("parse last action timestamp: %w", err)
	}

	gapMinutes := r.now().Sub(lastTime).Minutes()
	decision := ResumptionDecision{
		LastActivityTime: stats.LastActionTime,
		GapMinutes:       gapMinutes,
		ThresholdMinutes: thresholdMinutes,
	}
	if gapMinutes >= thresholdMinutes {
		decision.ShouldRestore = false
		return decision, nil
	}

	summary, err := r.GetRecentActivitySummary(1)
	if err != nil {
		return ResumptionDecision{}, fmt.Errorf("summarize recent activity: %w", err)
	}
	decision.ShouldRestore = true
	decision.RecentContext = &summary
	return decision, nil
}

// RestoredContext is the result of restoreContext.
type RestoredContext struct {
	SessionID       string
	ActionCount     int
	Summary         string
	TypeHistogram   map[stream.Type]int
	CriticalCount   int
	HighCount       int
	KeyDecisions    []stream.Action
	ActiveWorkflows []string
	GapSummary      string
}

var workflowByTool = map[string]string{
	"write":   "file-operations",
	"edit":    "file-operations",
	"exec":    "command-execution",
	"browser": "web-browsing",
	"nodes":   "device-management",
	"message": "messaging",
}

// RestoreContext queries up to 100 recent actions, narrows to sessionId,
// and builds the structured summary the lifecycle adapter logs as a
// continuity_restore action.
func (r *Restorer) RestoreContext(sessionID string) (RestoredContext, error) {
	actions, err := r.reader.GetRecentActions(100)
	if err != nil {
		return RestoredContext{}, fmt.Errorf("get recent actions: %w", err)
	}

	var matched []stream.Action
	for _, a := range actions {
		if a.SessionID == sessionID {
			matched = append(matched, a)
		}
	}

	ctx := RestoredContext{
		SessionID:     sessionID,
		ActionCount:   len(matched),
		TypeHistogram: map[stream.Type]int{},
	}
	if len(matched) == 0 {
		ctx.Summary = "no prior activity found for this session"
		return ctx, nil
	}

	workflows := map[string]bool{}
	for _, a := range matched {
		ctx.TypeHistogram[a.Type]++
		switch a.Severity {
		case stream.SeverityCritical:
			ctx.CriticalCount++
		case stream.SeverityHigh:
			ctx.HighCount++
		}
		if a.Severity == stream.SeverityCritical || a.Severity == stream.SeverityHigh ||
			a.Type == stream.Type("decision") || a.Type == stream.Type("commit") {
			ctx.KeyDecisions = append(ctx.KeyDecisions, a)
		}
		if wf, ok := a.Metadata["workflow"]; ok {
			if s, ok := wf.(string); ok && s != "" {
				workflows[s] = true
			}
		}
		if wf, ok := workflowByTool[a.ToolName]; ok {
			workflows[wf] = true
		}
	}
	for wf := range workflows {
		ctx.ActiveWorkflows = append(ctx.ActiveWorkflows, wf)
	}
	sort.Strings(ctx.ActiveWorkflows)

	first, err := time.Parse("2006-01-02T15:04:05.000Z", matched[0].Timestamp)
	last, errLast := time.Parse("2006-01-02T15:04:05.000Z", matched[len(matched)-1].Timestamp)
	var duration time.Duration
	if err == nil && errLast == nil {
		duration = last.Sub(first)
	}

	ctx.Summary = fmt.Sprintf(
		"%d actions over %s: %d critical, %d high severity",
		ctx.ActionCount, humanDuration(duration), ctx.CriticalCount, ctx.HighCount,
	)
	ctx.GapSummary = humanDuration(duration)
	return ctx, nil
}

// ActivitySummary is the result of getRecentActivitySummary.
type ActivitySummary struct {
	Count            int
	DistinctSessions int
	Highlights       []string
}

// GetRecentActivitySummary queries actions recorded in the last hoursBack
// hours and surfaces up to five highlight strings drawn from
// critical-severity actions and session-start events.
func (r *Restorer) GetRecentActivitySummary(hoursBack float64) (ActivitySummary, error) {
	since := r.now().Add(-time.Duration(hoursBack * float64(time.Hour)))
	actions, err := r.reader.QueryActions(stream.QueryFilter{
		Since: stream.FormatTimestamp(since),
	})
	if err != nil {
		return ActivitySummary{}, fmt.Errorf("query actions: %w", err)
	}

	sessions := map[string]bool{}
	var highlights []string
	for _, a := range actions {
		if a.SessionID != "" {
			sessions[a.SessionID] = true
		}
		if len(highlights) >= 5 {
			continue
		}
		if a.Severity == stream.SeverityCritical {
			highlights = append(highlights, fmt.Sprintf("[critical] %s", a.Description))
		} else if a.Type == stream.TypeAgentStart {
			highlights = append(highlights, fmt.Sprintf("session started: %s", a.Description))
		}
	}

	return ActivitySummary{
		Count:            len(actions),
		DistinctSessions: len(sessions),
		Highlights:       highlights,
	}, nil
}

// decisionalPattern is the fixed English heuristic the lifecycle adapter
// uses to gate message_sending entries under the judgment log level. It
// matches whole words only ("decide" but not "decided"). RestoreContext's
// key-decision extraction does not use it; that selects by severity and
// type. Language-locale-bound by nature.
var decisionalPattern = regexp.MustCompile(`(?i)\b(decide|decision|conclude|conclusion|recommend|analysis|think|believe)\b`)

// IsDecisional reports whether content matches the decisional heuristic.
// decisionalPattern is compiled with the (?i) flag, so matching is already
// case-insensitive without lower-casing content first.
func IsDecisional(content string) bool {
	return decisionalPattern.MatchString(content)
}

// humanDuration renders d as a short, human-readable gap string ("3h12m",
// "less than a minute").
func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "less than a minute"
	}
	d = d.Round(time.Minute)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}
