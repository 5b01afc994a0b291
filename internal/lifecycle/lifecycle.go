// Package lifecycle adapts a host's agent-lifecycle events into calls on
// the stream writer and checkpoint manager. It is the only component that
// knows the host's event vocabulary; the host itself is treated purely as
// an interface.
package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomismeta/continuity-plugin/internal/checkpoint"
	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/obslog"
	"github.com/tomismeta/continuity-plugin/internal/restorer"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

// writer is the subset of *stream.Writer the adapter needs.
type writer interface {
	Initialize() error
	Close() error
	Append(entry stream.Action) bool
	GetRecentActions(limit int) ([]stream.Action, error)
	QueryActions(f stream.QueryFilter) ([]stream.Action, error)
}

// checkpointer is the subset of *checkpoint.Manager the adapter needs.
type checkpointer interface {
	CreateCheckpoint(data checkpoint.CheckpointData) (checkpoint.Checkpoint, error)
}

// criticalTools are matched as substrings against an incoming tool name
// (case-insensitive), mirroring a conservative allowlist-adjacent policy:
// anything that touches the filesystem, runs a command, or reaches the
// network is critical enough to log synchronously before it executes.
var criticalTools = []string{"write", "edit", "exec", "delete", "remove", "browser", "fetch", "network"}

// Adapter drives the Stream Writer and Checkpoint Manager from host events.
type Adapter struct {
	writer                    writer
	checkpoints               checkpointer
	restorer                  *restorer.Restorer
	logLevel                  config.LogLevel
	blockOnPersistenceFailure bool
	implicitResumeThreshold   float64
	now                       func() time.Time
	log                       zerolog.Logger
}

// New builds an Adapter over w and c, configured from cfg.
func New(w writer, c checkpointer, r *restorer.Restorer, cfg *config.Config) *Adapter {
	return &Adapter{
		writer:                    w,
		checkpoints:               c,
		restorer:                  r,
		logLevel:                  cfg.LogLevel,
		blockOnPersistenceFailure: cfg.BlockOnPersistenceFailure,
		implicitResumeThreshold:   cfg.ImplicitResumeThresholdMinutes,
		now:                       time.Now,
		log:                       obslog.Default("lifecycle"),
	}
}

func newID() string {
	return uuid.NewString()
}

func (a *Adapter) emit(entry stream.Action) bool {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = stream.FormatTimestamp(a.now())
	}
	ok := a.writer.Append(entry)
	if !ok {
		a.log.Warn().Str("type", string(entry.Type)).Msg("append did not reach durable storage")
	}
	return ok
}

// BootPost handles boot.post: bring the store up.
func (a *Adapter) BootPost() error {
	return a.writer.Initialize()
}

// ShutdownPre handles shutdown.pre: persist final state.
func (a *Adapter) ShutdownPre() error {
	return a.writer.Close()
}

// BeforeAgentStart handles before_agent_start. If resumedFrom is non-empty
// the host is telling the adapter explicitly to restore a known session;
// otherwise the adapter decides for itself via implicit-resumption
// detection. An agent_start entry tagged with sessionID is always logged
// last, after any restore entry.
func (a *Adapter) BeforeAgentStart(sessionID, resumedFrom string) error {
	if resumedFrom != "" {
		ctx, err := a.restorer.RestoreContext(resumedFrom)
		if err != nil {
			return err
		}
		a.emit(stream.Action{
			Type:        stream.TypeContinuityRestore,
			Severity:    stream.SeverityMedium,
			Platform:    "lifecycle",
			Description: ctx.Summary,
			SessionID:   sessionID,
			Metadata: map[string]interface{}{
				"resumedFrom":     resumedFrom,
				"activeWorkflows": ctx.ActiveWorkflows,
				"actionCount":     ctx.ActionCount,
			},
		})
	} else {
		decision, err := a.restorer.DetectImplicitResumption(a.implicitResumeThreshold)
		if err != nil {
			return err
		}
		if decision.ShouldRestore {
			a.emit(stream.Action{
				Type:        stream.TypeContinuityImplicitRestore,
				Severity:    stream.SeverityMedium,
				Platform:    "lifecycle",
				Description: "treating this start as a continuation of recent activity",
				SessionID:   sessionID,
				Metadata: map[string]interface{}{
					"gapMinutes":       decision.GapMinutes,
					"thresholdMinutes": decision.ThresholdMinutes,
					"lastActivityTime": decision.LastActivityTime,
				},
			})
		}
	}

	a.emit(stream.Action{
		Type:        stream.TypeAgentStart,
		Severity:    stream.SeverityLow,
		Platform:    "lifecycle",
		Description: "agent started",
		SessionID:   sessionID,
	})
	return nil
}

// AgentEnd handles agent_end.
func (a *Adapter) AgentEnd(sessionID, summary string) {
	a.emit(stream.Action{
		Type:        stream.TypeAgentEnd,
		Severity:    stream.SeverityLow,
		Platform:    "lifecycle",
		Description: summary,
		SessionID:   sessionID,
	})
}

// AgentError handles agent_error.
func (a *Adapter) AgentError(sessionID, errText string) {
	a.emit(stream.Action{
		Type:        stream.TypeAgentError,
		Severity:    stream.SeverityHigh,
		Platform:    "lifecycle",
		Description: errText,
		SessionID:   sessionID,
	})
}

// ToolCallDecision is the result of BeforeToolCall: whether the host
// should block the call, and the action id minted for correlation (empty
// if the tool was not critical and nothing was logged).
type ToolCallDecision struct {
	Block    bool
	ActionID string
}

func isCriticalTool(name string) bool {
	lower := strings.ToLower(name)
	for _, t := range criticalTools {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// BeforeToolCall handles before_tool_call. Critical tools are always
// logged synchronously, pre-execution, at severity critical; a failed
// append blocks the call only when configured to. Non-critical tools are
// logged only under logLevel everything, at severity low, and never block
// the call regardless of blockOnPersistenceFailure.
func (a *Adapter) BeforeToolCall(sessionID, toolName string, params map[string]interface{}) ToolCallDecision {
	critical := isCriticalTool(toolName)
	if !critical && a.logLevel != config.LogLevelEverything {
		return ToolCallDecision{}
	}

	severity := stream.SeverityLow
	if critical {
		severity = stream.SeverityCritical
	}

	id := newID()
	ok := a.writer.Append(stream.Action{
		ID:          id,
		Timestamp:   stream.FormatTimestamp(a.now()),
		Type:        stream.TypeToolCall,
		Severity:    severity,
		Platform:    "lifecycle",
		Description: "calling " + toolName,
		ToolName:    toolName,
		ToolParams:  params,
		SessionID:   sessionID,
	})
	if !ok {
		return ToolCallDecision{Block: critical && a.blockOnPersistenceFailure}
	}
	return ToolCallDecision{ActionID: id}
}

// AfterToolCall handles after_tool_call, correlating via parentActionID
// (the id BeforeToolCall returned, stashed by the host on its own
// call-tracking state).
func (a *Adapter) AfterToolCall(sessionID, toolName, parentActionID, resultSummary string) {
	a.emit(stream.Action{
		Type:           stream.TypeToolResult,
		Severity:       stream.SeverityLow,
		Platform:       "lifecycle",
		Description:    resultSummary,
		ToolName:       toolName,
		SessionID:      sessionID,
		ParentActionID: parentActionID,
	})
}

// ToolError handles tool_error.
func (a *Adapter) ToolError(sessionID, toolName, parentActionID, errText string) {
	a.emit(stream.Action{
		Type:           stream.TypeToolError,
		Severity:       stream.SeverityHigh,
		Platform:       "lifecycle",
		Description:    errText,
		ToolName:       toolName,
		SessionID:      sessionID,
		ParentActionID: parentActionID,
	})
}

// MessageReceived handles message_received.
func (a *Adapter) MessageReceived(sessionID, content string) {
	a.emit(stream.Action{
		Type:        stream.TypeMessageReceived,
		Severity:    stream.SeverityLow,
		Platform:    "lifecycle",
		Description: content,
		SessionID:   sessionID,
	})
}

// MessageSending handles message_sending. Under the judgment log level the
// adapter itself pre-filters to decisional content so the writer's off/
// judgment/everything gate never even sees the rest.
func (a *Adapter) MessageSending(sessionID, content string, level config.LogLevel) {
	if level == config.LogLevelJudgment && !restorer.IsDecisional(content) {
		return
	}
	a.emit(stream.Action{
		Type:        stream.TypeMessageSending,
		Severity:    stream.SeverityLow,
		Platform:    "lifecycle",
		Description: content,
		SessionID:   sessionID,
	})
}

// MessageSendFailed handles message_sent for a failed send; successful
// sends are not logged.
func (a *Adapter) MessageSendFailed(sessionID, errText string) {
	a.emit(stream.Action{
		Type:        stream.TypeMessageSendFailed,
		Severity:    stream.SeverityHigh,
		Platform:    "lifecycle",
		Description: errText,
		SessionID:   sessionID,
	})
}

// BeforeCompaction handles before_compaction: snapshot and log.
func (a *Adapter) BeforeCompaction(sessionID string, messageCount int, summary string) (checkpoint.Checkpoint, error) {
	cp, err := a.checkpoints.CreateCheckpoint(checkpoint.CheckpointData{
		Timestamp:    a.now(),
		MessageCount: messageCount,
		SessionID:    sessionID,
		Summary:      summary,
	})
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	a.emit(stream.Action{
		Type:        stream.TypeCompaction,
		Severity:    stream.SeverityMedium,
		Platform:    "lifecycle",
		Description: "compacting context",
		SessionID:   sessionID,
		Metadata:    map[string]interface{}{"checkpointId": cp.ID},
	})
	return cp, nil
}

// AfterCompaction handles after_compaction.
func (a *Adapter) AfterCompaction(sessionID string) {
	a.emit(stream.Action{
		Type:        stream.TypeCompactionComplete,
		Severity:    stream.SeverityLow,
		Platform:    "lifecycle",
		Description: "compaction complete",
		SessionID:   sessionID,
	})
}
