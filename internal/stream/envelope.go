// Package stream owns the current day's append-only action log: hash chain
// construction, durable append, daily rotation, and the emergency overflow
// path. It is the core of the continuity store.
package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// Type is the open set of action tags an envelope may carry.
type Type string

// Action type tags. The set is open: unrecognized values are accepted and
// passed through unchanged; this list documents the ones the lifecycle
// adapter is expected to emit.
const (
	TypeAgentStart                Type = "agent_start"
	TypeAgentEnd                  Type = "agent_end"
	TypeAgentError                Type = "agent_error"
	TypeToolCall                  Type = "tool_call"
	TypeToolResult                Type = "tool_result"
	TypeToolError                 Type = "tool_error"
	TypeMessageReceived           Type = "message_received"
	TypeMessageSending            Type = "message_sending"
	TypeMessageSendFailed         Type = "message_send_failed"
	TypeResponseError             Type = "response_error"
	TypeCompaction                Type = "compaction"
	TypeCompactionComplete        Type = "compaction_complete"
	TypeContinuityRestore         Type = "continuity_restore"
	TypeContinuityImplicitRestore Type = "continuity_implicit_restore"
)

// Severity is one of four fixed levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Integrity carries the hash-chain fields attached to a sealed entry.
// Previous is the literal "genesis" for the first hash-enabled entry.
type Integrity struct {
	Hash     string `json:"hash"`
	Previous string `json:"previous"`
}

// Genesis is the literal previous-hash value for the first chained entry.
const Genesis = "genesis"

// Action is one action envelope: the JSON record describing one
// agent-observable event. Field order here IS the canonical field order
// used both for the on-disk line and for the hash input (see
// canonicalBytes in canonical.go); reordering these fields invalidates
// every previously written hash and must never be done casually.
type Action struct {
	ID             string                 `json:"id"`
	Sequence       uint64                 `json:"sequence"`
	Timestamp      string                 `json:"timestamp"`
	Type           Type                   `json:"type"`
	Severity       Severity               `json:"severity"`
	Platform       string                 `json:"platform"`
	Description    string                 `json:"description"`
	ToolName       string                 `json:"toolName,omitempty"`
	ToolParams     map[string]interface{} `json:"toolParams,omitempty"`
	SessionID      string                 `json:"sessionId,omitempty"`
	ParentActionID string                 `json:"parentActionId,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Integrity      *Integrity             `json:"_integrity,omitempty"`
}

// Header is the first line of every stream file.
type Header struct {
	IsHeader         bool   `json:"_header"`
	SchemaVersion    string `json:"schema_version"`
	Created          string `json:"created"`
	IntegrityEnabled bool   `json:"integrity_enabled"`
}

// SchemaVersion is embedded in the stream header. The compaction manifest
// carries its own version (checkpoint.SchemaVersion). Readers reject
// unknown major versions and tolerate unknown minor ones.
const SchemaVersion = "1.0.0"

// MajorMatches reports whether v and ref share the same major version
// component; everything after the first dot may differ. A dot-less string
// is treated as a bare major. Callers decide separately how to treat an
// absent version; an empty string never matches.
func MajorMatches(v, ref string) bool {
	return v != "" && majorOf(v) == majorOf(ref)
}

func majorOf(v string) string {
	if dot := strings.IndexByte(v, '.'); dot >= 0 {
		return v[:dot]
	}
	return v
}

// SchemaVersionSupported reports whether a reader built against
// SchemaVersion may interpret stream data tagged with v.
func SchemaVersionSupported(v string) bool {
	return MajorMatches(v, SchemaVersion)
}

// HeaderVersionCompatible encodes the stream readers' shared rule: a
// header with an empty (legacy, pre-versioning) version is admitted,
// otherwise the major component must match.
func HeaderVersionCompatible(v string) bool {
	return v == "" || SchemaVersionSupported(v)
}

// emergencyEntry wraps an envelope with the unchained emergency markers.
type emergencyEntry struct {
	Action
	Emergency          bool   `json:"_emergency"`
	EmergencyTimestamp string `json:"_emergency_timestamp"`
}

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision and
// a trailing Z, the fixed width the writer and queries both rely on for
// lexical timestamp comparison.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// dayOf returns the YYYY-MM-DD UTC calendar date for t.
func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// marshalLine serializes v into one compact JSON line (no trailing
// newline). Used for both the header and the per-entry disk bytes.
func marshalLine(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
