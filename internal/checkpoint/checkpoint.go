// Package checkpoint records recovery-oriented snapshots the host takes
// just before it compacts its in-memory context, and the single manifest
// that points at the most recent one.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomismeta/continuity-plugin/internal/obslog"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

// MaxCheckpoints bounds how many checkpoint files are kept on disk; the
// oldest excess is pruned on every createCheckpoint call.
const MaxCheckpoints = 50

const manifestFileName = "COMPACTION_MANIFEST.json"

// CheckpointData is the caller-supplied snapshot body. Fields beyond
// Timestamp and MessageCount are opaque to the manager and carried through
// unchanged.
type CheckpointData struct {
	Timestamp    time.Time              `json:"timestamp"`
	MessageCount int                    `json:"messageCount"`
	SessionID    string                 `json:"sessionId,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Checkpoint is a CheckpointData sealed with its minted id.
type Checkpoint struct {
	ID   string         `json:"id"`
	Data CheckpointData `json:"data"`
}

// RecoveryInfo is the manifest's recovery pointer.
type RecoveryInfo struct {
	OriginalMessageRange MessageRange `json:"originalMessageRange"`
	CompactedAt          time.Time    `json:"compactedAt"`
	CanRecover           bool         `json:"canRecover"`
}

// MessageRange is the [start, end) window of in-memory messages the
// checkpoint summarizes.
type MessageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Manifest is the single COMPACTION_MANIFEST.json document.
type Manifest struct {
	SchemaVersion string       `json:"schema_version"`
	Checkpoint    Checkpoint   `json:"checkpoint"`
	RecoveryInfo  RecoveryInfo `json:"recoveryInfo"`
}

// SchemaVersion is the manifest's own schema tag.
const SchemaVersion = "1.0.0"

// Manager owns the checkpoints/ directory and the compaction manifest for
// one storage root.
type Manager struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

// NewManager returns a Manager rooted at dir/checkpoints with dir/
// COMPACTION_MANIFEST.json as its manifest. dir must already exist (the
// stream writer creates it during Initialize).
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, log: obslog.Default("checkpoint")}
}

func (m *Manager) checkpointsDir() string {
	return filepath.Join(m.dir, "checkpoints")
}

func (m *Manager) manifestPath() string {
	return filepath.Join(m.dir, manifestFileName)
}

func (m *Manager) checkpointPath(id string) string {
	return filepath.Join(m.checkpointsDir(), id+".json")
}

// CreateCheckpoint mints a new checkpoint id, writes the checkpoint file,
// overwrites the manifest to point at it, and prunes old checkpoints past
// MaxCheckpoints. A failed manifest write is logged at warn level and does
// not fail the call.
func (m *Manager) CreateCheckpoint(data CheckpointData) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Refuse to clobber a recovery pointer written by an incompatible
	// newer format; a merely corrupt manifest is still overwritten.
	if _, err := m.readManifestLocked(); errors.Is(err, stream.ErrUnsupportedSchema) {
		return Checkpoint{}, err
	}

	if err := os.MkdirAll(m.checkpointsDir(), 0700); err != nil {
		return Checkpoint{}, fmt.Errorf("create checkpoints dir: %w", err)
	}

	cp := Checkpoint{
		ID:   fmt.Sprintf("checkpoint-%d-%s", data.Timestamp.UnixMilli(), shortRandom()),
		Data: data,
	}

	body, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return Checkpoint{}, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(m.checkpointPath(cp.ID), body, 0600); err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w", err)
	}

	start := data.MessageCount - 100
	if start < 0 {
		start = 0
	}
	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		Checkpoint:    cp,
		RecoveryInfo: RecoveryInfo{
			OriginalMessageRange: MessageRange{Start: start, End: data.MessageCount},
			CompactedAt:          data.Timestamp,
			CanRecover:           true,
		},
	}
	if err := m.writeManifestLocked(manifest); err != nil {
		m.log.Warn().Err(err).Str("checkpoint", cp.ID).Msg("compaction manifest write failed")
	}

	if err := m.pruneLocked(); err != nil {
		m.log.Warn().Err(err).Msg("checkpoint prune failed")
	}

	return cp, nil
}

func (m *Manager) writeManifestLocked(manifest Manifest) error {
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(m.manifestPath(), body, 0600)
}

// pruneLocked deletes the oldest checkpoint files past MaxCheckpoints,
// ordered newest-first by the embedded epoch-ms in their id. Caller must
// hold m.mu.
func (m *Manager) pruneLocked() error {
	entries, err := os.ReadDir(m.checkpointsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) <= MaxCheckpoints {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names[MaxCheckpoints:] {
		if err := os.Remove(filepath.Join(m.checkpointsDir(), name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// GetManifest reads the current manifest, returning (nil, nil) if none
// exists yet.
func (m *Manager) GetManifest() (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readManifestLocked()
}

func (m *Manager) readManifestLocked() (*Manifest, error) {
	data, err := os.ReadFile(m.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	// The manifest format is versioned independently of the stream file
	// format, so the comparison anchors on this package's own constant. A
	// manifest with no version at all is treated as legacy.
	if manifest.SchemaVersion != "" && !stream.MajorMatches(manifest.SchemaVersion, SchemaVersion) {
		return nil, fmt.Errorf("manifest schema version %q: %w", manifest.SchemaVersion, stream.ErrUnsupportedSchema)
	}
	return &manifest, nil
}

// GetLastCheckpoint returns the checkpoint the manifest currently points
// at, or (nil, nil) if there is no manifest yet.
func (m *Manager) GetLastCheckpoint() (*Checkpoint, error) {
	manifest, err := m.GetManifest()
	if err != nil || manifest == nil {
		return nil, err
	}
	cp := manifest.Checkpoint
	return &cp, nil
}

// ListCheckpoints returns every checkpoint file on disk, newest first.
func (m *Manager) ListCheckpoints() ([]Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.checkpointsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	checkpoints := make([]Checkpoint, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(m.checkpointsDir(), name))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// CanRecover reports whether the manifest exists, claims recoverability,
// and its referenced checkpoint file is still present on disk.
func (m *Manager) CanRecover() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := m.readManifestLocked()
	if err != nil || manifest == nil {
		return false, err
	}
	if !manifest.RecoveryInfo.CanRecover {
		return false, nil
	}
	if _, err := os.Stat(m.checkpointPath(manifest.Checkpoint.ID)); err != nil {
		return false, nil
	}
	return true, nil
}

// MarkRecovered flips recoveryInfo.canRecover to false if the manifest's
// checkpoint matches id, rewriting the manifest. A non-matching id is a
// silent no-op, matching the read-mostly nature of the rest of this API.
func (m *Manager) MarkRecovered(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := m.readManifestLocked()
	if err != nil || manifest == nil {
		return err
	}
	if manifest.Checkpoint.ID != id {
		return nil
	}
	manifest.RecoveryInfo.CanRecover = false
	return m.writeManifestLocked(*manifest)
}

func shortRandom() string {
	return uuid.NewString()[:8]
}
