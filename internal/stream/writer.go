package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/diskspace"
	"github.com/tomismeta/continuity-plugin/internal/obslog"
)

// Disk-space thresholds, in megabytes of free space at the storage root.
// Below MinFreeSpaceMB the writer latches into emergency mode;
// EmergencyThresholdMB is the operator-facing critical banner level.
const (
	MinFreeSpaceMB       = 100
	EmergencyThresholdMB = 50
)

const (
	checkpointsDirName = "checkpoints"
	backupsDirName     = "backups"
	emergencyFileName  = "EMERGENCY_RECOVERY.jsonl"
)

var tracer = otel.Tracer("github.com/tomismeta/continuity-plugin/stream")

// Writer owns the current day's append-only log file: hash chain
// construction, durable append, rotation, and the emergency fallback path.
// A single Writer must be the only writer for its storagePath within the
// process; two concurrent writers corrupt both the sequence and the chain.
type Writer struct {
	mu sync.Mutex

	dir              string
	logLevel         config.LogLevel
	integrityEnabled bool
	now              func() time.Time
	log              zerolog.Logger

	initialized   bool
	emergencyMode bool
	sequence      uint64
	lastHash      *string
	currentDay    string
}

// Option customizes a Writer at construction time.
type Option func(*Writer)

// WithClock overrides the wall clock, used by tests that need to freeze or
// advance time across a rotation boundary.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger overrides the ambient operator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Writer) { w.log = log }
}

// New constructs a Writer from cfg. Call Initialize before Append.
func New(cfg *config.Config, opts ...Option) *Writer {
	w := &Writer{
		dir:              config.ExpandHome(cfg.StoragePath),
		logLevel:         cfg.LogLevel,
		integrityEnabled: cfg.EnableIntegrityCheck,
		now:              time.Now,
		log:              obslog.Default("stream"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Initialize is idempotent: it creates storagePath and its checkpoints/
// backups subdirectories, loads .state.json if present (reconstructing
// sequence and lastHash from the on-disk chain tail when it is missing),
// and opens (creating if needed) the current UTC day's stream file.
func (w *Writer) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initializeLocked()
}

func (w *Writer) initializeLocked() error {
	if w.initialized {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(w.dir, checkpointsDirName), 0700); err != nil {
		return fmt.Errorf("create checkpoints dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(w.dir, backupsDirName), 0700); err != nil {
		return fmt.Errorf("create backups dir: %w", err)
	}

	seq, lastHash, err := loadState(w.dir)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	w.sequence = seq
	w.lastHash = lastHash

	// .state.json missing (or legitimately fresh): reconstruct both
	// sequence and lastHash from the on-disk chain tail rather than
	// starting sequence over at 0, which would re-issue a used sequence
	// number and chain the next entry against genesis mid-stream.
	if w.sequence == 0 {
		healedSeq, healedHash, hashOK, err := LastChainedState(w.dir)
		if err != nil {
			// A blocked scan is fatal only when this writer will append
			// and the recovered state cannot be trusted: the sequence
			// tail was never reached, or the chain tail is missing while
			// integrity is on. At log level off the writer never appends,
			// so whatever was recovered serves stats best-effort.
			fatal := healedSeq == 0 || w.integrityEnabled
			if w.logLevel != config.LogLevelOff && fatal {
				return fmt.Errorf("reconstruct state: %w", err)
			}
			w.log.Warn().Err(err).Uint64("sequence", healedSeq).
				Msg("state reconstruction partial, continuing best-effort")
		}
		w.sequence = healedSeq
		if w.lastHash == nil && w.integrityEnabled && hashOK {
			w.lastHash = &healedHash
		}
	}

	// At log level off every append is a no-op, so no stream file is
	// created either; the store stays untouched on disk.
	w.currentDay = dayOf(w.now())
	if w.logLevel != config.LogLevelOff {
		if err := w.ensureHeaderLocked(w.currentDay); err != nil {
			return err
		}
	}

	w.initialized = true
	return nil
}

// ensureHeaderLocked writes the header line for day's stream file if it
// does not already exist, using exclusive-create semantics so a
// concurrently-racing writer does not clobber an in-progress header. An
// existing file whose header carries an unknown major schema version is
// refused: appending this writer's format into it would corrupt a file
// this writer is not allowed to interpret.
func (w *Writer) ensureHeaderLocked(day string) error {
	path := streamFilePath(w.dir, day)
	if _, err := os.Stat(path); err == nil {
		return w.checkExistingHeader(path)
	}

	header := Header{
		IsHeader:         true,
		SchemaVersion:    SchemaVersion,
		Created:          FormatTimestamp(w.now()),
		IntegrityEnabled: w.integrityEnabled,
	}
	line, err := marshalLine(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			// Lost the create race; the winner's header decides whether
			// this file may be appended to.
			return w.checkExistingHeader(path)
		}
		return fmt.Errorf("create stream file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return f.Sync()
}

// checkExistingHeader refuses to append into an existing stream file whose
// parsed header carries an unknown major schema version. A torn or missing
// header is tolerated the way readers tolerate malformed lines; a file
// that cannot be read at all surfaces now instead of on the first append.
func (w *Writer) checkExistingHeader(path string) error {
	hdr, err := ReadHeader(path)
	if err != nil {
		return fmt.Errorf("read stream header: %w", err)
	}
	if hdr != nil && !HeaderVersionCompatible(hdr.SchemaVersion) {
		return fmt.Errorf("%s: schema version %q: %w", path, hdr.SchemaVersion, ErrUnsupportedSchema)
	}
	return nil
}

// Append is the only mutation path into the chained stream. It never
// returns an error: failures are logged and routed to the emergency path,
// and the boolean result tells the caller whether the entry reached
// durable storage somewhere.
func (w *Writer) Append(entry Action) bool {
	if w.logLevel == config.LogLevelOff {
		return true
	}

	ctx, span := tracer.Start(context.Background(), "stream.append")
	span.SetAttributes(
		attribute.String("action.id", entry.ID),
		attribute.String("action.type", string(entry.Type)),
	)
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.initialized {
		w.log.Error().Str("id", entry.ID).Msg("append called before initialize")
		span.RecordError(fmt.Errorf("append called before initialize"))
		return w.appendEmergencyLocked(entry)
	}

	if w.emergencyMode {
		return w.appendEmergencyLocked(entry)
	}

	if freeMB, ok := diskspace.FreeMB(w.dir); ok && freeMB < MinFreeSpaceMB {
		w.log.Error().Uint64("free_mb", freeMB).Msg("disk space below floor, entering emergency mode")
		span.SetAttributes(attribute.Int64("disk.free_mb", int64(freeMB)))
		recordSpanError(span, fmt.Errorf("free space %dMB below floor %dMB", freeMB, MinFreeSpaceMB))
		w.emergencyMode = true
		return w.appendEmergencyLocked(entry)
	}

	day := dayOf(w.now())
	if day != w.currentDay {
		if err := w.ensureHeaderLocked(day); err != nil {
			w.log.Error().Err(err).Msg("rotation failed")
			recordSpanError(span, err)
			w.emergencyMode = true
			return w.appendEmergencyLocked(entry)
		}
		w.currentDay = day
	}

	entry.Sequence = w.sequence + 1
	if w.integrityEnabled {
		previous := Genesis
		if w.lastHash != nil {
			previous = *w.lastHash
		}
		hash, err := computeHash(entry, previous)
		if err != nil {
			w.log.Error().Err(err).Msg("serialization error computing hash")
			recordSpanError(span, err)
			return w.appendEmergencyLocked(entry)
		}
		entry.Integrity = &Integrity{Hash: hash, Previous: previous}
	}

	line, err := marshalLine(entry)
	if err != nil {
		w.log.Error().Err(err).Msg("serialization error")
		recordSpanError(span, err)
		return w.appendEmergencyLocked(entry)
	}

	if err := w.appendLineLocked(ctx, day, line); err != nil {
		w.log.Error().Err(err).Msg("io error, entering emergency mode")
		recordSpanError(span, err)
		w.emergencyMode = true
		return w.appendEmergencyLocked(entry)
	}

	w.sequence = entry.Sequence
	if entry.Integrity != nil {
		h := entry.Integrity.Hash
		w.lastHash = &h
	}
	return true
}

// appendLineLocked performs the open -> append -> fsync -> close cycle for
// a single line. Entries are only acknowledged after the fsync completes.
func (w *Writer) appendLineLocked(ctx context.Context, day string, line []byte) error {
	_, span := tracer.Start(ctx, "stream.append.io")
	span.SetAttributes(attribute.String("stream.day", day), attribute.Int("line.bytes", len(line)))
	defer span.End()

	path := streamFilePath(w.dir, day)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := f.Sync(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// recordSpanError records the error on the span without letting tracing
// itself become a failure path.
func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
}

// appendEmergencyLocked writes entry to EMERGENCY_RECOVERY.jsonl, unchained
// and marked _emergency:true. Caller must hold w.mu.
func (w *Writer) appendEmergencyLocked(entry Action) bool {
	wrapped := emergencyEntry{
		Action:             entry,
		Emergency:          true,
		EmergencyTimestamp: FormatTimestamp(w.now()),
	}
	line, err := marshalLine(wrapped)
	if err != nil {
		w.log.Error().Err(err).Msg("emergency serialization failed")
		return false
	}

	path := filepath.Join(w.dir, emergencyFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		w.log.Error().Err(err).Msg("emergency write failed")
		return false
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		w.log.Error().Err(err).Msg("emergency write failed")
		return false
	}
	if err := f.Sync(); err != nil {
		w.log.Error().Err(err).Msg("emergency fsync failed")
		return false
	}
	return true
}

// Close persists .state.json with the writer's current in-memory state,
// so the next Initialize resumes the sequence and chain exactly where
// this process left them.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return nil
	}
	return saveState(w.dir, w.sequence, w.lastHash)
}

// Dir returns the storage root this writer operates on.
func (w *Writer) Dir() string {
	return w.dir
}

// EmergencyMode reports whether the writer has latched into emergency
// mode. It stays latched until the process restarts.
func (w *Writer) EmergencyMode() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emergencyMode
}
