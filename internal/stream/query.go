package stream

import (
	"errors"
	"fmt"
	"os"
)

// QueryFilter narrows QueryActions. Zero-value fields are not applied.
type QueryFilter struct {
	Type     Type
	Platform string
	Since    string // inclusive lower bound, ISO-8601 UTC
	Until    string // inclusive upper bound, ISO-8601 UTC
	Limit    int
}

func (f QueryFilter) matches(a Action) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Platform != "" && a.Platform != f.Platform {
		return false
	}
	// Lexical comparison is correct because all timestamps are fixed-width
	// UTC ISO-8601 strings.
	if f.Since != "" && a.Timestamp < f.Since {
		return false
	}
	if f.Until != "" && a.Timestamp > f.Until {
		return false
	}
	return true
}

// GetRecentActions returns up to limit of the most recent valid entries
// from the current UTC day's stream file, in forward (chronological)
// order. It does not look at prior days' files, so calls shortly after
// midnight may return fewer entries than exist overall.
func (w *Writer) GetRecentActions(limit int) ([]Action, error) {
	w.mu.Lock()
	day := w.currentDay
	dir := w.dir
	w.mu.Unlock()

	if day == "" {
		return nil, nil
	}
	path := streamFilePath(dir, day)
	actions, err := ReadActions(path)
	if err != nil {
		// Single-source read: unlike QueryActions/GetStats there are no
		// other files to fall back on, so only a missing file maps to
		// "no recent actions" and every other failure is surfaced.
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if limit > 0 && len(actions) > limit {
		actions = actions[len(actions)-limit:]
	}
	return actions, nil
}

// QueryActions iterates every stream file in chronological order and
// returns entries matching every predicate set in f, stopping once Limit
// results have been collected (0 means unlimited).
func (w *Writer) QueryActions(f QueryFilter) ([]Action, error) {
	w.mu.Lock()
	dir := w.dir
	w.mu.Unlock()

	files, err := ListStreamFiles(dir)
	if err != nil {
		return nil, err
	}

	var results []Action
	for _, path := range files {
		actions, err := ReadActions(path)
		if err != nil {
			// An unreadable file is skipped best-effort, but a file the
			// reader is not allowed to interpret fails the whole query
			// rather than presenting a silently truncated history.
			if errors.Is(err, ErrUnsupportedSchema) {
				return nil, err
			}
			continue
		}
		for _, a := range actions {
			if !f.matches(a) {
				continue
			}
			results = append(results, a)
			if f.Limit > 0 && len(results) >= f.Limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// Stats summarizes the writer's storage footprint.
type Stats struct {
	TotalActions   uint64
	StreamFiles    int
	StorageSizeMB  float64
	LastActionTime string
}

// GetStats returns the current sequence count, number of stream files,
// approximate on-disk size, and the timestamp of the last recorded
// action (empty if none).
func (w *Writer) GetStats() (Stats, error) {
	w.mu.Lock()
	seq := w.sequence
	dir := w.dir
	w.mu.Unlock()

	files, err := ListStreamFiles(dir)
	if err != nil {
		return Stats{}, err
	}

	var totalBytes int64
	for _, path := range files {
		// Refuse to summarize a store holding any file this reader is
		// not allowed to interpret, wherever it sits in the history, so
		// GetStats and QueryActions agree on the same store.
		if hdr, err := ReadHeader(path); err == nil && hdr != nil && !HeaderVersionCompatible(hdr.SchemaVersion) {
			return Stats{}, fmt.Errorf("%s: schema version %q: %w", path, hdr.SchemaVersion, ErrUnsupportedSchema)
		}
		if info, err := os.Stat(path); err == nil {
			totalBytes += info.Size()
		}
	}

	// Walk back from the newest file until one with at least one action is
	// found: the newest file may exist with only its header line (written
	// by Initialize on a fresh rotation) while an older file's last entry
	// is still the most recent recorded action.
	var lastTime string
	for i := len(files) - 1; i >= 0; i-- {
		actions, err := ReadActions(files[i])
		if err != nil {
			if errors.Is(err, ErrUnsupportedSchema) {
				return Stats{}, err
			}
			continue
		}
		if len(actions) == 0 {
			continue
		}
		lastTime = actions[len(actions)-1].Timestamp
		break
	}

	return Stats{
		TotalActions:   seq,
		StreamFiles:    len(files),
		StorageSizeMB:  float64(totalBytes) / float64(1024*1024),
		LastActionTime: lastTime,
	}, nil
}
