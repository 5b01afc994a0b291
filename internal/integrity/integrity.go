// Package integrity re-scans the on-disk action stream and certifies that
// sequence numbers are contiguous, the hash chain is continuous, and every
// stored hash matches its recomputed value. It is read-only and never
// mutates the stream it inspects.
package integrity

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/tomismeta/continuity-plugin/internal/stream"
)

// ErrorKind classifies a single integrity finding.
type ErrorKind string

const (
	KindChainBreak    ErrorKind = "chain_break"
	KindHashMismatch  ErrorKind = "hash_mismatch"
	KindSequenceGap   ErrorKind = "sequence_gap"
	KindInvalidJSON   ErrorKind = "invalid_json"
	KindUnreadable    ErrorKind = "unreadable_file"
	KindSchemaVersion ErrorKind = "unsupported_schema_version"
)

// Error describes one integrity finding.
type Error struct {
	Kind     ErrorKind
	File     string
	Sequence uint64
	Details  string
}

func (e Error) String() string {
	if e.Sequence != 0 {
		return fmt.Sprintf("%s: %s (sequence %d): %s", e.File, e.Kind, e.Sequence, e.Details)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Kind, e.Details)
}

// Report is the outcome of ValidateStream.
type Report struct {
	Valid        bool
	TotalChecked int
	Errors       []Error
	FirstAction  *stream.Action
	LastAction   *stream.Action
}

// ValidateStream enumerates every stream file under dir in chronological
// order and re-derives the hash chain, reporting every place it breaks.
// Entries lacking _integrity are tolerated (legacy/unchained) but do not
// update the rolling previous-hash state.
func ValidateStream(dir string) (*Report, error) {
	files, err := stream.ListStreamFiles(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{Valid: true}
	chain := &chainState{}

	for _, path := range files {
		if err := validateFile(path, chain, report); err != nil {
			report.Errors = append(report.Errors, Error{
				Kind:    KindUnreadable,
				File:    path,
				Details: err.Error(),
			})
			// The unread remainder may have advanced the stream; let the
			// next entries re-anchor rather than reporting spurious
			// sequence_gap/chain_break findings against the next file.
			chain.seqUnknown = true
			chain.hashUnknown = true
		}
	}

	if len(report.Errors) > 0 {
		report.Valid = false
	}
	return report, nil
}

// chainState is the validator's rolling view of the stream: the last seen
// sequence number and the hash-chain tail. hash is nil before the first
// hash-enabled entry. The two unknown flags are set after a file was
// skipped unparsed, meaning the true sequence and chain tails cannot be
// known until the next entry (respectively, next hash-enabled entry)
// re-anchors them.
type chainState struct {
	hash        *string
	seq         uint64
	seqUnknown  bool
	hashUnknown bool
}

func validateFile(path string, chain *chainState, report *Report) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		header, action, err := stream.ParseLine(line)
		if err != nil {
			report.Errors = append(report.Errors, Error{
				Kind:    KindInvalidJSON,
				File:    path,
				Details: err.Error(),
			})
			continue
		}
		if header != nil {
			// Unknown major versions are rejected; unknown minor and patch
			// versions are tolerated. The skipped file may have advanced
			// the stream, so its sequence and chain tails are unknown
			// until later entries re-anchor them.
			if !stream.HeaderVersionCompatible(header.SchemaVersion) {
				report.Errors = append(report.Errors, Error{
					Kind:    KindSchemaVersion,
					File:    path,
					Details: fmt.Sprintf("schema version %q is not supported", header.SchemaVersion),
				})
				chain.seqUnknown = true
				chain.hashUnknown = true
				return nil
			}
			continue
		}

		report.TotalChecked++
		if report.FirstAction == nil {
			a := *action
			report.FirstAction = &a
		}
		a := *action
		report.LastAction = &a

		switch {
		case action.Sequence == 0:
			// Legacy entry with no sequence field: tolerated, sequence
			// state untouched, like unchained entries below.
		case chain.seqUnknown:
			chain.seqUnknown = false
			chain.seq = action.Sequence
		case action.Sequence != chain.seq+1:
			report.Errors = append(report.Errors, Error{
				Kind:     KindSequenceGap,
				File:     path,
				Sequence: action.Sequence,
				Details:  fmt.Sprintf("expected sequence %d, got %d", chain.seq+1, action.Sequence),
			})
			// Resync to the flagged entry so one gap does not cascade.
			chain.seq = action.Sequence
		default:
			chain.seq = action.Sequence
		}

		if action.Integrity == nil {
			// Legacy/unchained entry: tolerated, hash-chain state untouched.
			continue
		}

		if chain.hashUnknown {
			// Re-anchor on the first hash-enabled entry after a skipped
			// file; its previous cannot be checked against anything.
			chain.hashUnknown = false
		} else {
			expectedPrev := stream.Genesis
			if chain.hash != nil {
				expectedPrev = *chain.hash
			}
			if action.Integrity.Previous != expectedPrev {
				report.Errors = append(report.Errors, Error{
					Kind:     KindChainBreak,
					File:     path,
					Sequence: action.Sequence,
					Details:  fmt.Sprintf("expected previous %q, got %q", expectedPrev, action.Integrity.Previous),
				})
			}
		}

		recomputed, err := stream.ComputeHash(*action, action.Integrity.Previous)
		if err != nil {
			report.Errors = append(report.Errors, Error{
				Kind:     KindInvalidJSON,
				File:     path,
				Sequence: action.Sequence,
				Details:  err.Error(),
			})
			continue
		}
		if recomputed != action.Integrity.Hash {
			report.Errors = append(report.Errors, Error{
				Kind:     KindHashMismatch,
				File:     path,
				Sequence: action.Sequence,
				Details:  fmt.Sprintf("expected hash %q, recomputed %q", action.Integrity.Hash, recomputed),
			})
		}

		hash := action.Integrity.Hash
		chain.hash = &hash
	}
	return scanner.Err()
}

// GetLastHash reverse-scans the stream for the most recent
// _integrity.hash. ok is false when no chained entry is found, or when a
// stream file could not be read or interpreted (the true tail is then
// unknowable).
func GetLastHash(dir string) (hash string, ok bool) {
	_, lastHash, hashOK, err := stream.LastChainedState(dir)
	if err != nil {
		return "", false
	}
	return lastHash, hashOK
}
