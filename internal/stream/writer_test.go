package stream_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

func newConfig(dir string) *config.Config {
	return &config.Config{
		LogLevel:             config.LogLevelEverything,
		StoragePath:          dir,
		EnableIntegrityCheck: true,
	}
}

func testAction(id string) stream.Action {
	return stream.Action{
		ID:          id,
		Timestamp:   stream.FormatTimestamp(time.Now().UTC()),
		Type:        stream.TypeToolCall,
		Severity:    stream.SeverityLow,
		Platform:    "test",
		Description: "did something",
	}
}

func TestColdStartCreatesHeaderAndGenesisChain(t *testing.T) {
	dir := t.TempDir()
	w := stream.New(newConfig(dir))
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if ok := w.Append(testAction("a1")); !ok {
		t.Fatalf("append failed")
	}

	recent, err := w.GetRecentActions(10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 action, got %d", len(recent))
	}
	if recent[0].Integrity == nil || recent[0].Integrity.Previous != stream.Genesis {
		t.Fatalf("expected first entry chained off genesis, got %+v", recent[0].Integrity)
	}
	if recent[0].Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", recent[0].Sequence)
	}
}

func TestChainSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	w1 := stream.New(newConfig(dir))
	if err := w1.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	w1.Append(testAction("a1"))
	w1.Append(testAction("a2"))
	if err := w1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w2 := stream.New(newConfig(dir))
	if err := w2.Initialize(); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	w2.Append(testAction("a3"))

	all, err := w2.QueryActions(stream.QueryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 actions across restart, got %d", len(all))
	}
	if all[2].Integrity.Previous != all[1].Integrity.Hash {
		t.Fatalf("chain did not continue across restart: %q != %q", all[2].Integrity.Previous, all[1].Integrity.Hash)
	}
}

func TestStateFileMissingSelfHealsLastHash(t *testing.T) {
	dir := t.TempDir()
	w1 := stream.New(newConfig(dir))
	if err := w1.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	w1.Append(testAction("a1"))
	if err := w1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, ".state.json")); err != nil {
		t.Fatalf("remove state file: %v", err)
	}

	w2 := stream.New(newConfig(dir))
	if err := w2.Initialize(); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	w2.Append(testAction("a2"))

	all, err := w2.QueryActions(stream.QueryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(all))
	}
	if all[1].Integrity.Previous != all[0].Integrity.Hash {
		t.Fatalf("self-heal did not recover true chain head")
	}
	if all[1].Integrity.Previous == stream.Genesis {
		t.Fatalf("self-heal incorrectly fell back to genesis")
	}
}

func TestRotationAcrossDayBoundary(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	clock := day1
	w := stream.New(newConfig(dir), stream.WithClock(func() time.Time { return clock }))
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	w.Append(testAction("a1"))

	clock = time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)
	w.Append(testAction("a2"))

	files, err := stream.ListStreamFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 stream files after rotation, got %d: %v", len(files), files)
	}

	all, err := w.QueryActions(stream.QueryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 actions across rotation, got %d", len(all))
	}
	if all[1].Integrity.Previous != all[0].Integrity.Hash {
		t.Fatalf("chain did not continue across rotation")
	}
}

func TestAppendOffLogLevelIsNoop(t *testing.T) {
	dir := t.TempDir()
	cfg := newConfig(dir)
	cfg.LogLevel = config.LogLevelOff
	w := stream.New(cfg)
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if ok := w.Append(testAction("a1")); !ok {
		t.Fatalf("expected append to report success even though it is a no-op")
	}

	files, err := stream.ListStreamFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no stream files written at log level off, got %v", files)
	}
}

func TestAppendBeforeInitializeFallsBackToEmergencyFile(t *testing.T) {
	dir := t.TempDir()
	w := stream.New(newConfig(dir))

	ok := w.Append(testAction("a1"))
	if !ok {
		t.Fatalf("expected append to still report delivery via the emergency path")
	}

	if _, err := os.Stat(filepath.Join(dir, "EMERGENCY_RECOVERY.jsonl")); err != nil {
		t.Fatalf("expected emergency file to exist: %v", err)
	}

	files, err := stream.ListStreamFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no chained stream file from an emergency append, got %v", files)
	}
}

func TestGetStatsReportsSizeAndCount(t *testing.T) {
	dir := t.TempDir()
	w := stream.New(newConfig(dir))
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	w.Append(testAction("a1"))
	w.Append(testAction("a2"))

	stats, err := w.GetStats()
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalActions != 2 {
		t.Fatalf("expected 2 total actions, got %d", stats.TotalActions)
	}
	if stats.StreamFiles != 1 {
		t.Fatalf("expected 1 stream file, got %d", stats.StreamFiles)
	}
	if stats.LastActionTime == "" {
		t.Fatalf("expected a last action time")
	}
}
