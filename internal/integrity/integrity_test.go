package integrity_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/integrity"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

func newWriter(t *testing.T, dir string) *stream.Writer {
	t.Helper()
	cfg := &config.Config{
		LogLevel:             config.LogLevelEverything,
		StoragePath:          dir,
		EnableIntegrityCheck: true,
	}
	w := stream.New(cfg)
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return w
}

func action(id string) stream.Action {
	return stream.Action{
		ID:          id,
		Timestamp:   stream.FormatTimestamp(time.Now().UTC()),
		Type:        stream.TypeToolCall,
		Severity:    stream.SeverityLow,
		Platform:    "test",
		Description: "did something",
	}
}

func TestValidateStreamCleanChain(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)
	for i := 0; i < 5; i++ {
		if ok := w.Append(action("a")); !ok {
			t.Fatalf("append %d failed", i)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	report, err := integrity.ValidateStream(dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected valid report, got errors: %v", report.Errors)
	}
	if report.TotalChecked != 5 {
		t.Fatalf("expected 5 checked, got %d", report.TotalChecked)
	}
	if report.FirstAction == nil || report.LastAction == nil {
		t.Fatalf("expected first/last action to be populated")
	}
}

func TestValidateStreamDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)
	for i := 0; i < 3; i++ {
		w.Append(action("a"))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := stream.ListStreamFiles(dir)
	if err != nil || len(files) == 0 {
		t.Fatalf("expected at least one stream file, err=%v", err)
	}

	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}

	// Line 0 is the header, line 1 is the first action. Mutate its
	// description without touching the stored hash, which must surface as
	// a hash_mismatch finding.
	var tampered map[string]interface{}
	if err := json.Unmarshal(lines[1], &tampered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tampered["description"] = "tampered description"
	newLine, err := json.Marshal(tampered)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	lines[1] = newLine
	if err := os.WriteFile(files[0], bytes.Join(lines, []byte("\n")), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	report, err := integrity.ValidateStream(dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("expected tampering to be detected")
	}
	found := false
	for _, e := range report.Errors {
		if e.Kind == integrity.KindHashMismatch {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a hash_mismatch error, got %v", report.Errors)
	}
}

func TestGetLastHashMatchesWriterState(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)
	w.Append(action("a"))
	w.Append(action("b"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	hash, ok := integrity.GetLastHash(dir)
	if !ok {
		t.Fatalf("expected a last hash")
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
}

func TestValidateStreamReportsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	content := `{"_header":true,"schema_version":"1.0.0","created":"2026-01-01T00:00:00.000Z","integrity_enabled":false}` + "\n" +
		`{"id":"a1","sequence":1,"timestamp":"2026-01-01T00:00:01.000Z","type":"tool_call","severity":"low","platform":"test","description":"x"}` + "\n" +
		`{"id":"a2","sequence":3,"timestamp":"2026-01-01T00:00:02.000Z","type":"tool_call","severity":"low","platform":"test","description":"y"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, stream.StreamFileName("2026-01-01")), []byte(content), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	report, err := integrity.ValidateStream(dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("expected sequence gap to be detected")
	}
	found := false
	for _, e := range report.Errors {
		if e.Kind == integrity.KindSequenceGap && e.Sequence == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a sequence_gap error at sequence 3, got %v", report.Errors)
	}
}

func TestValidateStreamRejectsUnknownMajorVersion(t *testing.T) {
	dir := t.TempDir()
	line := `{"_header":true,"schema_version":"2.0.0","created":"2026-01-01T00:00:00.000Z","integrity_enabled":true}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, stream.StreamFileName("2026-01-01")), []byte(line), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	report, err := integrity.ValidateStream(dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("expected unknown major version to be rejected")
	}
	found := false
	for _, e := range report.Errors {
		if e.Kind == integrity.KindSchemaVersion {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an unsupported_schema_version error, got %v", report.Errors)
	}
}

func TestValidateStreamEmptyDir(t *testing.T) {
	dir := t.TempDir()
	report, err := integrity.ValidateStream(dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected empty stream to be valid")
	}
	if report.TotalChecked != 0 {
		t.Fatalf("expected 0 checked, got %d", report.TotalChecked)
	}
}
