package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecording(id string) *session.Recording {
	started := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	return &session.Recording{
		ID:        id,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		Calls: []session.RecordedCall{
			{Ordinal: 1, At: started, Call: classify.DecodedCall{Action: "login.verify", Status: classify.StatusOk}},
			{Ordinal: 2, At: started.Add(time.Second), Call: classify.DecodedCall{Action: "march.start", Status: classify.StatusOk}},
		},
	}
}

func TestSchemaDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if doc := s.LoadSchemaDocument(); doc != nil {
		t.Fatalf("fresh store returned a document: %+v", doc)
	}

	r := schema.NewRegistry(schema.Options{})
	r.Observe("chat.send", amf.Assoc(
		amf.Field{Name: "chatMessage", Value: amf.String("hello")},
	), classify.CategoryChat)

	if err := s.SaveSchemaDocument(r.Export()); err != nil {
		t.Fatalf("SaveSchemaDocument failed: %v", err)
	}

	doc := s.LoadSchemaDocument()
	if doc == nil {
		t.Fatal("saved document not loaded")
	}
	if _, ok := doc.Schemas["chat.send"]; !ok {
		t.Errorf("schema missing from loaded document: %v", doc.Schemas)
	}
}

func TestSchemaDocumentOverwrite(t *testing.T) {
	s := openTestStore(t)

	r := schema.NewRegistry(schema.Options{})
	r.Observe("a.b", amf.Null(), classify.CategoryUnknown)
	if err := s.SaveSchemaDocument(r.Export()); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	r.Observe("c.d", amf.Null(), classify.CategoryUnknown)
	if err := s.SaveSchemaDocument(r.Export()); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	doc := s.LoadSchemaDocument()
	if len(doc.Schemas) != 2 {
		t.Errorf("loaded %d schemas, want 2", len(doc.Schemas))
	}
}

func TestCorruptSchemaDocumentDegrades(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.db.Exec(
		"INSERT INTO schema_documents (id, document) VALUES (1, ?)", "{corrupt",
	); err != nil {
		t.Fatalf("failed to plant corrupt row: %v", err)
	}

	// Corruption must not crash startup; the engine starts empty instead.
	if doc := s.LoadSchemaDocument(); doc != nil {
		t.Errorf("corrupt document parsed: %+v", doc)
	}
}

func TestRecordingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	rec := sampleRecording("rec-1")

	if err := s.SaveRecording(rec); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}

	got, err := s.LoadRecording("rec-1")
	if err != nil {
		t.Fatalf("LoadRecording failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("id: got %q", got.ID)
	}
	if len(got.Calls) != 2 {
		t.Fatalf("calls: got %d, want 2", len(got.Calls))
	}
	if got.Calls[1].Call.Action != "march.start" {
		t.Errorf("call order lost: %+v", got.Calls)
	}
}

func TestLoadRecordingNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRecording("ghost")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestCorruptRecordingDegrades(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.db.Exec(`
		INSERT INTO recordings (id, started_at, ended_at, call_count, document)
		VALUES (?, ?, ?, ?, ?)
	`, "bad-rec", time.Now(), time.Now(), 5, "{{{"); err != nil {
		t.Fatalf("failed to plant corrupt row: %v", err)
	}

	got, err := s.LoadRecording("bad-rec")
	if err != nil {
		t.Fatalf("corrupt recording returned error: %v", err)
	}
	if got.ID != "bad-rec" || len(got.Calls) != 0 {
		t.Errorf("expected empty recording shell, got %+v", got)
	}
}

func TestListRecordingsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	old := sampleRecording("rec-old")
	old.StartedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := sampleRecording("rec-new")
	recent.StartedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, rec := range []*session.Recording{old, recent} {
		if err := s.SaveRecording(rec); err != nil {
			t.Fatalf("SaveRecording failed: %v", err)
		}
	}

	list, err := s.ListRecordings()
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d recordings, want 2", len(list))
	}
	if list[0].ID != "rec-new" || list[1].ID != "rec-old" {
		t.Errorf("order: got %s then %s", list[0].ID, list[1].ID)
	}
	if list[0].Calls != 2 {
		t.Errorf("call count: got %d", list[0].Calls)
	}
}

func TestSaveRecordingUpsert(t *testing.T) {
	s := openTestStore(t)

	rec := sampleRecording("rec-1")
	if err := s.SaveRecording(rec); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	rec.Calls = rec.Calls[:1]
	if err := s.SaveRecording(rec); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := s.LoadRecording("rec-1")
	if err != nil {
		t.Fatalf("LoadRecording failed: %v", err)
	}
	if len(got.Calls) != 1 {
		t.Errorf("upsert did not replace: %d calls", len(got.Calls))
	}
}

func TestDeleteRecording(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveRecording(sampleRecording("rec-1")); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	if err := s.DeleteRecording("rec-1"); err != nil {
		t.Fatalf("DeleteRecording failed: %v", err)
	}
	if _, err := s.LoadRecording("rec-1"); err == nil {
		t.Error("recording still loadable after delete")
	}
	if err := s.DeleteRecording("rec-1"); err == nil {
		t.Error("deleting a missing recording succeeded")
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.SaveRecording(sampleRecording("rec-1")); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	if _, err := s2.LoadRecording("rec-1"); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}
