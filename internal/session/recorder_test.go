package session

import (
	"testing"
	"time"

	"github.com/protolens-project/protolens/internal/capture"
	"github.com/protolens-project/protolens/internal/classify"
)

func testCall(action string) classify.DecodedCall {
	return classify.DecodedCall{Action: action, Status: classify.StatusOk}
}

func TestRecorderLifecycle(t *testing.T) {
	r := NewRecorder()

	if _, active := r.Active(); active {
		t.Fatal("fresh recorder reports active")
	}

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty recording id")
	}

	gotID, active := r.Active()
	if !active || gotID != id {
		t.Errorf("Active() = %q, %v", gotID, active)
	}

	r.Append(testCall("login.verify"))
	r.Append(testCall("march.start"))
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rec.ID != id {
		t.Errorf("recording id: got %q, want %q", rec.ID, id)
	}
	if len(rec.Calls) != 2 {
		t.Fatalf("calls: got %d, want 2", len(rec.Calls))
	}
	if rec.EndedAt.IsZero() {
		t.Error("EndedAt not set")
	}
	if _, active := r.Active(); active {
		t.Error("recorder still active after Stop")
	}
}

func TestRecorderExclusive(t *testing.T) {
	r := NewRecorder()
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := r.Start(); err == nil {
		t.Error("second Start succeeded while recording active")
	}

	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// A new session can begin once the previous one is frozen.
	if _, err := r.Start(); err != nil {
		t.Errorf("restart after Stop failed: %v", err)
	}
}

func TestRecorderStopWithoutStart(t *testing.T) {
	r := NewRecorder()
	if _, err := r.Stop(); err == nil {
		t.Error("Stop on idle recorder succeeded")
	}
}

func TestAppendWhileIdleIsDropped(t *testing.T) {
	r := NewRecorder()
	r.Append(testCall("chat.send")) // no recording active

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_ = id
	if r.Len() != 0 {
		t.Errorf("idle append leaked into new recording: %d calls", r.Len())
	}
}

func TestOrdinalsAreMonotonicFromOne(t *testing.T) {
	r := NewRecorder()
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		r.Append(testCall("a.b"))
	}
	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	for i, rc := range rec.Calls {
		if rc.Ordinal != uint64(i+1) {
			t.Errorf("call %d ordinal: got %d, want %d", i, rc.Ordinal, i+1)
		}
	}
}

func TestAppendOrdersByFrameSequence(t *testing.T) {
	r := NewRecorder()
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Workers finishing out of order deliver sequences 1, 3, 2.
	for _, seq := range []uint64{1, 3, 2} {
		call := testCall("a.b")
		call.Frame = capture.Frame{Sequence: seq}
		r.Append(call)
	}

	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	for i, rc := range rec.Calls {
		if rc.Call.Frame.Sequence != uint64(i+1) {
			t.Errorf("slot %d holds sequence %d", i, rc.Call.Frame.Sequence)
		}
		if rc.Ordinal != uint64(i+1) {
			t.Errorf("slot %d ordinal: got %d, want %d", i, rc.Ordinal, i+1)
		}
	}
}

func TestAppendUsesFrameTimestamp(t *testing.T) {
	r := NewRecorder()
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	call := testCall("a.b")
	call.Frame.Timestamp = ts
	r.Append(call)
	r.Append(testCall("c.d")) // zero frame timestamp falls back to wall clock

	rec, _ := r.Stop()
	if !rec.Calls[0].At.Equal(ts) {
		t.Errorf("first call At: got %v, want %v", rec.Calls[0].At, ts)
	}
	if rec.Calls[1].At.IsZero() {
		t.Error("fallback timestamp not set")
	}
}

func TestRecordingMarshalRoundTrip(t *testing.T) {
	r := NewRecorder()
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Append(testCall("march.start"))
	rec, _ := r.Stop()

	data, err := MarshalRecording(rec)
	if err != nil {
		t.Fatalf("MarshalRecording failed: %v", err)
	}
	got, err := UnmarshalRecording(data)
	if err != nil {
		t.Fatalf("UnmarshalRecording failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("id: got %q, want %q", got.ID, rec.ID)
	}
	if len(got.Calls) != 1 || got.Calls[0].Call.Action != "march.start" {
		t.Errorf("calls mismatch: %+v", got.Calls)
	}
}

func TestUnmarshalRecordingRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalRecording([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}
