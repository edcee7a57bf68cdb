package events

import (
	"encoding/json"
	"testing"
)

func TestAsrEventRoundTrip(t *testing.T) {
	speaker := int32(1)
	e := AsrEvent{
		ID:       "a1",
		Text:     "hello world",
		IsFinal:  true,
		OffsetMs: 1200,
		Words: []AsrWord{
			{Text: "hello", StartMs: 1000, EndMs: 1100, Confidence: 0.92},
			{Text: "world", StartMs: 1100, EndMs: 1200, Confidence: 0.81, Speaker: &speaker},
		},
	}

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got AsrEvent
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != e.ID || got.Text != e.Text || got.IsFinal != e.IsFinal {
		t.Errorf("round trip mismatch: got %+v want %+v", got, e)
	}
	if len(got.Words) != 2 || got.Words[1].Speaker == nil || *got.Words[1].Speaker != 1 {
		t.Errorf("words did not round trip: %+v", got.Words)
	}
}

func TestDetectedIntentDefaults(t *testing.T) {
	di := DetectedIntent{Type: IntentStatement, Confidence: 0.5, SourceText: "it is raining"}
	b, err := json.Marshal(di)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) == "" {
		t.Fatal("expected non-empty json")
	}
	var got DetectedIntent
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Subtype != SubtypeNone {
		t.Errorf("expected empty subtype to decode as SubtypeNone, got %q", got.Subtype)
	}
}

func TestRecordedEventEnvelope(t *testing.T) {
	ae := ActionEvent{ActionName: "stop", UtteranceID: "u1", WasDebounced: false}
	rec := RecordedEvent{Kind: KindAction, OffsetMs: 500, Data: ae}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if _, ok := raw["data"]; !ok {
		t.Fatal("expected data field in envelope")
	}
}
