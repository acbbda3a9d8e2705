package protocol

import (
	"encoding/json"
	"testing"
)

func TestSyncMessageRoundTrip(t *testing.T) {
	in := SyncMessage{
		Type:        SyncTime,
		TS:          1724800000000,
		CurrentTime: 42.5,
	}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := DecodeSyncMessage(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestDecodeSyncMessageRejectsMissingType(t *testing.T) {
	if _, err := DecodeSyncMessage([]byte(`{"ts":1}`)); err == nil {
		t.Fatal("expected error for message without type")
	}
}

func TestDecodeSyncMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeSyncMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}

func TestDecodeSyncMessageKeepsUnknownType(t *testing.T) {
	// Dispatch decides what to ignore; decoding must not.
	msg, err := DecodeSyncMessage([]byte(`{"type":"future-thing","ts":5}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != "future-thing" {
		t.Errorf("type = %q", msg.Type)
	}
}

func TestEnvelopeOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Envelope{From: "a", To: "b"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"sdp", "candidate", "error", "callId"} {
		if _, ok := raw[field]; ok {
			t.Errorf("empty field %q serialized", field)
		}
	}
}
