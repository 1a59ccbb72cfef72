package protocol

import (
	"strings"
	"testing"
)

// TestRecordingRoundTrip keeps order and timing fields.
func TestRecordingRoundTrip(t *testing.T) {
	messages := []RecordedMessage{
		{Message: NewJoin(RoleAudience, "a"), RecordedAt: 1000, SessionTime: 0},
		{Message: NewAck("1"), RecordedAt: 1500, SessionTime: 500},
		{Message: NewHeartbeat(), RecordedAt: 2500, SessionTime: 1500},
	}

	encoded := EncodeRecording(messages)
	if got := len(strings.Split(encoded, "\n")); got != 3 {
		t.Fatalf("expected 3 lines, got %d", got)
	}
	if strings.HasSuffix(encoded, "\n") {
		t.Error("export should not end with a newline")
	}

	decoded, err := DecodeRecording([]byte(encoded + "\n\n"))
	if err != nil {
		t.Fatalf("DecodeRecording failed: %v", err)
	}
	if len(decoded) != len(messages) {
		t.Fatalf("expected %d messages, got %d", len(messages), len(decoded))
	}
	for i := range messages {
		if decoded[i].SessionTime != messages[i].SessionTime || decoded[i].Message.Type != messages[i].Message.Type {
			t.Errorf("message %d mismatch: %+v", i, decoded[i])
		}
	}
}

// TestEncodeEmptyRecording yields an empty export.
func TestEncodeEmptyRecording(t *testing.T) {
	if got := EncodeRecording(nil); got != "" {
		t.Errorf("expected empty export, got %q", got)
	}
}

// TestDecodeRecordingRejectsBadLines reports the offending line.
func TestDecodeRecordingRejectsBadLines(t *testing.T) {
	input := `{"message":{"type":"heartbeat"},"recordedAt":1,"sessionTime":0}
{"message":{"type":"bogus"},"recordedAt":2,"sessionTime":1}`
	_, err := DecodeRecording([]byte(input))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}
