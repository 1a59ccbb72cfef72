package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const maxRecordingLine = 4 << 20

// RecordedMessage is one broadcast captured while a room was recording.
// SessionTime is milliseconds since the room was created.
type RecordedMessage struct {
	Message     RoomMessage `json:"message"`
	RecordedAt  int64       `json:"recordedAt"`
	SessionTime uint64      `json:"sessionTime"`
}

// EncodeRecording renders messages as newline-delimited JSON, one message per
// line and no trailing newline.
func EncodeRecording(messages []RecordedMessage) string {
	lines := make([]string, 0, len(messages))
	for _, recorded := range messages {
		data, err := json.Marshal(recorded)
		if err != nil {
			continue
		}
		lines = append(lines, string(data))
	}
	return strings.Join(lines, "\n")
}

// DecodeRecording parses the output of EncodeRecording. Blank lines are skipped.
func DecodeRecording(data []byte) ([]RecordedMessage, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordingLine)

	var messages []RecordedMessage
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var recorded RecordedMessage
		if err := json.Unmarshal(raw, &recorded); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		if err := recorded.Message.Validate(); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		messages = append(messages, recorded)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	return messages, nil
}
