package rooms

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/RanFeng/ilog"

	"slidesync/internal/protocol"
)

var ErrInvalidCompression = errors.New("time compression must be a positive finite number")

// StartRecording discards any previous take and starts a new one.
func (r *Room) StartRecording() {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	r.recording = true
	r.recorded = nil
}

func (r *Room) StopRecording() {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	r.recording = false
}

func (r *Room) IsRecording() bool {
	r.recMu.RLock()
	defer r.recMu.RUnlock()
	return r.recording
}

func (r *Room) RecordedMessages() []protocol.RecordedMessage {
	r.recMu.RLock()
	defer r.recMu.RUnlock()
	out := make([]protocol.RecordedMessage, len(r.recorded))
	copy(out, r.recorded)
	return out
}

// ExportRecording returns the current take as newline-delimited JSON.
func (r *Room) ExportRecording() string {
	return protocol.EncodeRecording(r.RecordedMessages())
}

func validCompression(timeCompression float64) bool {
	return timeCompression > 0 && !math.IsInf(timeCompression, 0)
}

// ParseCompression reads a compression factor from a query value. An empty
// value means real time.
func ParseCompression(raw string) (float64, error) {
	if raw == "" {
		return 1, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || !validCompression(f) {
		return 0, ErrInvalidCompression
	}
	return f, nil
}

// ReplayRecording re-broadcasts messages with their original spacing divided
// by timeCompression, measured from the first message. Messages go through
// BroadcastMessage, not HandleEvent: a replayed slide:change is seen by
// subscribers but does not touch the room state. If the room is still
// recording, replayed messages are recorded again.
func (r *Room) ReplayRecording(ctx context.Context, messages []protocol.RecordedMessage, timeCompression float64) error {
	if !validCompression(timeCompression) {
		return ErrInvalidCompression
	}
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	origin := messages[0].SessionTime
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for _, recorded := range messages {
		var offset time.Duration
		if recorded.SessionTime > origin {
			offset = replayOffset(recorded.SessionTime-origin, timeCompression)
		}

		if wait := offset - time.Since(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.ctx.Done():
				return r.ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		r.BroadcastMessage(recorded.Message)
	}
	return nil
}

// replayOffset scales a session time delta in milliseconds, saturating at the
// largest representable Duration for tiny compression factors.
func replayOffset(deltaMs uint64, timeCompression float64) time.Duration {
	nanos := float64(deltaMs) / timeCompression * float64(time.Millisecond)
	if nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}

// ReplayInBackground validates the arguments and replays on a separate
// goroutine that stops when the room is closed.
func (r *Room) ReplayInBackground(messages []protocol.RecordedMessage, timeCompression float64) error {
	if !validCompression(timeCompression) {
		return ErrInvalidCompression
	}
	go func() {
		ilog.EventInfo(r.ctx, "room_replay_started", "roomID", r.id, "messages", len(messages), "compression", timeCompression)
		err := r.ReplayRecording(r.ctx, messages, timeCompression)
		outcome := "completed"
		if err != nil {
			outcome = "cancelled"
		}
		r.metrics.Replay(outcome)
		ilog.EventInfo(context.Background(), "room_replay_finished", "roomID", r.id, "outcome", outcome)
	}()
	return nil
}
