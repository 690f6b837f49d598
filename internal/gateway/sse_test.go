package gateway

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/pkg/models"
)

func TestEncoderWritesFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}

	ev := models.StreamEvent{
		Type:     models.EventToken,
		Sequence: 1,
		Time:     time.Now(),
		Token:    &models.TokenPayload{Text: "hello"},
	}
	if err := enc.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := enc.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: token\ndata: {") {
		t.Fatalf("frame prefix = %q", body)
	}
	if !strings.Contains(body, "\n\n: ping\n\n") {
		t.Fatalf("heartbeat frame missing:\n%q", body)
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, _ := NewEncoder(rec)

	events := []models.StreamEvent{
		{Type: models.EventToken, Sequence: 1, Token: &models.TokenPayload{Text: "a"}},
		{Type: models.EventToolUse, Sequence: 2, ToolUse: &models.ToolCall{ID: "c1", Name: "search_records"}},
		{Type: models.EventComplete, Sequence: 3, Complete: &models.CompletePayload{MessageID: "m1", Content: "a"}},
	}
	for _, ev := range events {
		if err := enc.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
		enc.Heartbeat()
	}

	dec := NewDecoder(strings.NewReader(rec.Body.String()), nil, nil)
	for i, want := range events {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.Type != want.Type || got.Sequence != want.Sequence {
			t.Fatalf("event %d = %s seq %d, want %s seq %d", i, got.Type, got.Sequence, want.Type, want.Sequence)
		}
	}
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after last event: %v, want io.EOF", err)
	}
}

func TestDecoderSkipsMalformedFrames(t *testing.T) {
	raw := strings.Join([]string{
		"event: token",
		`data: {"type":"token","seq":1}`,
		"",
		"data: {\"type\":\"token\",\"seq\":2}", // no event line
		"",
		"event: token",
		"data: {not json",
		"",
		"event: complete",
		`data: {"type":"token","seq":3}`, // type mismatch
		"",
		"event: complete",
		`data: {"type":"complete","seq":4}`,
		"",
	}, "\n")

	dec := NewDecoder(strings.NewReader(raw), nil, nil)

	first, err := dec.Next()
	if err != nil || first.Sequence != 1 {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := dec.Next()
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Type != models.EventComplete || second.Sequence != 4 {
		t.Fatalf("second = %s seq %d, want complete seq 4", second.Type, second.Sequence)
	}
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("tail = %v, want io.EOF", err)
	}
}

func TestDecoderIgnoresLoneComments(t *testing.T) {
	raw := ": ping\n\n: ping\n\nevent: token\ndata: {\"type\":\"token\",\"seq\":1}\n\n"
	dec := NewDecoder(strings.NewReader(raw), nil, nil)

	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != models.EventToken {
		t.Fatalf("type = %s", ev.Type)
	}
}

func TestDecoderHandlesTruncatedFinalFrame(t *testing.T) {
	raw := "event: token\ndata: {\"type\":\"token\",\"seq\":1}"
	dec := NewDecoder(strings.NewReader(raw), nil, nil)

	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Sequence != 1 {
		t.Fatalf("seq = %d", ev.Sequence)
	}
}
