package channel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smsChctx() *domain.ChannelContext {
	return &domain.ChannelContext{
		Channel:      domain.ChannelSMS,
		AgentID:      "helper",
		Capabilities: domain.CapabilitiesFor(domain.ChannelSMS),
		Metadata:     make(map[string]any),
	}
}

func smsForm(from, body string) []byte {
	v := url.Values{}
	v.Set("From", from)
	v.Set("To", "+15550001111")
	v.Set("Body", body)
	v.Set("MessageSid", "SM123")
	return []byte(v.Encode())
}

func newTestSMSAdapter() *SMSAdapter {
	return NewSMSAdapter(SMSAdapterConfig{
		Config: config.SMSConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550001111"},
		Logger: testLogger(),
	})
}

func TestSMSHandleIncoming(t *testing.T) {
	adapter := newTestSMSAdapter()
	chctx := smsChctx()

	msg, err := adapter.HandleIncoming(smsForm("+15559990000", "what are your hours?"), chctx)
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if msg.Content != "what are your hours?" || msg.Role != domain.RoleUser {
		t.Errorf("message = %+v", msg)
	}
	if chctx.SessionID != "+15559990000" || chctx.UserID != "+15559990000" {
		t.Errorf("identity not filled: session=%s user=%s", chctx.SessionID, chctx.UserID)
	}
	if chctx.ThreadID != "sms:+15559990000" {
		t.Errorf("threadID = %s", chctx.ThreadID)
	}
	if chctx.Metadata["messageSid"] != "SM123" {
		t.Errorf("metadata = %v", chctx.Metadata)
	}
}

func TestSMSHandleIncomingRejections(t *testing.T) {
	adapter := newTestSMSAdapter()

	cases := []struct {
		name string
		raw  []byte
	}{
		{"missing from", smsForm("", "hello")},
		{"empty body", smsForm("+15559990000", "   ")},
		{"oversized body", smsForm("+15559990000", strings.Repeat("x", 500))},
		{"malformed payload", []byte("%zz=bad")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := adapter.HandleIncoming(tc.raw, smsChctx())
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *domain.ValidationError", err)
			}
		})
	}
}

func TestSMSLengthLimitCountsCharactersNotBytes(t *testing.T) {
	adapter := newTestSMSAdapter()

	// 150 accented characters encode to 300 bytes; still under the limit.
	msg, err := adapter.HandleIncoming(smsForm("+15559990000", strings.Repeat("é", 150)), smsChctx())
	if err != nil {
		t.Fatalf("multi-byte message under the character limit rejected: %v", err)
	}
	if msg == nil {
		t.Fatal("no message returned")
	}

	_, err = adapter.HandleIncoming(smsForm("+15559990000", strings.Repeat("é", 161)), smsChctx())
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("161-character message: error = %v, want *domain.ValidationError", err)
	}
}

func TestSplitSegmentsShortTextPassesThrough(t *testing.T) {
	segs := SplitSegments("short reply", 160)
	if len(segs) != 1 || segs[0] != "short reply" {
		t.Errorf("segments = %v", segs)
	}
	// No position indicator on single segments.
	if strings.Contains(segs[0], "(1/1)") {
		t.Error("single segment should carry no indicator")
	}
}

func TestSplitSegmentsAddsPositionIndicators(t *testing.T) {
	text := strings.Repeat("all work and no play makes a dull reply ", 10)
	segs := SplitSegments(text, 160)

	if len(segs) < 2 {
		t.Fatalf("got %d segments, want several", len(segs))
	}
	for i, seg := range segs {
		want := fmt.Sprintf("(%d/%d)", i+1, len(segs))
		if !strings.HasSuffix(seg, want) {
			t.Errorf("segment %d = %q, want suffix %s", i, seg, want)
		}
		if len(seg) > 160 {
			t.Errorf("segment %d is %d characters, want at most 160", i, len(seg))
		}
	}
}

func TestSplitSegmentsPrefersWordBoundaries(t *testing.T) {
	text := strings.Repeat("boundary ", 40)
	for _, seg := range SplitSegments(text, 160) {
		body := seg[:strings.LastIndex(seg, " (")]
		if strings.HasSuffix(body, "bounda") || strings.HasSuffix(body, "bound") {
			t.Errorf("segment cuts mid-word: %q", seg)
		}
	}
}

func TestSplitSegmentsPreservesContent(t *testing.T) {
	text := strings.Repeat("all work and no play makes a dull reply ", 10)
	segs := SplitSegments(text, 160)

	var rebuilt []string
	for i, seg := range segs {
		rebuilt = append(rebuilt, strings.TrimSuffix(seg, fmt.Sprintf(" (%d/%d)", i+1, len(segs))))
	}
	joined := strings.Join(rebuilt, " ")
	if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(text), " ") {
		t.Error("segments lose or reorder words")
	}
}
