package auditlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []discord.Embed
	calls chan struct{}
	err   error
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: make(chan struct{}, QueueSize)}
}

func (s *fakeSender) SendEmbeds(channelID discord.ChannelID, embeds ...discord.Embed) (*discord.Message, error) {
	s.mu.Lock()
	s.sent = append(s.sent, embeds...)
	s.mu.Unlock()
	s.calls <- struct{}{}
	return &discord.Message{ChannelID: channelID}, s.err
}

func (s *fakeSender) Sent() []discord.Embed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]discord.Embed(nil), s.sent...)
}

func TestEmbed(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	embed := Embed("custom_role_claimed", map[string]any{
		"user_id": discord.UserID(42),
		"name":    "Shiny",
		"empty":   "",
		"expires": at,
		"for":     90 * time.Second,
	}, at)

	if embed.Title != "custom_role_claimed" {
		t.Fatalf("unexpected title %q", embed.Title)
	}
	if embed.Color != colorInfo {
		t.Fatalf("unexpected color %v", embed.Color)
	}

	want := []discord.EmbedField{
		{Name: "empty", Value: "-", Inline: true},
		{Name: "expires", Value: "<t:1704067200:f>", Inline: true},
		{Name: "for", Value: "1m30s", Inline: true},
		{Name: "name", Value: "Shiny", Inline: true},
		{Name: "user_id", Value: "42", Inline: true},
	}
	if len(embed.Fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(embed.Fields))
	}
	for i, f := range embed.Fields {
		if f != want[i] {
			t.Errorf("field %d: expected %+v, got %+v", i, want[i], f)
		}
	}
}

func TestEmbedFailureColor(t *testing.T) {
	embed := Embed("ephemeral_task_failed", nil, time.Now())
	if embed.Color != colorFailure {
		t.Fatalf("unexpected color %v", embed.Color)
	}
}

func TestLoggerPostsToChannel(t *testing.T) {
	sender := newFakeSender()
	sender.err = errors.New("missing access")

	l := New(sender, 1234, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	l.Log("first", map[string]any{"a": 1})
	l.Log("second", nil)

	for i := 0; i < 2; i++ {
		select {
		case <-sender.calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d was not posted", i)
		}
	}

	sent := sender.Sent()
	if sent[0].Title != "first" || sent[1].Title != "second" {
		t.Fatalf("unexpected posts %q, %q", sent[0].Title, sent[1].Title)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected Run error %v", err)
	}
}

func TestLoggerWithoutChannel(t *testing.T) {
	sender := newFakeSender()
	l := New(sender, 0, nil)

	l.Log("event", nil)

	if len(l.queue) != 0 {
		t.Fatalf("expected nothing queued without a channel")
	}
}

func TestLoggerDropsWhenFull(t *testing.T) {
	l := New(newFakeSender(), 1234, nil)

	for i := 0; i < QueueSize+10; i++ {
		l.Log("event", nil)
	}

	if len(l.queue) != QueueSize {
		t.Fatalf("expected a full queue of %d, got %d", QueueSize, len(l.queue))
	}
}
