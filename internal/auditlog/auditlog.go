// Package auditlog records bot activity to the process log and mirrors it to a
// Discord channel.
package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"golang.org/x/time/rate"
)

// QueueSize is the number of events that may wait to be posted before new
// events are dropped from the channel mirror.
const QueueSize = 64

// Sender posts embeds into a channel. *api.Client satisfies it.
type Sender interface {
	SendEmbeds(channelID discord.ChannelID, embeds ...discord.Embed) (*discord.Message, error)
}

type entry struct {
	eventType string
	details   map[string]any
	at        time.Time
}

// Logger is the audit log. Its Log method never blocks.
type Logger struct {
	sender    Sender
	channelID discord.ChannelID
	limiter   *rate.Limiter
	queue     chan entry
}

// New creates a new Logger posting to channelID. If channelID is invalid or
// sender is nil, events only go to the process log. The limiter throttles
// channel posts; a nil limiter means no throttling.
func New(sender Sender, channelID discord.ChannelID, limiter *rate.Limiter) *Logger {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Logger{
		sender:    sender,
		channelID: channelID,
		limiter:   limiter,
		queue:     make(chan entry, QueueSize),
	}
}

// Log records an event. It logs to slog immediately and queues the event for
// the log channel, dropping it if the queue is full.
func (l *Logger) Log(eventType string, details map[string]any) {
	args := make([]any, 0, 2+2*len(details))
	args = append(args, "event", eventType)
	for _, k := range sortedKeys(details) {
		args = append(args, k, details[k])
	}
	slog.Info("Bot has recorded an audit event.", args...)

	if l.sender == nil || !l.channelID.IsValid() {
		return
	}

	select {
	case l.queue <- entry{eventType, details, time.Now()}:
	default:
		slog.Warn(
			"Bot has dropped an audit event because the log channel is backed up.",
			"event", eventType,
			"channel_id", l.channelID)
	}
}

// Run posts queued events to the log channel until ctx is done.
func (l *Logger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-l.queue:
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}

			if _, err := l.sender.SendEmbeds(l.channelID, Embed(e.eventType, e.details, e.at)); err != nil {
				slog.Error(
					"Bot has failed to post an audit event to the log channel.",
					"event", e.eventType,
					"channel_id", l.channelID,
					"err", err)
			}
		}
	}
}

// Embed renders an event as a Discord embed. Details become fields sorted by
// key.
func Embed(eventType string, details map[string]any, at time.Time) discord.Embed {
	embed := discord.Embed{
		Title:     eventType,
		Timestamp: discord.NewTimestamp(at),
		Color:     colorFor(eventType),
	}

	for _, k := range sortedKeys(details) {
		value := formatValue(details[k])
		if value == "" {
			value = "-"
		}
		embed.Fields = append(embed.Fields, discord.EmbedField{
			Name:   k,
			Value:  value,
			Inline: len(value) <= 32,
		})
	}

	return embed
}

const (
	colorInfo    discord.Color = 0x5865F2
	colorFailure discord.Color = 0xED4245
)

func colorFor(eventType string) discord.Color {
	switch eventType {
	case "ephemeral_task_failed", "role_action_failed":
		return colorFailure
	default:
		return colorInfo
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case time.Time:
		return fmt.Sprintf("<t:%d:f>", v.Unix())
	case time.Duration:
		return v.Round(time.Second).String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
