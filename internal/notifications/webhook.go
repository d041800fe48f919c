// Package notifications delivers watchlist alarms to a chat webhook.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kjannette/botdash-backend/internal/httputil"
	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/models"
)

var log = logging.For("notify")

// Format is the payload dialect of the webhook.
type Format int

const (
	FormatSlack Format = iota
	FormatDiscord
)

const (
	colorIncrease = 0x2ecc71
	colorDecrease = 0xe74c3c
)

type Sender struct {
	webhookURL string
	botName    string
	format     Format
	httpClient *http.Client
	retry      httputil.Policy
}

// NewSender returns a sender for webhookURL. Discord hosts get Discord
// payloads; everything else is treated as Slack-compatible.
func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = "BotDash"
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		format:     detectFormat(webhookURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.Policy{
			Upstream:   "webhook",
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 5 * time.Second,
		},
	}
}

func detectFormat(raw string) Format {
	u, err := url.Parse(raw)
	if err != nil {
		return FormatSlack
	}
	host := strings.ToLower(u.Hostname())
	if host == "discord.com" || host == "discordapp.com" || strings.HasSuffix(host, ".discord.com") ||
		strings.Contains(u.Path, "/discord/") {
		return FormatDiscord
	}
	return FormatSlack
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

// Send posts a plain message. Without a webhook the message is only logged.
func (s *Sender) Send(ctx context.Context, msg string) error {
	line := fmt.Sprintf("[%s] %s", s.botName, msg)
	log.Info(line)
	if !s.Enabled() {
		return nil
	}

	if s.format == FormatDiscord {
		return s.post(ctx, discordPayload{Username: s.botName, Content: line})
	}
	return s.post(ctx, slackPayload{Username: s.botName, Text: "`" + line + "`"})
}

// SendAlarm announces a triggered threshold, colored by direction.
func (s *Sender) SendAlarm(ctx context.Context, a models.Alarm, note string) error {
	line := fmt.Sprintf("[%s] %s", s.botName, FormatAlarm(a, note))
	log.WithFields(map[string]any{"pair": a.Pair, "alarm": a.ID}).Info(line)
	if !s.Enabled() {
		return nil
	}

	color := colorIncrease
	if a.Direction == models.DirectionDecrease {
		color = colorDecrease
	}
	title := fmt.Sprintf("%s %s %s", a.Pair, verb(a.Direction), a.ThresholdValue)

	if s.format == FormatDiscord {
		embed := discordEmbed{
			Title:       title,
			Description: strings.TrimSpace(note),
			Color:       color,
			Fields: []discordField{
				{Name: "Price", Value: formatPrice(a.Price), Inline: true},
				{Name: "Threshold", Value: a.ThresholdValue, Inline: true},
			},
		}
		if !a.TriggeredAt.IsZero() {
			embed.Timestamp = a.TriggeredAt.UTC().Format(time.RFC3339)
		}
		return s.post(ctx, discordPayload{Username: s.botName, Content: line, Embeds: []discordEmbed{embed}})
	}

	att := slackAttachment{
		Color:    fmt.Sprintf("#%06x", color),
		Title:    title,
		Text:     strings.TrimSpace(note),
		Fallback: line,
		Fields: []slackField{
			{Title: "Price", Value: formatPrice(a.Price), Short: true},
			{Title: "Threshold", Value: a.ThresholdValue, Short: true},
		},
	}
	if !a.TriggeredAt.IsZero() {
		att.Ts = a.TriggeredAt.Unix()
	}
	return s.post(ctx, slackPayload{Username: s.botName, Text: "`" + line + "`", Attachments: []slackAttachment{att}})
}

func (s *Sender) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err = s.retry.JSON(ctx, s.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// FormatAlarm renders an alarm as a one-line chat message.
func FormatAlarm(a models.Alarm, note string) string {
	msg := fmt.Sprintf("%s %s %s: now %s", a.Pair, verb(a.Direction), a.ThresholdValue, formatPrice(a.Price))
	if note = strings.TrimSpace(note); note != "" {
		msg += " (" + note + ")"
	}
	return msg
}

func verb(d models.Direction) string {
	if d == models.DirectionDecrease {
		return "fell below"
	}
	return "rose above"
}

func formatPrice(p float64) string {
	if p >= 1 {
		return humanize.FormatFloat("#,###.##", p)
	}
	return fmt.Sprintf("%.6f", p)
}

type slackPayload struct {
	Username    string            `json:"username"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Title    string       `json:"title"`
	Text     string       `json:"text,omitempty"`
	Fallback string       `json:"fallback"`
	Fields   []slackField `json:"fields"`
	Ts       int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}
