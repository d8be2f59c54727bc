package alert

import (
	"context"
	"fmt"
	"net/http"
)

var slackColors = map[AlertLevel]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color   string       `json:"color"`
	Pretext string       `json:"pretext"`
	Text    string       `json:"text"`
	Fields  []slackField `json:"fields,omitempty"`
	Footer  string       `json:"footer"`
	TS      int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackChannel posts to an incoming webhook. An empty URL disables it.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	return postJSON(ctx, s.client, s.Name(), s.webhookURL, slackMessage{
		Attachments: []slackAttachment{newSlackAttachment(alert)},
	})
}

func newSlackAttachment(alert AlertPayload) slackAttachment {
	color, ok := slackColors[alert.Level]
	if !ok {
		color = slackColors[Info]
	}

	att := slackAttachment{
		Color:   color,
		Pretext: fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
		Text:    alert.Message,
		Footer:  "hedged_mm",
		TS:      alert.Timestamp.Unix(),
	}
	for _, k := range sortedKeys(alert.Fields) {
		att.Fields = append(att.Fields, slackField{Title: k, Value: alert.Fields[k], Short: true})
	}
	return att
}
