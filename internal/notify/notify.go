// Package notify delivers operator alerts as chat cards.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type Alert struct {
	Severity  Severity
	Title     string
	Summary   string
	Count     int
	SampleIDs []string
	Facts     map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Nop drops every alert. Used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

// Webhook posts a cardsV2 message to an incoming chat webhook.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(buildCard(alert))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type card struct {
	CardsV2 []cardV2 `json:"cardsV2"`
}

type cardV2 struct {
	CardID string   `json:"cardId"`
	Card   cardBody `json:"card"`
}

type cardBody struct {
	Header   cardHeader    `json:"header"`
	Sections []cardSection `json:"sections"`
}

type cardHeader struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
}

type cardSection struct {
	Header  string   `json:"header,omitempty"`
	Widgets []widget `json:"widgets"`
}

type widget struct {
	DecoratedText *decoratedText `json:"decoratedText,omitempty"`
	TextParagraph *textParagraph `json:"textParagraph,omitempty"`
}

type decoratedText struct {
	TopLabel string `json:"topLabel"`
	Text     string `json:"text"`
}

type textParagraph struct {
	Text string `json:"text"`
}

func buildCard(a Alert) card {
	widgets := []widget{
		{TextParagraph: &textParagraph{Text: a.Summary}},
		{DecoratedText: &decoratedText{TopLabel: "Affected records", Text: fmt.Sprintf("%d", a.Count)}},
	}
	for _, k := range sortedKeys(a.Facts) {
		widgets = append(widgets, widget{DecoratedText: &decoratedText{TopLabel: k, Text: a.Facts[k]}})
	}
	if len(a.SampleIDs) > 0 {
		widgets = append(widgets, widget{DecoratedText: &decoratedText{
			TopLabel: "Sample IDs",
			Text:     strings.Join(a.SampleIDs, ", "),
		}})
	}

	return card{CardsV2: []cardV2{{
		CardID: "outreach-" + string(a.Severity),
		Card: cardBody{
			Header:   cardHeader{Title: a.Title, Subtitle: strings.ToUpper(string(a.Severity))},
			Sections: []cardSection{{Widgets: widgets}},
		},
	}}}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
