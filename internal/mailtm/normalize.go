package mailtm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
)

const (
	// NoSubject replaces a missing subject.
	NoSubject = "(No Subject)"

	// UnknownSender replaces a missing sender address.
	UnknownSender = "unknown@example.com"
)

// Mail.tm JSON response types (unexported, used only for JSON unmarshaling).

type addressJSON struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type messageJSON struct {
	ID             string        `json:"id"`
	From           *addressJSON  `json:"from"`
	To             []addressJSON `json:"to"`
	Subject        string        `json:"subject"`
	Intro          string        `json:"intro"`
	Text           string        `json:"text"`
	HTML           htmlBody      `json:"html"`
	Seen           bool          `json:"seen"`
	HasAttachments bool          `json:"hasAttachments"`
	Size           int64         `json:"size"`
	CreatedAt      string        `json:"createdAt"`
}

type tokenJSON struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// htmlBody accepts the shapes html arrives in: a string, an array of
// fragments, or absent/null.
type htmlBody []string

func (h *htmlBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = nil
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode html string: %w", err)
		}
		*h = htmlBody{s}
	case '[':
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("decode html fragments: %w", err)
		}
		*h = htmlBody(parts)
	default:
		return fmt.Errorf("unexpected html value %s", truncate(data, 32))
	}
	return nil
}

// String joins the fragments with no separator.
func (h htmlBody) String() string {
	return strings.Join(h, "")
}

// normalizeMessage converts a provider message into the app model.
func normalizeMessage(m messageJSON) Message {
	text := m.Text
	if text == "" {
		text = m.Intro
	}

	body := m.HTML.String()
	if body == "" {
		body = "<p>" + html.EscapeString(text) + "</p>"
	}

	subject := m.Subject
	if strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}

	from := UnknownSender
	if m.From != nil && m.From.Address != "" {
		from = m.From.Address
	}

	var to string
	for _, a := range m.To {
		if a.Address != "" {
			to = a.Address
			break
		}
	}

	return Message{
		ID:             m.ID,
		From:           from,
		To:             to,
		Subject:        subject,
		Intro:          m.Intro,
		Text:           text,
		HTML:           body,
		Date:           parseDate(m.CreatedAt),
		Read:           m.Seen,
		HasAttachments: m.HasAttachments,
		Size:           m.Size,
	}
}

func normalizeMessages(in []messageJSON) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = normalizeMessage(m)
	}
	return out
}

// parseDate parses provider timestamps; unparseable values yield zero.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
