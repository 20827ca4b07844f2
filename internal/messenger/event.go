package messenger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"autoreply/internal/domain"
)

// ErrNoText marks well-formed events that carry no text message, such as
// delivery or read receipts. It is wrapped in a validation error.
var ErrNoText = errors.New("no text message in payload")

// Event is the webhook envelope delivered by the Messenger platform.
type Event struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

type Messaging struct {
	Sender    Party    `json:"sender"`
	Recipient Party    `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
}

type Party struct {
	ID string `json:"id"`
}

type Message struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// Inbound is one text message extracted from an event.
type Inbound struct {
	SenderID    string
	RecipientID string
	MessageID   string
	Text        string
	Timestamp   int64
}

// ParseEvent decodes a webhook body and returns its text messages in order.
// Echoes of the page's own messages are skipped. A body that is not a valid
// page event, or that carries no text message, is a validation error.
func ParseEvent(body []byte) ([]Inbound, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&ev); err != nil {
		return nil, domain.ValidationError("messenger.parse", "malformed webhook payload: "+err.Error())
	}
	if ev.Object != "" && ev.Object != "page" {
		return nil, domain.ValidationError("messenger.parse", "unsupported object "+ev.Object)
	}
	var out []Inbound
	for _, e := range ev.Entry {
		for _, m := range e.Messaging {
			if m.Message == nil || m.Message.IsEcho {
				continue
			}
			if strings.TrimSpace(m.Message.Text) == "" || m.Sender.ID == "" {
				continue
			}
			out = append(out, Inbound{
				SenderID:    m.Sender.ID,
				RecipientID: m.Recipient.ID,
				MessageID:   m.Message.MID,
				Text:        m.Message.Text,
				Timestamp:   m.Timestamp,
			})
		}
	}
	if len(out) == 0 {
		return nil, &domain.Error{Kind: domain.KindValidation, Op: "messenger.parse", Err: ErrNoText}
	}
	return out, nil
}
