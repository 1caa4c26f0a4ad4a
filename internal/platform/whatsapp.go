package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"student-helpdesk/internal/domain"
)

// WhatsAppSender is satisfied by *meta.Client.
type WhatsAppSender interface {
	SendWhatsAppText(ctx context.Context, phoneNumberID, accessToken, to, text string) error
}

type WhatsApp struct {
	sender        WhatsAppSender
	phoneNumberID string
	accessToken   string
	now           func() time.Time
}

func NewWhatsApp(sender WhatsAppSender, phoneNumberID, accessToken string) *WhatsApp {
	return &WhatsApp{
		sender:        sender,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		now:           time.Now,
	}
}

func (w *WhatsApp) Platform() domain.Platform { return domain.PlatformWhatsApp }

type whatsAppValue struct {
	Contacts json.RawMessage `json:"contacts"`
	Messages json.RawMessage `json:"messages"`
}

type whatsAppContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type whatsAppMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (w *WhatsApp) ParseInbound(raw []byte) ([]domain.Envelope, error) {
	root, err := decodeRoot(raw, "whatsapp")
	if err != nil {
		return nil, err
	}

	var out []domain.Envelope
	for _, rawEntry := range items(root["entry"]) {
		var entry struct {
			Changes json.RawMessage `json:"changes"`
		}
		if json.Unmarshal(rawEntry, &entry) != nil {
			continue
		}
		for _, rawChange := range items(entry.Changes) {
			var change struct {
				Value whatsAppValue `json:"value"`
			}
			if json.Unmarshal(rawChange, &change) != nil {
				continue
			}
			contacts := decodeContacts(change.Value.Contacts)
			for _, rawMsg := range items(change.Value.Messages) {
				var msg whatsAppMessage
				if json.Unmarshal(rawMsg, &msg) != nil {
					continue
				}
				if msg.Type != "text" || msg.From == "" || msg.Text.Body == "" {
					continue
				}
				out = append(out, domain.Envelope{
					Platform:          domain.PlatformWhatsApp,
					ExternalSenderID:  msg.From,
					DisplayName:       contactName(contacts, msg.From),
					Text:              msg.Text.Body,
					ReceivedAt:        w.receivedAt(msg.Timestamp),
					ExternalMessageID: msg.ID,
				})
			}
		}
	}
	return out, nil
}

func decodeContacts(raw json.RawMessage) []whatsAppContact {
	var out []whatsAppContact
	for _, rc := range items(raw) {
		var c whatsAppContact
		if json.Unmarshal(rc, &c) == nil {
			out = append(out, c)
		}
	}
	return out
}

// contactName prefers the contact matching from, then the first contact.
func contactName(contacts []whatsAppContact, from string) string {
	for _, c := range contacts {
		if c.WaID == from && c.Profile.Name != "" {
			return c.Profile.Name
		}
	}
	if len(contacts) > 0 {
		return contacts[0].Profile.Name
	}
	return ""
}

func (w *WhatsApp) receivedAt(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return w.now().UTC()
}

func (w *WhatsApp) SendReply(ctx context.Context, externalID, text string) error {
	if err := w.sender.SendWhatsAppText(ctx, w.phoneNumberID, w.accessToken, externalID, text); err != nil {
		return fmt.Errorf("platform: whatsapp send: %w", err)
	}
	return nil
}
