package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"student-helpdesk/internal/domain"
)

// MessengerSender is satisfied by *meta.Client.
type MessengerSender interface {
	SendMessengerText(ctx context.Context, pageAccessToken, recipientID, text string) error
}

type Facebook struct {
	sender          MessengerSender
	pageAccessToken string
	now             func() time.Time
}

func NewFacebook(sender MessengerSender, pageAccessToken string) *Facebook {
	return &Facebook{sender: sender, pageAccessToken: pageAccessToken, now: time.Now}
}

func (f *Facebook) Platform() domain.Platform { return domain.PlatformFacebook }

type messengerEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		Mid    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

func (f *Facebook) ParseInbound(raw []byte) ([]domain.Envelope, error) {
	root, err := decodeRoot(raw, "facebook")
	if err != nil {
		return nil, err
	}

	var out []domain.Envelope
	for _, rawEntry := range items(root["entry"]) {
		var entry struct {
			Messaging json.RawMessage `json:"messaging"`
		}
		if json.Unmarshal(rawEntry, &entry) != nil {
			continue
		}
		for _, rawEv := range items(entry.Messaging) {
			var ev messengerEvent
			if json.Unmarshal(rawEv, &ev) != nil {
				continue
			}
			if ev.Message == nil || ev.Message.IsEcho || ev.Message.Text == "" || ev.Sender.ID == "" {
				continue
			}
			received := f.now().UTC()
			if ev.Timestamp > 0 {
				received = time.UnixMilli(ev.Timestamp).UTC()
			}
			out = append(out, domain.Envelope{
				Platform:          domain.PlatformFacebook,
				ExternalSenderID:  ev.Sender.ID,
				DisplayName:       "FB-" + ev.Sender.ID,
				Text:              ev.Message.Text,
				ReceivedAt:        received,
				ExternalMessageID: ev.Message.Mid,
			})
		}
	}
	return out, nil
}

func (f *Facebook) SendReply(ctx context.Context, externalID, text string) error {
	if err := f.sender.SendMessengerText(ctx, f.pageAccessToken, externalID, text); err != nil {
		return fmt.Errorf("platform: facebook send: %w", err)
	}
	return nil
}
