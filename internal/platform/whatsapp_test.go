package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"student-helpdesk/internal/domain"
)

const whatsAppBatch = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [
          {"wa_id": "254700000002", "profile": {"name": "Brian"}},
          {"wa_id": "254700000001", "profile": {"name": "Asha"}}
        ],
        "messages": [
          {"from": "254700000001", "id": "wamid.A", "timestamp": "1717000000", "type": "text", "text": {"body": "When is the application deadline?"}},
          {"from": "254700000001", "id": "wamid.B", "timestamp": "1717000001", "type": "image", "image": {"id": "img"}},
          {"from": "254700000003", "id": "wamid.C", "timestamp": "bogus", "type": "text", "text": {"body": "Exam results?"}}
        ]
      }
    }]
  }]
}`

type fakeWhatsAppSender struct {
	calls []string
	err   error
}

func (f *fakeWhatsAppSender) SendWhatsAppText(_ context.Context, phoneNumberID, accessToken, to, text string) error {
	f.calls = append(f.calls, phoneNumberID+"|"+accessToken+"|"+to+"|"+text)
	return f.err
}

func TestWhatsApp_ParseInbound_Batch(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	wa := NewWhatsApp(&fakeWhatsAppSender{}, "pn", "tok")
	wa.now = func() time.Time { return fixed }

	envs, err := wa.ParseInbound([]byte(whatsAppBatch))
	require.NoError(t, err)
	require.Len(t, envs, 2)

	require.Equal(t, domain.Envelope{
		Platform:          domain.PlatformWhatsApp,
		ExternalSenderID:  "254700000001",
		DisplayName:       "Asha",
		Text:              "When is the application deadline?",
		ReceivedAt:        time.Unix(1717000000, 0).UTC(),
		ExternalMessageID: "wamid.A",
	}, envs[0])

	// no matching contact: first contact wins; bad timestamp: adapter clock
	require.Equal(t, "254700000003", envs[1].ExternalSenderID)
	require.Equal(t, "Brian", envs[1].DisplayName)
	require.Equal(t, fixed, envs[1].ReceivedAt)
	require.Equal(t, "wamid.C", envs[1].ExternalMessageID)
}

func TestWhatsApp_ParseInbound_EdgeCases(t *testing.T) {
	wa := NewWhatsApp(&fakeWhatsAppSender{}, "pn", "tok")

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "status update only", body: `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.A","status":"read"}]}}]}]}`, want: 0},
		{name: "empty object", body: `{}`, want: 0},
		{name: "missing from", body: `{"entry":[{"changes":[{"value":{"messages":[{"id":"x","type":"text","text":{"body":"hi"}}]}}]}]}`, want: 0},
		{name: "no contacts", body: `{"entry":[{"changes":[{"value":{"messages":[{"from":"1","type":"text","text":{"body":"hi"}}]}}]}]}`, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envs, err := wa.ParseInbound([]byte(tc.body))
			require.NoError(t, err)
			require.Len(t, envs, tc.want)
		})
	}

	_, err := wa.ParseInbound([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestWhatsApp_ParseInbound_MistypedSiblingIsSkipped(t *testing.T) {
	wa := NewWhatsApp(&fakeWhatsAppSender{}, "pn", "tok")
	body := `{"entry":[
	  {"changes":[{"value":{
	    "contacts":[{"wa_id":"2547","profile":{"name":"Asha"}}, {"wa_id":42}],
	    "messages":[
	      {"from":"2547","id":"wamid.ok","timestamp":"1717000000","type":"text","text":{"body":"fees?"}},
	      {"from":"2547","id":"wamid.bad","timestamp":1717000001,"type":"text","text":{"body":"exams?"}},
	      "not an object"
	    ]}}]},
	  {"changes":{"value":"wrong"}},
	  7
	]}`

	envs, err := wa.ParseInbound([]byte(body))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, "wamid.ok", envs[0].ExternalMessageID)
	require.Equal(t, "Asha", envs[0].DisplayName)

	for _, bad := range []string{`[]`, `null`, `"text"`} {
		_, err := wa.ParseInbound([]byte(bad))
		require.ErrorIs(t, err, ErrMalformedPayload, bad)
	}
}

func TestWhatsApp_SendReply(t *testing.T) {
	sender := &fakeWhatsAppSender{}
	wa := NewWhatsApp(sender, "pn-1", "tok-1")

	require.NoError(t, wa.SendReply(context.Background(), "2547", "hello"))
	require.Equal(t, []string{"pn-1|tok-1|2547|hello"}, sender.calls)

	sender.err = errors.New("graph down")
	err := wa.SendReply(context.Background(), "2547", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "graph down")
}
