package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"student-helpdesk/internal/config"
	"student-helpdesk/internal/domain"
	"student-helpdesk/internal/integrations/paramstore"
	"student-helpdesk/internal/repository"
	"student-helpdesk/internal/signature"
)

func TestNew_EndToEndWhatsApp(t *testing.T) {
	var (
		mu       sync.Mutex
		outbound []map[string]any
	)
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v21.0/pn-77/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		outbound = append(outbound, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer graph.Close()

	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Applications close on 1 July."}}]}`))
	}))
	defer ai.Close()

	env := map[string]string{
		"WHATSAPP_APP_SECRET":      "wa-secret",
		"WHATSAPP_ACCESS_TOKEN":    "wa-token",
		"WHATSAPP_PHONE_NUMBER_ID": "pn-77",
		"VERIFY_TOKEN":             "shared",
		"OPEN_AI_TOKEN":            "sk-test",
	}
	getter := &paramstore.Env{Prefix: "/helpdesk", Lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
	cfg := config.Config{
		ParamPrefix:        "/helpdesk",
		MaxContextMessages: 10,
		OpenAIBaseURL:      ai.URL,
		OpenAIModel:        "gpt-mock",
		GraphBaseURL:       graph.URL,
		GraphVersion:       "v21.0",
	}
	store := repository.NewMemory()

	a, err := New(context.Background(), cfg, getter, store)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	body := `{"entry":[{"changes":[{"value":{"contacts":[{"wa_id":"2547","profile":{"name":"Asha"}}],"messages":[{"from":"2547","id":"wamid.1","timestamp":"1717000000","type":"text","text":{"body":"How do I apply?"}}]}}]}]}`
	req := events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook/whatsapp",
		Headers:    map[string]string{"X-Hub-Signature-256": signature.Sign([]byte(body), "wa-secret")},
		Body:       body,
	}

	resp, err := a.Handler.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// redelivery is dropped by the in-memory deduper
	resp, err = a.Handler.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	require.Len(t, outbound, 1)
	require.Equal(t, "2547", outbound[0]["to"])
	require.Equal(t, map[string]any{"body": "Applications close on 1 July."}, outbound[0]["text"])
	mu.Unlock()

	students := store.Students()
	require.Len(t, students, 1)
	require.Equal(t, domain.PlatformWhatsApp, students[0].Platform)
	convs := store.Conversations(students[0].ID)
	require.Len(t, convs, 1)
	msgs, err := store.RecentMessages(context.Background(), convs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.TopicAdmission, msgs[0].Topic)

	verify, err := a.Handler.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/webhook/facebook",
		QueryStringParameters: map[string]string{
			"hub.mode": "subscribe", "hub.verify_token": "shared", "hub.challenge": "ch",
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, verify.StatusCode)
	require.Equal(t, "ch", verify.Body)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), config.Config{ParamPrefix: "/helpdesk"}, paramstore.NewEnv("/helpdesk"), nil)
	require.Error(t, err)

	_, err = New(context.Background(), config.Config{ParamPrefix: "/helpdesk"}, nil, repository.NewMemory())
	require.Error(t, err)
}
