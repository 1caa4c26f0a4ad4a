package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendWhatsAppText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v21.0/10293/messages", r.URL.Path)
		require.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "whatsapp", body["messaging_product"])
		require.Equal(t, "2547000", body["to"])
		require.Equal(t, map[string]any{"body": "hello"}, body["text"])
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/"), WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.NoError(t, c.SendWhatsAppText(context.Background(), "10293", "wa-token", "2547000", "hello"))
}

func TestSendMessengerText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v19.0/me/messages", r.URL.Path)
		require.Equal(t, "page token", r.URL.Query().Get("access_token"))

		var body messengerText
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "psid-1", body.Recipient.ID)
		require.Equal(t, "hi there", body.Message.Text)
		_, _ = w.Write([]byte(`{"recipient_id":"psid-1"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithVersion("/v19.0/"))
	require.NoError(t, c.SendMessengerText(context.Background(), "page token", "psid-1", "hi there"))
}

func TestSend_MissingCredentials(t *testing.T) {
	c := NewClient()
	err := c.SendWhatsAppText(context.Background(), "", "token", "1", "x")
	require.ErrorIs(t, err, ErrMissingCredentials)

	err = c.SendWhatsAppText(context.Background(), "123", "", "1", "x")
	require.ErrorIs(t, err, ErrMissingCredentials)

	err = c.SendMessengerText(context.Background(), "", "1", "x")
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestSend_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	err := c.SendMessengerText(context.Background(), "secret-token", "psid", "x")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "Invalid OAuth")
	require.NotContains(t, err.Error(), "secret-token")
}

func TestSend_TransportErrorRedactsToken(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"), WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	err := c.SendMessengerText(context.Background(), "secret-token", "psid", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
	require.NotContains(t, err.Error(), "secret-token")
}
