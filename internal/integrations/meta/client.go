// Package meta sends outbound text messages through the Meta Graph API for
// WhatsApp Cloud API numbers and Messenger pages.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v21.0"
)

var ErrMissingCredentials = errors.New("meta: missing credentials")

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("meta: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithVersion(version string) Option {
	return func(c *Client) {
		if version = strings.Trim(strings.TrimSpace(version), "/"); version != "" {
			c.version = version
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		version:    DefaultVersion,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type whatsAppText struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendWhatsAppText posts a text message from phoneNumberID to the WhatsApp
// user identified by to.
func (c *Client) SendWhatsAppText(ctx context.Context, phoneNumberID, accessToken, to, text string) error {
	if phoneNumberID == "" || accessToken == "" {
		return fmt.Errorf("%w: whatsapp phone number id and access token are required", ErrMissingCredentials)
	}

	payload := whatsAppText{MessagingProduct: "whatsapp", To: to, Type: "text"}
	payload.Text.Body = text

	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, url.PathEscape(phoneNumberID))
	req, err := c.newJSONRequest(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, endpoint)
}

type messengerText struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessengerText posts a text message from the page owning
// pageAccessToken to the Messenger user recipientID.
func (c *Client) SendMessengerText(ctx context.Context, pageAccessToken, recipientID, text string) error {
	if pageAccessToken == "" {
		return fmt.Errorf("%w: facebook page access token is required", ErrMissingCredentials)
	}

	var payload messengerText
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	endpoint := fmt.Sprintf("%s/%s/me/messages", c.baseURL, c.version)
	req, err := c.newJSONRequest(ctx, endpoint+"?access_token="+url.QueryEscape(pageAccessToken), payload)
	if err != nil {
		return err
	}
	// The token stays out of error messages.
	return c.do(req, endpoint)
}

func (c *Client) newJSONRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("meta: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("meta: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string) error {
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("meta: request failed: %w", redact(err))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	return nil
}

// redact drops the request URL from transport errors, which may carry an
// access token in the query string.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
