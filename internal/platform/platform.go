// Package platform turns raw webhook bodies into inbound envelopes and sends
// replies back over the originating platform.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"student-helpdesk/internal/domain"
)

var (
	ErrMalformedPayload = errors.New("platform: malformed payload")
	ErrUnknownPlatform  = errors.New("platform: unknown platform")
)

type Adapter interface {
	Platform() domain.Platform
	// ParseInbound returns the text messages in raw, in payload order. Events
	// that are missing required fields or fail to decode are skipped; only a
	// body that is not a JSON object returns ErrMalformedPayload.
	ParseInbound(raw []byte) ([]domain.Envelope, error)
	SendReply(ctx context.Context, externalID, text string) error
}

// Registry routes by platform and implements the pipeline's Dispatcher.
type Registry struct {
	adapters map[domain.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Adapter(p domain.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	return a, nil
}

func (r *Registry) Send(ctx context.Context, p domain.Platform, externalID, text string) error {
	a, err := r.Adapter(p)
	if err != nil {
		return err
	}
	return a.SendReply(ctx, externalID, text)
}

// decodeRoot decodes the top-level object of a webhook body.
func decodeRoot(raw []byte, name string) (map[string]json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s: body is null", ErrMalformedPayload, name)
	}
	return root, nil
}

// items splits a JSON array into its elements. Anything that is not an
// array yields nil.
func items(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
