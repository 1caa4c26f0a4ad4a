package paramstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when a parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (webhook secrets, the OpenAI client) depend on this interface so
// they work against SSM in Lambda and the environment locally.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval. Values are cached for
// the lifetime of the process; missing parameters are not cached.
type Client struct {
	api ssmAPI

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, cache: make(map[string]string)}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	c.mu.RLock()
	v, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("paramstore: get parameter %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}

	c.mu.Lock()
	c.cache[name] = *out.Parameter.Value
	c.mu.Unlock()
	return *out.Parameter.Value, nil
}

// Env resolves parameters from environment variables for local runs. The
// prefix is stripped and the rest upper-cased with separators turned into
// underscores: "/helpdesk/whatsapp/app_secret" reads WHATSAPP_APP_SECRET.
type Env struct {
	Prefix string
	Lookup func(string) (string, bool)
}

// NewEnv returns an Env getter reading the process environment.
func NewEnv(prefix string) *Env {
	return &Env{Prefix: prefix, Lookup: os.LookupEnv}
}

func (e *Env) GetParameter(_ context.Context, name string) (string, error) {
	key := EnvKey(e.Prefix, name)
	if key == "" {
		return "", errors.New("paramstore: name is required")
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: env %s: %w", key, ErrNotFound)
	}
	return v, nil
}

// EnvKey derives the environment variable name for a parameter.
func EnvKey(prefix, name string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	name = strings.TrimSpace(name)
	if prefix != "" {
		name = strings.TrimPrefix(name, prefix)
	}
	name = strings.Trim(name, "/")
	return strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name))
}
