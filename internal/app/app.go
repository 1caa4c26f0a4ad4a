// Package app wires config, secrets and clients into the webhook handler.
// Both the Lambda entry point and the local server build through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"student-helpdesk/handler"
	"student-helpdesk/internal/config"
	"student-helpdesk/internal/dedup"
	"student-helpdesk/internal/integrations/meta"
	"student-helpdesk/internal/integrations/openai"
	"student-helpdesk/internal/integrations/paramstore"
	"student-helpdesk/internal/platform"
	"student-helpdesk/internal/signature"
	"student-helpdesk/internal/usecase"
)

type App struct {
	Handler *handler.Handler
	closers []func() error
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// New builds the handler over store. Secrets come from getter under
// cfg.ParamPrefix.
func New(ctx context.Context, cfg config.Config, getter paramstore.Getter, store usecase.ConversationStore) (*App, error) {
	if store == nil {
		return nil, errors.New("app: conversation store must not be nil")
	}
	secrets, err := config.LoadSecrets(ctx, cfg, getter)
	if err != nil {
		return nil, err
	}

	a := &App{}

	var deduper usecase.Deduper
	if cfg.RedisURL != "" {
		d, rdb, err := dedup.NewRedisFromURL(cfg.RedisURL, cfg.DedupTTL)
		if err != nil {
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis unreachable, dedup will fail open until it recovers", "error", err)
		}
		a.closers = append(a.closers, rdb.Close)
		deduper = d
	} else {
		deduper = dedup.NewMemory(cfg.DedupTTL)
	}

	ai, err := openai.NewClient(getter, cfg.ParamPrefix,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.OpenAIModel),
	)
	if err != nil {
		return nil, err
	}

	graph := meta.NewClient(
		meta.WithBaseURL(cfg.GraphBaseURL),
		meta.WithVersion(cfg.GraphVersion),
		meta.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
	)
	wa := platform.NewWhatsApp(graph, secrets.WhatsApp.PhoneNumberID, secrets.WhatsApp.AccessToken)
	fb := platform.NewFacebook(graph, secrets.Facebook.AccessToken)

	svc, err := usecase.NewIngestService(store, ai, platform.NewRegistry(wa, fb), deduper, cfg.MaxContextMessages)
	if err != nil {
		return nil, err
	}

	h, err := handler.NewHandler(svc, signature.Verifier{AllowUnsigned: cfg.AllowUnsigned},
		handler.Platform{Adapter: wa, VerifyToken: secrets.WhatsApp.VerifyToken, AppSecret: secrets.WhatsApp.AppSecret},
		handler.Platform{Adapter: fb, VerifyToken: secrets.Facebook.VerifyToken, AppSecret: secrets.Facebook.AppSecret},
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Handler = h

	for _, p := range []struct {
		name string
		s    config.PlatformSecrets
	}{{"whatsapp", secrets.WhatsApp}, {"facebook", secrets.Facebook}} {
		slog.InfoContext(ctx, "platform configured",
			"platform", p.name,
			"signed", p.s.AppSecret != "",
			"outbound", p.s.AccessToken != "",
			"verify", p.s.VerifyToken != "",
		)
	}
	return a, nil
}
