// Command local serves the webhook handler over plain HTTP for development,
// backed by the in-memory store unless STATE_TABLE is set.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"

	"student-helpdesk/handler"
	"student-helpdesk/internal/app"
	"student-helpdesk/internal/config"
	"student-helpdesk/internal/id"
	"student-helpdesk/internal/integrations/paramstore"
	"student-helpdesk/internal/logger"
	"student-helpdesk/internal/repository"
	"student-helpdesk/internal/usecase"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Env)

	if err := id.Init(cfg.SnowflakeNode); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var store usecase.ConversationStore = repository.NewMemory()
	if cfg.StateTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load AWS config", "error", err)
			os.Exit(1)
		}
		store, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create conversation store", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "using dynamodb store", "table", cfg.StateTable)
	} else {
		slog.InfoContext(ctx, "using in-memory store")
	}

	a, err := app.New(ctx, cfg, paramstore.NewEnv(cfg.ParamPrefix), store)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build handler", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(a.Handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	slog.InfoContext(shutdownCtx, "shutdown complete")
}

const maxBodyBytes = 1 << 20

func setupRouter(h *handler.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Any("/*path", proxy(h))
	return router
}

// proxy translates a gin request into the API Gateway event the Lambda
// handler expects and writes its response back.
func proxy(h *handler.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		req := events.APIGatewayProxyRequest{
			HTTPMethod:            c.Request.Method,
			Path:                  c.Request.URL.Path,
			Headers:               make(map[string]string, len(c.Request.Header)),
			MultiValueHeaders:     c.Request.Header,
			QueryStringParameters: make(map[string]string),
			Body:                  string(body),
		}
		for k, vs := range c.Request.Header {
			if len(vs) > 0 {
				req.Headers[k] = vs[0]
			}
		}
		for k, vs := range c.Request.URL.Query() {
			if len(vs) > 0 {
				req.QueryStringParameters[k] = vs[0]
			}
		}

		resp, err := h.Handle(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		contentType := resp.Headers["Content-Type"]
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(resp.StatusCode, contentType, []byte(resp.Body))
	}
}
