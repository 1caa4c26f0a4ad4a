package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"student-helpdesk/internal/app"
	"student-helpdesk/internal/config"
	"student-helpdesk/internal/id"
	"student-helpdesk/internal/integrations/paramstore"
	"student-helpdesk/internal/logger"
	"student-helpdesk/internal/repository"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Env)

	if cfg.StateTable == "" {
		slog.Error("required environment variable is not set", "key", "STATE_TABLE")
		os.Exit(1)
	}
	if err := id.Init(cfg.SnowflakeNode); err != nil {
		slog.Error("failed to initialize snowflake id generator", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	a, err := app.New(ctx, cfg, ssmClient, store)
	if err != nil {
		slog.Error("failed to build handler", "err", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	lambda.Start(a.Handler.Handle)
}
