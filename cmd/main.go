package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"nlu-adapter/handler"
	"nlu-adapter/internal/auth"
	"nlu-adapter/internal/integrations/dialogflow"
	"nlu-adapter/internal/integrations/paramstore"
	"nlu-adapter/internal/ledger"
	"nlu-adapter/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	credentialParam := mustEnv("CREDENTIAL_PARAM")
	fallbackThreshold := envInt("FALLBACK_THRESHOLD", 0)
	tokenURL := os.Getenv("TOKEN_URL")
	backendBaseURL := os.Getenv("NLU_BASE_URL")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	bundleSource, err := paramstore.NewBundleSource(ssmClient, credentialParam)
	if err != nil {
		slog.Error("failed to create credential source", "err", err)
		os.Exit(1)
	}

	var minterOpts []auth.Option
	if tokenURL != "" {
		minterOpts = append(minterOpts, auth.WithTokenURL(tokenURL))
	}
	minter := auth.NewMinter(minterOpts...)

	var backendOpts []dialogflow.Option
	if backendBaseURL != "" {
		backendOpts = append(backendOpts, dialogflow.WithBaseURL(backendBaseURL))
	}
	backend := dialogflow.NewClient(backendOpts...)

	policy := ledger.DefaultPolicy()
	if fallbackThreshold > 0 {
		policy.Threshold = fallbackThreshold
	}

	// ---- Handler ----
	turnService, err := usecase.NewTurnService(bundleSource, minter, backend, policy)
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(turnService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
