package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"mealreminder/internal/config"
	"mealreminder/internal/types"
)

// ProviderDeps carries the shared dependencies a provider may need.
type ProviderDeps struct {
	HTTPClient *http.Client
	// AWSConfig loads the AWS configuration lazily; only SES calls it.
	AWSConfig func(ctx context.Context) (aws.Config, error)
	Logger    *slog.Logger
}

// NewEmailProvider builds the provider selected by EMAIL_PROVIDER. Missing
// credentials fail with ErrCodeConfigMissingCredentials before any network
// traffic happens.
func NewEmailProvider(ctx context.Context, cfg config.EmailConfig, deps ProviderDeps) (EmailProvider, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case config.ProviderSMTP, "":
		if cfg.User == "" || !cfg.Password.IsSet() {
			return nil, types.NewAppError(types.ErrCodeConfigMissingCredentials,
				"EMAIL_USER and EMAIL_PASS are required for the smtp provider", nil)
		}
		return NewSMTPClient(SMTPClientConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.User,
			Password:   cfg.Password.Unmask(),
			RequireTLS: true,
			Logger:     logger,
		}), nil

	case config.ProviderSendGrid:
		if cfg.User == "" || !cfg.SendGridAPIKey.IsSet() {
			return nil, types.NewAppError(types.ErrCodeConfigMissingCredentials,
				"EMAIL_USER and SENDGRID_API_KEY are required for the sendgrid provider", nil)
		}
		httpClient := deps.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 15 * time.Second}
		}
		return NewSendGridClient(httpClient, SendGridClientConfig{
			APIKey: cfg.SendGridAPIKey.Unmask(),
			Logger: logger,
		}), nil

	case config.ProviderSES:
		if cfg.User == "" {
			return nil, types.NewAppError(types.ErrCodeConfigMissingCredentials,
				"EMAIL_USER is required for the ses provider", nil)
		}
		if deps.AWSConfig == nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "ses provider requires an AWS config loader", nil)
		}
		awsCfg, err := deps.AWSConfig(ctx)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamEmailProvider, "failed to load AWS config for SES", err)
		}
		return NewSESClient(awsCfg, SESClientConfig{
			ConfigSetName: cfg.SESConfiguration,
			Logger:        logger,
		}), nil

	case config.ProviderStub:
		return NewStubEmailProvider(logger), nil

	default:
		return nil, types.NewAppError(types.ErrCodeConfigUnknownProvider,
			fmt.Sprintf("unknown email provider %q", cfg.Provider), nil)
	}
}
