package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient is the subset of the SSM API the bootstrap tool uses.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ssmOperationTimeout is the per-call timeout for SSM API calls.
const ssmOperationTimeout = 15 * time.Second

// SSMManager writes bootstrap parameters under the environment prefix.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

// NewSSMManager creates a manager from the session's AWS config.
func NewSSMManager(sess *Session) *SSMManager {
	return &SSMManager{client: ssm.NewFromConfig(sess.AWSConfig), env: sess.Environment, logger: sess.Logger}
}

// NewSSMManagerWithClient injects the SSM client. Used by tests.
func NewSSMManagerWithClient(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSMManager{client: client, env: env, logger: logger}
}

func ssmPrefix(env string) string {
	return fmt.Sprintf("/%s/mealreminder/", env)
}

// Path returns the absolute parameter path for key, e.g.
// "/dev/mealreminder/auth/cron_secret".
func (m *SSMManager) Path(key string) string {
	return ssmPrefix(m.env) + key
}

// ParameterExists probes for path without decrypting it, so kms:Decrypt is
// not needed for the check.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// PutSecret writes a SecureString. The value is never logged.
func (m *SSMManager) PutSecret(ctx context.Context, path, value string, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var alreadyExists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &alreadyExists) {
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	m.logger.Info("SSM parameter written", "path", path, "value_length", len(value))
	return nil
}
