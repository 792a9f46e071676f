package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealreminder/internal/config"
	"mealreminder/internal/types"
)

func TestNewEmailProvider(t *testing.T) {
	awsLoader := func(context.Context) (aws.Config, error) { return aws.Config{Region: "us-east-1"}, nil }

	tests := []struct {
		name     string
		cfg      config.EmailConfig
		wantType any
		wantCode types.ErrorCode
	}{
		{
			name:     "smtp",
			cfg:      config.EmailConfig{Provider: config.ProviderSMTP, User: "me@gmail.com", Password: types.SecretString("pw")},
			wantType: &SMTPClient{},
		},
		{
			name:     "smtp missing password",
			cfg:      config.EmailConfig{Provider: config.ProviderSMTP, User: "me@gmail.com"},
			wantCode: types.ErrCodeConfigMissingCredentials,
		},
		{
			name:     "smtp missing user",
			cfg:      config.EmailConfig{Provider: config.ProviderSMTP, Password: types.SecretString("pw")},
			wantCode: types.ErrCodeConfigMissingCredentials,
		},
		{
			name:     "sendgrid",
			cfg:      config.EmailConfig{Provider: config.ProviderSendGrid, User: "me@example.com", SendGridAPIKey: types.SecretString("SG.x")},
			wantType: &SendGridClient{},
		},
		{
			name:     "sendgrid missing key",
			cfg:      config.EmailConfig{Provider: config.ProviderSendGrid, User: "me@example.com"},
			wantCode: types.ErrCodeConfigMissingCredentials,
		},
		{
			name:     "ses",
			cfg:      config.EmailConfig{Provider: config.ProviderSES, User: "me@example.com"},
			wantType: &SESClient{},
		},
		{
			name:     "stub",
			cfg:      config.EmailConfig{Provider: config.ProviderStub},
			wantType: &StubEmailProvider{},
		},
		{
			name:     "unknown",
			cfg:      config.EmailConfig{Provider: "carrier-pigeon"},
			wantCode: types.ErrCodeConfigUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewEmailProvider(context.Background(), tt.cfg, ProviderDeps{AWSConfig: awsLoader})
			if tt.wantCode != "" {
				var appErr *types.AppError
				require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
				assert.Equal(t, tt.wantCode, appErr.Code)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, p)
		})
	}
}

func TestNewEmailProvider_SESConfigLoadFailure(t *testing.T) {
	loader := func(context.Context) (aws.Config, error) { return aws.Config{}, errors.New("no region") }
	cfg := config.EmailConfig{Provider: config.ProviderSES, User: "me@example.com"}

	_, err := NewEmailProvider(context.Background(), cfg, ProviderDeps{AWSConfig: loader})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamEmailProvider, appErr.Code)
}

func TestStubEmailProvider_RecordsSends(t *testing.T) {
	stub := NewStubEmailProvider(nil)
	require.NoError(t, stub.Verify(context.Background()))

	id, err := stub.Send(context.Background(), sampleSendInput())
	require.NoError(t, err)
	assert.Equal(t, "msg_stub_u1_2026-10-14_dinner", id)
	require.Len(t, stub.Sent(), 1)
	assert.Equal(t, "cook@example.com", stub.Sent()[0].To)
}
