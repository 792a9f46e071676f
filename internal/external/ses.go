package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"mealreminder/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// SESClientConfig holds the configuration for an SESClient.
type SESClientConfig struct {
	// ConfigSetName is the optional SES configuration set for event tracking.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient implements EmailProvider using AWS SES v2. Credentials come from
// the IAM role and the SDK retries throttled calls itself, so it does not go
// through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient on a pre-built SESAPI.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{
		api:           api,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

// Verify checks that the account is reachable and allowed to send.
func (s *SESClient) Verify(ctx context.Context) error {
	out, err := s.api.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return mapSESError("GetAccount", err)
	}
	if !out.SendingEnabled {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES sending is disabled for this account", nil)
	}
	if !out.ProductionAccessEnabled {
		s.logger.WarnContext(ctx, "SES account is in the sandbox; only verified recipients will receive reminders")
	}
	return nil
}

// Send transmits the message with SendEmail simple content.
//
// Error mapping:
//   - MessageRejected -> ErrCodeEmailBlocked
//   - TooManyRequestsException -> ErrCodeUpstreamRateLimited
//   - SendingPausedException -> ErrCodeUpstreamUnavailable
//   - Other -> ErrCodeUpstreamEmailProvider
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(input.From.Header()),
		Destination: &sestypes.Destination{
			ToAddresses: []string{input.To},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(input.Subject),
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		emailInput.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		// Tag values allow only [A-Za-z0-9_-].
		emailInput.EmailTags = []sestypes.MessageTag{{
			Name:  aws.String("ReminderKey"),
			Value: aws.String(sanitizeTag(input.ReferenceID)),
		}}
	}

	result, err := s.api.SendEmail(ctx, emailInput)
	if err != nil {
		return "", mapSESError("SendEmail", err)
	}
	return aws.ToString(result.MessageId), nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

func sanitizeTag(v string) string {
	out := []byte(v)
	for i, c := range out {
		ok := c == '_' || c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			out[i] = '_'
		}
	}
	return string(out)
}

// mapSESError translates SES errors into AppErrors carrying the AWS error code
// and HTTP status for the failure summary.
func mapSESError(operation string, err error) error {
	details := map[string]any{}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		details["code"] = apiErr.ErrorCode()
		details["response"] = apiErr.ErrorMessage()
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		details["responseCode"] = respErr.HTTPStatusCode()
	}
	details["command"] = operation

	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewAppErrorWithDetails(types.ErrCodeEmailBlocked, fmt.Sprintf("SES rejected message: %v", err), err, details)
	}
	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("SES rate limit exceeded: %v", err), err, details)
	}
	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("SES account sending paused: %v", err), err, details)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err, details)
}

// Compile-time assertion that SESClient satisfies EmailProvider.
var _ EmailProvider = (*SESClient)(nil)
