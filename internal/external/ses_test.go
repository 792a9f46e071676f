package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"mealreminder/internal/types"
)

// mockSESAPI implements SESAPI for testing.
type mockSESAPI struct {
	sendEmailFunc  func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
	getAccountFunc func(ctx context.Context) (*sesv2.GetAccountOutput, error)
}

func (m *mockSESAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return m.sendEmailFunc(ctx, params)
}

func (m *mockSESAPI) GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	return m.getAccountFunc(ctx)
}

func TestSESSend_Success(t *testing.T) {
	var captured *sesv2.SendEmailInput
	mock := &mockSESAPI{
		sendEmailFunc: func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-abc123")}, nil
		},
	}
	client := NewSESClientWithAPI(mock, SESClientConfig{ConfigSetName: "reminder-tracking"})

	msgID, err := client.Send(context.Background(), sampleSendInput())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "ses-msg-abc123" {
		t.Errorf("message id = %q", msgID)
	}

	if got := aws.ToString(captured.FromEmailAddress); got != `"Recipe Finder" <planner@example.com>` {
		t.Errorf("FromEmailAddress = %q", got)
	}
	if len(captured.Destination.ToAddresses) != 1 || captured.Destination.ToAddresses[0] != "cook@example.com" {
		t.Errorf("ToAddresses = %v", captured.Destination.ToAddresses)
	}
	if aws.ToString(captured.ConfigurationSetName) != "reminder-tracking" {
		t.Errorf("ConfigurationSetName = %q", aws.ToString(captured.ConfigurationSetName))
	}
	simple := captured.Content.Simple
	if aws.ToString(simple.Subject.Data) != "Time to cook: Crème brûlée" {
		t.Errorf("Subject = %q", aws.ToString(simple.Subject.Data))
	}
	if simple.Body.Text == nil || simple.Body.Html == nil {
		t.Fatalf("expected both text and html bodies")
	}
	if len(captured.EmailTags) != 1 || aws.ToString(captured.EmailTags[0].Value) != "u1_2026-10-14_dinner" {
		t.Errorf("EmailTags = %+v", captured.EmailTags)
	}
}

func TestSESSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"rejected", &sestypes.MessageRejected{Message: aws.String("Email address is not verified")}, types.ErrCodeEmailBlocked},
		{"throttled", &sestypes.TooManyRequestsException{Message: aws.String("slow down")}, types.ErrCodeUpstreamRateLimited},
		{"paused", &sestypes.SendingPausedException{Message: aws.String("paused")}, types.ErrCodeUpstreamUnavailable},
		{"other", errors.New("boom"), types.ErrCodeUpstreamEmailProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSESAPI{
				sendEmailFunc: func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
					return nil, tt.err
				},
			}
			_, err := NewSESClientWithAPI(mock, SESClientConfig{}).Send(context.Background(), sampleSendInput())

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %T", err)
			}
			if appErr.Code != tt.want {
				t.Errorf("code = %s, want %s", appErr.Code, tt.want)
			}
			if appErr.Details["command"] != "SendEmail" {
				t.Errorf("command detail = %v", appErr.Details["command"])
			}
		})
	}
}

func TestSESSend_RejectedCarriesAWSCode(t *testing.T) {
	mock := &mockSESAPI{
		sendEmailFunc: func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			return nil, &sestypes.MessageRejected{Message: aws.String("Email address is not verified")}
		},
	}
	_, err := NewSESClientWithAPI(mock, SESClientConfig{}).Send(context.Background(), sampleSendInput())

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError")
	}
	if appErr.Details["code"] != "MessageRejected" {
		t.Errorf("code detail = %v", appErr.Details["code"])
	}
	if appErr.Details["response"] != "Email address is not verified" {
		t.Errorf("response detail = %v", appErr.Details["response"])
	}
}

func TestSESVerify(t *testing.T) {
	t.Run("sending enabled", func(t *testing.T) {
		mock := &mockSESAPI{getAccountFunc: func(ctx context.Context) (*sesv2.GetAccountOutput, error) {
			return &sesv2.GetAccountOutput{SendingEnabled: true, ProductionAccessEnabled: true}, nil
		}}
		if err := NewSESClientWithAPI(mock, SESClientConfig{}).Verify(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("sandbox still verifies", func(t *testing.T) {
		mock := &mockSESAPI{getAccountFunc: func(ctx context.Context) (*sesv2.GetAccountOutput, error) {
			return &sesv2.GetAccountOutput{SendingEnabled: true}, nil
		}}
		if err := NewSESClientWithAPI(mock, SESClientConfig{}).Verify(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("sending disabled", func(t *testing.T) {
		mock := &mockSESAPI{getAccountFunc: func(ctx context.Context) (*sesv2.GetAccountOutput, error) {
			return &sesv2.GetAccountOutput{SendingEnabled: false}, nil
		}}
		err := NewSESClientWithAPI(mock, SESClientConfig{}).Verify(context.Background())
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamUnavailable {
			t.Fatalf("expected upstream_unavailable, got %v", err)
		}
	})

	t.Run("api error", func(t *testing.T) {
		mock := &mockSESAPI{getAccountFunc: func(ctx context.Context) (*sesv2.GetAccountOutput, error) {
			return nil, errors.New("no credentials")
		}}
		err := NewSESClientWithAPI(mock, SESClientConfig{}).Verify(context.Background())
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Details["command"] != "GetAccount" {
			t.Fatalf("expected GetAccount failure, got %v", err)
		}
	})
}

func TestSanitizeTag(t *testing.T) {
	if got := sanitizeTag("u1@example.com/dinner"); got != "u1_example_com_dinner" {
		t.Errorf("sanitizeTag = %q", got)
	}
}
