package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"mealreminder/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
const sendGridAPIBase = "https://api.sendgrid.com"

// sendGridSendScope is the API key scope required to deliver mail.
const sendGridSendScope = "mail.send"

// SendGridClientConfig holds the configuration for a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to sendGridAPIBase
	Logger  *slog.Logger
}

// SendGridClient implements EmailProvider against the SendGrid v3 HTTP API.
// Reminders carry their own rendered bodies, so no dynamic templates are used.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient creates a SendGridClient with the default retry policy.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	base := NewBaseClient(httpClient, "sendgrid", DefaultRetryPolicy(), "MealReminder/1.0")
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient on a caller-built BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Verify checks that the API key is accepted and carries the mail.send scope.
func (s *SendGridClient) Verify(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v3/scopes", nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create SendGrid scopes request", err)
	}
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapSendGridError("Verify", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamAuth, "Verify: SendGrid rejected the API key", nil,
			map[string]any{"responseCode": resp.StatusCode})
	}
	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "Verify")
	}

	var body struct {
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "Verify: unreadable SendGrid scopes response", err)
	}
	if !slices.Contains(body.Scopes, sendGridSendScope) {
		return types.NewAppError(types.ErrCodeUpstreamAuth, "Verify: SendGrid API key lacks the mail.send scope", nil)
	}
	return nil
}

// Send posts the message to /v3/mail/send and returns the X-Message-Id
// header on 202 Accepted.
//
// Error mapping:
//   - 403 Forbidden -> types.ErrCodeEmailBlocked
//   - 429 / 5xx -> retried by BaseClient, then upstream_rate_limited / upstream_unavailable
//   - Other 4xx -> types.ErrCodeUpstreamEmailProvider
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildMailPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create SendGrid mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", s.wrapSendGridError("Send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.handleErrorResponse(resp, "Send")
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildMailPayload maps SendInput to the v3 payload. SendGrid requires
// text/plain to precede text/html.
func buildMailPayload(input types.SendInput) sendGridMailPayload {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: input.To}}}},
		From:             sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject:          input.Subject,
	}
	if input.BodyText != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	if input.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}
	return payload
}

func (s *SendGridClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("%s: SendGrid returned status %d with an unreadable body", operation, resp.StatusCode), readErr)
	}

	msg := string(body)
	var sgErr sendGridErrorResponse
	if json.Unmarshal(body, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg = sgErr.Errors[0].Message
	}
	return mapSendGridError(operation, resp.StatusCode, msg)
}

func mapSendGridError(operation string, statusCode int, message string) error {
	details := map[string]any{"responseCode": statusCode, "response": message}
	switch {
	case statusCode == http.StatusForbidden:
		return types.NewAppErrorWithDetails(types.ErrCodeEmailBlocked,
			fmt.Sprintf("%s: SendGrid blocked delivery: %s", operation, message), nil, details)
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: SendGrid rate limit exceeded", operation), nil, details)
	case statusCode >= 500:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: SendGrid server error: %s", operation, message), nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("%s: SendGrid error (%d): %s", operation, statusCode, message), nil, details)
	}
}

func (s *SendGridClient) wrapSendGridError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("%s: SendGrid request failed", operation), err)
}

// Compile-time assertion that SendGridClient satisfies EmailProvider.
var _ EmailProvider = (*SendGridClient)(nil)
