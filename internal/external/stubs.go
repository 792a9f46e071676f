package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"mealreminder/internal/types"
)

// StubEmailProvider logs sends instead of delivering them. It is selected with
// EMAIL_PROVIDER=stub for local runs and tests.
type StubEmailProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.SendInput
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

// Verify always succeeds.
func (s *StubEmailProvider) Verify(ctx context.Context) error {
	return nil
}

// Send records the message and returns a deterministic message ID.
func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, input)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stub: reminder email",
		"to", types.RedactEmail(input.To),
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

// Sent returns a copy of the messages recorded so far.
func (s *StubEmailProvider) Sent() []types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SendInput, len(s.sent))
	copy(out, s.sent)
	return out
}

// Compile-time assertion that StubEmailProvider satisfies EmailProvider.
var _ EmailProvider = (*StubEmailProvider)(nil)
