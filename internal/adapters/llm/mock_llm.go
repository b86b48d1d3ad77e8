package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/clevercompass/internal/domain"
)

// MockTutor answers without calling any provider. Used in local mode.
type MockTutor struct{}

func NewMockTutor() *MockTutor {
	return &MockTutor{}
}

func (m *MockTutor) Ask(ctx context.Context, req domain.AskRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.ProviderError{Op: "mock tutor", Cause: err}
	}

	text := strings.TrimSpace(req.Text)
	switch {
	case text == "" && req.Image.IsZero():
		return "", domain.ErrEmptyMessage
	case text == "":
		return fmt.Sprintf("(%s tutor) I got your image. Tell me which part of the problem you are stuck on.", req.Subject), nil
	default:
		return fmt.Sprintf("(%s tutor) You asked %q. Let's work through it step by step.", req.Subject, text), nil
	}
}
