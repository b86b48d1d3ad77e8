package domain

import (
	"context"
	"time"
)

// Tutor defines how the core application asks the language model for a reply.
type Tutor interface {
	Ask(ctx context.Context, req AskRequest) (string, error)
}

// AskRequest is everything the tutor needs for a single exchange.
// At least one of Text or Image is set.
type AskRequest struct {
	Text    string
	Subject Subject
	Image   EncodedImage
}

// TurnOutcome classifies how a turn ended.
type TurnOutcome string

const (
	OutcomeOK            TurnOutcome = "ok"
	OutcomeEmpty         TurnOutcome = "empty"
	OutcomeProviderError TurnOutcome = "provider_error"
	OutcomeTimeout       TurnOutcome = "timeout"
)

// TurnRecord is the operator-facing diagnostics entry for one turn.
// It is never shown to learners and never used to rebuild a conversation.
type TurnRecord struct {
	ID          TurnID
	SessionID   SessionID
	Subject     Subject
	HasImage    bool
	TextChars   int
	Outcome     TurnOutcome
	Latency     time.Duration
	ErrorDetail string
	CreatedAt   Timestamp
}

// TurnLog defines turn diagnostics persistence
type TurnLog interface {
	RecordTurn(ctx context.Context, rec *TurnRecord) error
	// ListTurns returns the most recent turns of a session, oldest first.
	// limit <= 0 returns all.
	ListTurns(ctx context.Context, sessionID SessionID, limit int) ([]*TurnRecord, error)
}
