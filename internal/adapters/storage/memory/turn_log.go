package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/PabloGalante/clevercompass/internal/domain"
)

type TurnLog struct {
	mu    sync.RWMutex
	turns map[domain.SessionID][]*domain.TurnRecord
}

func NewTurnLog() *TurnLog {
	return &TurnLog{
		turns: make(map[domain.SessionID][]*domain.TurnRecord),
	}
}

func (l *TurnLog) RecordTurn(_ context.Context, rec *domain.TurnRecord) error {
	if rec == nil {
		return errors.New("turn record is nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *rec
	l.turns[rec.SessionID] = append(l.turns[rec.SessionID], &cp)
	return nil
}

func (l *TurnLog) ListTurns(_ context.Context, sessionID domain.SessionID, limit int) ([]*domain.TurnRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.turns[sessionID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}

	out := make([]*domain.TurnRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}
