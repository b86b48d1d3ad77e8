package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/clevercompass/internal/domain"
)

const turnsCollection = "turns"

type TurnLog struct {
	client *firestore.Client
}

// NewTurnLog creates a Firestore turn log.
// Uses the project passed (TUTOR_GCP_PROJECT).
func NewTurnLog(ctx context.Context, projectID string) (*TurnLog, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore turn log")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &TurnLog{client: client}, nil
}

func (l *TurnLog) Close() error {
	return l.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (l *TurnLog) turnsCol() *firestore.CollectionRef {
	return l.client.Collection(turnsCollection)
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type turnDoc struct {
	SessionID   string    `firestore:"session_id"`
	Subject     string    `firestore:"subject"`
	HasImage    bool      `firestore:"has_image"`
	TextChars   int       `firestore:"text_chars"`
	Outcome     string    `firestore:"outcome"`
	LatencyMS   int64     `firestore:"latency_ms"`
	ErrorDetail string    `firestore:"error_detail"`
	CreatedAt   time.Time `firestore:"created_at"`
}

func toDoc(rec *domain.TurnRecord) turnDoc {
	return turnDoc{
		SessionID:   string(rec.SessionID),
		Subject:     string(rec.Subject),
		HasImage:    rec.HasImage,
		TextChars:   rec.TextChars,
		Outcome:     string(rec.Outcome),
		LatencyMS:   rec.Latency.Milliseconds(),
		ErrorDetail: rec.ErrorDetail,
		CreatedAt:   rec.CreatedAt,
	}
}

func fromDoc(id string, doc turnDoc) *domain.TurnRecord {
	return &domain.TurnRecord{
		ID:          domain.TurnID(id),
		SessionID:   domain.SessionID(doc.SessionID),
		Subject:     domain.Subject(doc.Subject),
		HasImage:    doc.HasImage,
		TextChars:   doc.TextChars,
		Outcome:     domain.TurnOutcome(doc.Outcome),
		Latency:     time.Duration(doc.LatencyMS) * time.Millisecond,
		ErrorDetail: doc.ErrorDetail,
		CreatedAt:   doc.CreatedAt,
	}
}

// ─────────────────────────────────────────
// TurnLog implementation
// ─────────────────────────────────────────

func (l *TurnLog) RecordTurn(ctx context.Context, rec *domain.TurnRecord) error {
	if rec == nil {
		return errors.New("turn record is nil")
	}

	_, err := l.turnsCol().Doc(string(rec.ID)).Create(ctx, toDoc(rec))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("turn %s already recorded", rec.ID)
		}
		return fmt.Errorf("firestore RecordTurn: %w", err)
	}
	return nil
}

func (l *TurnLog) ListTurns(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.TurnRecord, error) {
	q := l.turnsCol().
		Where("session_id", "==", string(sessionID)).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.TurnRecord{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListTurns: %w", err)
		}

		var doc turnDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode turnDoc: %w", err)
		}
		out = append(out, fromDoc(snap.Ref.ID, doc))
	}

	// newest first from the query, callers want oldest first
	slices.Reverse(out)
	return out, nil
}
