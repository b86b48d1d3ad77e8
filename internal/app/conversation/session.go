package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

const (
	// FallbackReply replaces an empty answer from the tutor.
	FallbackReply = "I'm sorry, I couldn't process that. Could you try rephrasing your question?"

	// ApologyReply is appended when the tutor fails or times out.
	ApologyReply = "I'm having trouble connecting right now. Please try again in a moment."

	// DefaultRequestTimeout bounds one tutor call.
	DefaultRequestTimeout = 30 * time.Second

	turnLogTimeout = 5 * time.Second
)

// ImageEncoder turns an uploaded file into an encoded image.
type ImageEncoder interface {
	Encode(ctx context.Context, r io.Reader, declaredMIME string) (domain.EncodedImage, error)
}

// Session is the conversation of one subject context (one browser tab, one
// terminal). It is Idle or AwaitingReply; at most one tutor request is in
// flight at any time.
//
// Every state change is published to subscribers as a domain.Snapshot, in
// commit order. Subscribers run without any session lock held, so they may
// call Session methods, but they must not block: one delivery loop serves
// every commit of the session.
type Session struct {
	id      domain.SessionID
	tutor   domain.Tutor
	encoder ImageEncoder
	turns   domain.TurnLog
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	subject  domain.Subject
	messages []domain.Message
	awaiting bool
	pending  domain.EncodedImage
	subs     map[int]func(domain.Snapshot)
	nextSub  int

	// queued notifications; one goroutine at a time drains them
	notifyMu   sync.Mutex
	notifyQ    []notification
	delivering bool

	inflight sync.WaitGroup
}

type notification struct {
	snap domain.Snapshot
	subs []func(domain.Snapshot)
}

type SessionOption func(*Session)

func WithSessionID(id domain.SessionID) SessionOption {
	return func(s *Session) { s.id = id }
}

func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithTurnLog(l domain.TurnLog) SessionOption {
	return func(s *Session) { s.turns = l }
}

func WithImageEncoder(e ImageEncoder) SessionOption {
	return func(s *Session) {
		if e != nil {
			s.encoder = e
		}
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates an Idle session seeded with the greeting for subject.
func NewSession(tutor domain.Tutor, subject domain.Subject, opts ...SessionOption) (*Session, error) {
	if tutor == nil {
		return nil, errors.New("conversation: tutor is required")
	}
	if !knownSubject(subject) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSubject, subject)
	}

	s := &Session{
		id:      domain.SessionID(uuid.NewString()),
		tutor:   tutor,
		encoder: attachment.NewEncoder(attachment.Options{}),
		timeout: DefaultRequestTimeout,
		now:     time.Now,
		subject: subject,
		subs:    make(map[int]func(domain.Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.messages = []domain.Message{s.newMessage(domain.RoleAssistant, Greeting(subject), "")}
	return s, nil
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every future state change. The returned func
// removes the subscription.
func (s *Session) Subscribe(fn func(domain.Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SelectSubject discards the history and starts over with the greeting of
// subject. It is refused while a reply is pending.
func (s *Session) SelectSubject(subject domain.Subject) error {
	if !knownSubject(subject) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownSubject, subject)
	}

	s.mu.Lock()
	if s.awaiting {
		s.mu.Unlock()
		return domain.ErrAwaitingReply
	}

	s.subject = subject
	s.messages = []domain.Message{s.newMessage(domain.RoleAssistant, Greeting(subject), "")}
	s.commit()
	return nil
}

// Attach encodes an uploaded file and makes it the pending attachment.
// On failure the previous attachment is left untouched.
func (s *Session) Attach(ctx context.Context, r io.Reader, declaredMIME string) (domain.EncodedImage, error) {
	img, err := s.encoder.Encode(ctx, r, declaredMIME)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("attachment rejected",
			"session_id", s.id,
			"mime", declaredMIME,
			"error", err,
		)
		return "", err
	}

	s.setPending(img)
	return img, nil
}

// SetAttachment sets an already encoded image as the pending attachment.
func (s *Session) SetAttachment(img domain.EncodedImage) error {
	if _, _, err := attachment.Payload(img); err != nil {
		return err
	}
	s.setPending(img)
	return nil
}

// RemoveAttachment clears the pending attachment, if any.
func (s *Session) RemoveAttachment() {
	s.setPending("")
}

func (s *Session) setPending(img domain.EncodedImage) {
	s.mu.Lock()
	s.pending = img
	s.commit()
}

// Send appends the user message (text plus the pending attachment) and asks
// the tutor in the background. The assistant message is delivered on the
// returned channel, which is then closed.
//
// Blank text without an attachment fails with domain.ErrEmptyMessage and a
// call while a reply is pending fails with domain.ErrAwaitingReply; neither
// changes the session.
//
// The tutor call is not cancelled with ctx: it is bounded by the session
// timeout so the session always returns to Idle.
func (s *Session) Send(ctx context.Context, text string) (<-chan domain.Message, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if s.awaiting {
		s.mu.Unlock()
		return nil, domain.ErrAwaitingReply
	}
	if text == "" && s.pending.IsZero() {
		s.mu.Unlock()
		return nil, domain.ErrEmptyMessage
	}

	req := domain.AskRequest{
		Text:    text,
		Subject: s.subject,
		Image:   s.pending,
	}
	s.messages = append(s.messages, s.newMessage(domain.RoleUser, text, s.pending))
	s.pending = ""
	s.awaiting = true
	s.inflight.Add(1)
	s.commit()

	out := make(chan domain.Message, 1)
	go s.await(ctx, req, out)
	return out, nil
}

// Wait blocks until no tutor request is in flight.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) await(parent context.Context, req domain.AskRequest, out chan<- domain.Message) {
	defer s.inflight.Done()
	defer close(out)

	base := context.WithoutCancel(parent)
	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	log := observability.LoggerFromContext(ctx).With(
		"session_id", s.id,
		"subject", req.Subject,
	)

	start := time.Now()
	text, err := s.tutor.Ask(ctx, req)
	latency := time.Since(start)

	rec := &domain.TurnRecord{
		ID:        domain.TurnID(uuid.NewString()),
		SessionID: s.id,
		Subject:   req.Subject,
		HasImage:  !req.Image.IsZero(),
		TextChars: len([]rune(req.Text)),
		Latency:   latency,
		CreatedAt: s.now(),
	}

	reply := text
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		rec.Outcome = domain.OutcomeTimeout
		rec.ErrorDetail = errorDetail(err)
		reply = ApologyReply
		log.Error("tutor request timed out", "timeout", s.timeout, "error", err)
	case err != nil:
		rec.Outcome = domain.OutcomeProviderError
		rec.ErrorDetail = errorDetail(err)
		reply = ApologyReply
		log.Error("tutor request failed", "error", err)
	case strings.TrimSpace(text) == "":
		rec.Outcome = domain.OutcomeEmpty
		reply = FallbackReply
		log.Warn("tutor returned an empty reply")
	default:
		rec.Outcome = domain.OutcomeOK
		log.Info("tutor replied", "elapsed_ms", latency.Milliseconds())
	}

	s.mu.Lock()
	msg := s.newMessage(domain.RoleAssistant, reply, "")
	s.messages = append(s.messages, msg)
	s.awaiting = false
	s.commit()

	out <- msg

	if s.turns != nil {
		rctx, rcancel := context.WithTimeout(base, turnLogTimeout)
		defer rcancel()
		if err := s.turns.RecordTurn(rctx, rec); err != nil {
			log.Warn("failed to record turn", "error", err)
		}
	}
}

func errorDetail(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.Detail()
	}
	return err.Error()
}

// newMessage stamps the current subject; callers hold s.mu (or own s).
func (s *Session) newMessage(role domain.Role, text string, img domain.EncodedImage) domain.Message {
	return domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		Role:      role,
		Text:      text,
		Subject:   s.subject,
		Image:     img,
		CreatedAt: s.now(),
	}
}

func (s *Session) snapshotLocked() domain.Snapshot {
	msgs := make([]domain.Message, len(s.messages))
	copy(msgs, s.messages)
	return domain.Snapshot{
		SessionID:     s.id,
		Subject:       s.subject,
		Messages:      msgs,
		AwaitingReply: s.awaiting,
		Attachment:    s.pending,
	}
}

// commit publishes the state and releases s.mu. It must be called with s.mu
// held. The notification is queued under s.mu, so queue order is commit
// order. If another goroutine is already delivering, it picks the
// notification up and commit returns at once.
func (s *Session) commit() {
	n := notification{snap: s.snapshotLocked()}
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		n.subs = append(n.subs, s.subs[id])
	}

	s.notifyMu.Lock()
	s.notifyQ = append(s.notifyQ, n)
	deliver := !s.delivering
	s.delivering = true
	s.notifyMu.Unlock()
	s.mu.Unlock()

	if deliver {
		s.deliver()
	}
}

// deliver runs queued notifications with no lock held until the queue is empty.
func (s *Session) deliver() {
	for {
		s.notifyMu.Lock()
		if len(s.notifyQ) == 0 {
			s.delivering = false
			s.notifyMu.Unlock()
			return
		}
		n := s.notifyQ[0]
		s.notifyQ[0] = notification{}
		s.notifyQ = s.notifyQ[1:]
		s.notifyMu.Unlock()

		for _, fn := range n.subs {
			fn(n.snap)
		}
	}
}

// AwaitingReply reports whether a tutor request is in flight.
func (s *Session) AwaitingReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}
