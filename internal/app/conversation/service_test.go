package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/clevercompass/internal/adapters/llm"
	"github.com/PabloGalante/clevercompass/internal/adapters/storage/memory"
	"github.com/PabloGalante/clevercompass/internal/app/conversation"
	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, tutor domain.Tutor, cfg conversation.ServiceConfig) (*conversation.Service, *memory.TurnLog) {
	t.Helper()

	turns := memory.NewTurnLog()
	svc := conversation.NewService(tutor, attachment.NewEncoder(attachment.Options{}), turns, cfg)
	t.Cleanup(svc.Shutdown)
	return svc, turns
}

func TestServiceOpenGetClose(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockTutor(), conversation.ServiceConfig{})

	sess, err := svc.Open(ctx, domain.SubjectMath)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Count())

	got, err := svc.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)

	require.NoError(t, svc.Close(sess.ID()))
	_, err = svc.Get(sess.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.Close(sess.ID()), domain.ErrSessionNotFound)
	assert.Zero(t, svc.Count())
}

func TestServiceSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockTutor(), conversation.ServiceConfig{})

	a, err := svc.Open(ctx, domain.SubjectMath)
	require.NoError(t, err)
	b, err := svc.Open(ctx, domain.SubjectPhysics)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	ch, err := a.Send(ctx, "integral of x")
	require.NoError(t, err)
	receive(t, ch)

	assert.Len(t, a.Snapshot().Messages, 3)
	assert.Len(t, b.Snapshot().Messages, 1)
}

func TestServiceOpenRejectsUnknownSubject(t *testing.T) {
	svc, _ := newService(t, llm.NewMockTutor(), conversation.ServiceConfig{})

	_, err := svc.Open(context.Background(), "Astrology")
	assert.ErrorIs(t, err, domain.ErrUnknownSubject)
	assert.Zero(t, svc.Count())
}

func TestServiceEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc, _ := newService(t, llm.NewMockTutor(), conversation.ServiceConfig{MaxSessions: 2, Now: clock.Now})

	first, err := svc.Open(ctx, domain.SubjectMath)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := svc.Open(ctx, domain.SubjectMath)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	// touching first makes second the oldest
	_, err = svc.Get(first.ID())
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = svc.Open(ctx, domain.SubjectChemistry)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Count())
	_, err = svc.Get(second.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.Get(first.ID())
	assert.NoError(t, err)
}

func TestServiceCleanupSkipsSessionsAwaitingReply(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tutor := &scriptedTutor{reply: "done", release: make(chan struct{})}
	svc, _ := newService(t, tutor, conversation.ServiceConfig{IdleTimeout: time.Hour, Now: clock.Now})

	idle, err := svc.Open(ctx, domain.SubjectMath)
	require.NoError(t, err)
	busy, err := svc.Open(ctx, domain.SubjectMath)
	require.NoError(t, err)

	ch, err := busy.Send(ctx, "long question")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, svc.CleanupIdle())

	_, err = svc.Get(idle.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.Get(busy.ID())
	assert.NoError(t, err)

	close(tutor.release)
	receive(t, ch)
}

func TestServiceShutdownWaitsForClosedSessions(t *testing.T) {
	ctx := context.Background()
	tutor := &scriptedTutor{reply: "late answer", release: make(chan struct{})}
	svc, turns := newService(t, tutor, conversation.ServiceConfig{})

	sess, err := svc.Open(ctx, domain.SubjectChemistry)
	require.NoError(t, err)
	_, err = sess.Send(ctx, "balance this equation")
	require.NoError(t, err)
	require.NoError(t, svc.Close(sess.ID()))

	stopped := make(chan struct{})
	go func() {
		svc.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("shutdown returned while a closed session was still awaiting its reply")
	case <-time.After(50 * time.Millisecond):
	}

	close(tutor.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return after the reply landed")
	}

	recs, err := turns.ListTurns(ctx, sess.ID(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OutcomeOK, recs[0].Outcome)
}

func TestServiceTurns(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockTutor(), conversation.ServiceConfig{})

	sess, err := svc.Open(ctx, domain.SubjectPhysics)
	require.NoError(t, err)

	for _, q := range []string{"what is inertia?", "and momentum?"} {
		ch, err := sess.Send(ctx, q)
		require.NoError(t, err)
		receive(t, ch)
		sess.Wait()
	}

	recs, err := svc.Turns(ctx, sess.ID(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.OutcomeOK, recs[1].Outcome)

	last, err := svc.Turns(ctx, sess.ID(), 1)
	require.NoError(t, err)
	assert.Len(t, last, 1)
}

func TestServiceWithoutTurnLog(t *testing.T) {
	svc := conversation.NewService(llm.NewMockTutor(), nil, nil, conversation.ServiceConfig{})
	defer svc.Shutdown()

	recs, err := svc.Turns(context.Background(), "any", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
