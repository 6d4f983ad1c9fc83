package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/sessionctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, resolver Resolver) (*Registry, *fakeStore, *fakePublisher) {
	t.Helper()
	st := &fakeStore{}
	pub := &fakePublisher{}
	r := NewRegistry(Deps{Store: st, Questions: fakeQuestions{}, Publisher: pub}, resolver, discardLogger())
	t.Cleanup(r.CloseAll)
	return r, st, pub
}

func TestRegistryReusesLiveLesson(t *testing.T) {
	r, _, _ := newTestRegistry(t, fakeResolver{})
	ctx := context.Background()

	first, err := r.Open(ctx, "u1", "c1", "l1")
	require.NoError(t, err)
	second, err := r.Open(ctx, "u1", "c1", "l1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, r.Get("u1", "l1"))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "conv-u1-l1", first.ConversationID())
}

func TestRegistryOneLessonPerLearner(t *testing.T) {
	r, _, pub := newTestRegistry(t, fakeResolver{})
	ctx := context.Background()

	first, err := r.Open(ctx, "u1", "c1", "l1")
	require.NoError(t, err)
	other, err := r.Open(ctx, "u2", "c1", "l1")
	require.NoError(t, err)
	second, err := r.Open(ctx, "u1", "c1", "l2")
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous lesson was not closed")
	}
	assert.Nil(t, r.Get("u1", "l1"))
	assert.Same(t, second, r.Get("u1", "l2"))
	assert.Same(t, other, r.Get("u2", "l1"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, pub.pruned)
}

func TestRegistryRestoresHistory(t *testing.T) {
	r, st, _ := newTestRegistry(t, fakeResolver{})
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_, err := st.CreateMessage(ctx, domain.Message{ConversationID: "conv-u1-l1", Seq: i, Role: domain.RoleUser, Content: "hi"})
		require.NoError(t, err)
	}

	l, err := r.Open(ctx, "u1", "c1", "l1")
	require.NoError(t, err)
	require.NoError(t, l.Post(ctx, SendText{Text: "next"}))
	require.NoError(t, l.Flush(ctx))

	s, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, s.Messages, 4)
	assert.Equal(t, "persisted", s.Messages[0].State)
	assert.Equal(t, int64(4), s.Messages[3].Message.Seq)
}

func TestRegistryResolveError(t *testing.T) {
	r, _, _ := newTestRegistry(t, fakeResolver{err: sessionctx.ErrLessonNotInCourse})

	_, err := r.Open(context.Background(), "u1", "c1", "l1")
	assert.True(t, errors.Is(err, sessionctx.ErrLessonNotInCourse))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryClose(t *testing.T) {
	r, _, _ := newTestRegistry(t, fakeResolver{})
	ctx := context.Background()
	l, err := r.Open(ctx, "u1", "c1", "l1")
	require.NoError(t, err)

	assert.False(t, r.Close("u1", "other"))
	assert.True(t, r.Close("u1", "l1"))
	assert.False(t, r.Close("u1", "l1"))
	assert.ErrorIs(t, l.Post(ctx, StartWarmup{}), ErrClosed)
}

func TestRegistrySweepClosesIdleLessons(t *testing.T) {
	r, _, _ := newTestRegistry(t, fakeResolver{})
	ctx := context.Background()
	idle, err := r.Open(ctx, "u1", "c1", "l1")
	require.NoError(t, err)
	active, err := r.Open(ctx, "u2", "c1", "l1")
	require.NoError(t, err)

	now := time.Now()
	idle.lastSeen.Store(now.Add(-time.Hour).UnixNano())
	active.lastSeen.Store(now.UnixNano())

	assert.Equal(t, 1, r.sweep(now, 30*time.Minute))
	assert.Nil(t, r.Get("u1", "l1"))
	assert.NotNil(t, r.Get("u2", "l1"))
}
