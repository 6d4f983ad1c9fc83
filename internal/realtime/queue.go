package realtime

import (
	"container/list"
	"sync"
)

// ReplayQueue buffers recent events, sharded per session. Each session gets
// its own bounded list so one learner's burst cannot evict another's events.
type ReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewReplayQueue creates a per-session replay queue.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &ReplayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends an event to its session's queue.
func (q *ReplayQueue) Enqueue(ev Event) {
	key := sessionKey(ev.UserID, ev.LessonID)
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(ev)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// After returns the session's buffered events with id > afterID, oldest
// first. ok is false when the buffer no longer reaches back to afterID, so
// the caller cannot resume from it.
func (q *ReplayQueue) After(userID, lessonID string, afterID int64) (missed []Event, ok bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, found := q.queues[sessionKey(userID, lessonID)]
	if !found || l.Len() == 0 {
		return nil, false
	}
	if l.Front().Value.(Event).ID > afterID+1 {
		return nil, false
	}
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed, true
}

// Prune drops a session's queue.
func (q *ReplayQueue) Prune(userID, lessonID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionKey(userID, lessonID))
}
