package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	subscriberBuffer  = 64
	busQueueSize      = 256
	busPublishTimeout = 2 * time.Second
)

// Subscription receives a session's live events.
type Subscription struct {
	ID       int64
	UserID   string
	LessonID string

	ch   chan Event
	done chan struct{}
	once sync.Once
	hub  *Hub
}

// C delivers live events.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// Hub assigns event ids, keeps the replay queue and fans events out to
// local subscribers and, when configured, to a shared bus.
type Hub struct {
	// pubMu orders id assignment with delivery.
	pubMu sync.Mutex

	mu       sync.RWMutex
	subs     map[string]map[int64]*Subscription
	counters map[string]int64
	nextSub  int64
	// highest id issued by any session
	maxID int64

	queue  *ReplayQueue
	origin string
	logger *slog.Logger
	now    func() time.Time

	bus     Bus
	busOut  chan Event
	busDone chan struct{}
}

// NewHub creates a hub keeping replaySize events per session.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:     make(map[string]map[int64]*Subscription),
		counters: make(map[string]int64),
		queue:    NewReplayQueue(replaySize),
		origin:   uuid.NewString(),
		logger:   logger,
		now:      time.Now,
	}
}

// AttachBus publishes every local event to bus and delivers events other
// instances publish. It must be called before the hub is used.
func (h *Hub) AttachBus(ctx context.Context, bus Bus) error {
	if err := bus.StartForwarder(ctx, h.forward); err != nil {
		return fmt.Errorf("start bus forwarder: %w", err)
	}
	h.bus = bus
	h.busOut = make(chan Event, busQueueSize)
	h.busDone = make(chan struct{})
	go h.publishLoop()
	h.logger.Info("[HUB] event bus attached", "origin", h.origin)
	return nil
}

func (h *Hub) publishLoop() {
	defer close(h.busDone)
	for ev := range h.busOut {
		ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
		if err := h.bus.Publish(ctx, ev); err != nil {
			h.logger.Warn("[HUB] bus publish failed", "error", err, "user_id", ev.UserID, "event_id", ev.ID)
		}
		cancel()
	}
}

func (h *Hub) forward(ev Event) {
	if ev.Origin == h.origin {
		return
	}
	h.deliver(ev)
}

// Publish stamps and delivers an event. It never blocks on slow consumers.
func (h *Hub) Publish(userID, lessonID, typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", typ, err)
	}

	key := sessionKey(userID, lessonID)
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	id, ok := h.counters[key]
	if !ok {
		// A new or recreated session starts past every id issued so far,
		// leaving a gap so a client id from an earlier visit never looks
		// contiguous with the new buffer.
		id = max(h.now().UnixMilli(), h.maxID+1)
	}
	id++
	h.counters[key] = id
	h.maxID = max(h.maxID, id)
	h.mu.Unlock()

	ev := Event{
		ID:        id,
		UserID:    userID,
		LessonID:  lessonID,
		Type:      typ,
		Data:      raw,
		Timestamp: h.now().UTC(),
		Origin:    h.origin,
	}
	h.deliver(ev)

	if h.busOut != nil {
		select {
		case h.busOut <- ev:
		default:
			h.logger.Warn("[HUB] bus queue full, dropping event", "user_id", userID, "event_id", id)
		}
	}
	return ev, nil
}

func (h *Hub) deliver(ev Event) {
	h.queue.Enqueue(ev)

	h.mu.RLock()
	conns := make([]*Subscription, 0, len(h.subs[sessionKey(ev.UserID, ev.LessonID)]))
	for _, s := range h.subs[sessionKey(ev.UserID, ev.LessonID)] {
		conns = append(conns, s)
	}
	h.mu.RUnlock()

	for _, s := range conns {
		h.send(s, ev)
	}
}

// send drops the oldest buffered event when a subscriber falls behind.
func (h *Hub) send(s *Subscription, ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	h.logger.Warn("[HUB] subscriber queue full, dropping oldest", "user_id", s.UserID, "sub_id", s.ID)
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Subscribe registers a live subscriber and returns the buffered events
// after lastEventID. Events published between the two are delivered live.
// resumed is false when lastEventID is zero or has fallen out of the
// buffer; the caller must then resync the client from a snapshot.
func (h *Hub) Subscribe(userID, lessonID string, lastEventID int64) (sub *Subscription, missed []Event, resumed bool) {
	key := sessionKey(userID, lessonID)
	h.mu.Lock()
	h.nextSub++
	sub = &Subscription{
		ID:       h.nextSub,
		UserID:   userID,
		LessonID: lessonID,
		ch:       make(chan Event, subscriberBuffer),
		done:     make(chan struct{}),
		hub:      h,
	}
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[int64]*Subscription)
	}
	h.subs[key][sub.ID] = sub
	h.mu.Unlock()

	if lastEventID > 0 {
		missed, resumed = h.queue.After(userID, lessonID, lastEventID)
		h.logger.Info("[HUB] replaying missed events",
			"user_id", userID, "lesson_id", lessonID, "last_event_id", lastEventID,
			"count", len(missed), "resumed", resumed)
	}
	return sub, missed, resumed
}

func (h *Hub) remove(s *Subscription) {
	key := sessionKey(s.UserID, s.LessonID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[key]; ok {
		delete(subs, s.ID)
		if len(subs) == 0 {
			delete(h.subs, key)
		}
	}
}

// Subscribers reports the number of live subscribers for a session.
func (h *Hub) Subscribers(userID, lessonID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionKey(userID, lessonID)])
}

// Prune frees a torn-down session's replay buffer and id counter.
func (h *Hub) Prune(userID, lessonID string) {
	h.queue.Prune(userID, lessonID)
	h.mu.Lock()
	delete(h.counters, sessionKey(userID, lessonID))
	h.mu.Unlock()
}

// Close closes every subscription and stops the bus publisher.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Subscription
	for _, subs := range h.subs {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.Close()
	}

	if h.busOut != nil {
		close(h.busOut)
		<-h.busDone
		if err := h.bus.Close(); err != nil {
			h.logger.Warn("[HUB] bus close failed", "error", err)
		}
	}
}
