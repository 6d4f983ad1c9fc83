// Package video watches the player timeline. It fires bookmark and in-lesson
// triggers once per visit, pauses playback while the triggered campaign runs,
// resumes it afterwards, and reports watch progress.
//
// Bookmark states: untriggered -> triggered (pause, request FA start) ->
// resumed when the campaign completes, is skipped, or fails to start.
package video

import (
	"log/slog"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
)

// Defaults for Config zero values.
const (
	DefaultMinWatch          = 5 * time.Second
	DefaultProgressInterval  = 15 * time.Second
	DefaultBookmarkTolerance = 500 * time.Millisecond
	DefaultInLessonTolerance = 1000 * time.Millisecond
)

// Config seeds an Engine for one lesson visit.
type Config struct {
	UserID           string
	LessonID         string
	Bookmarks        []domain.Bookmark
	Triggers         []domain.InLessonTrigger
	DurationMs       int64
	ResumePositionMs int64

	MinWatch          time.Duration
	ProgressInterval  time.Duration
	BookmarkTolerance time.Duration
	InLessonTolerance time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine is not safe for concurrent use.
type Engine struct {
	cfg       Config
	bookmarks []domain.Bookmark
	triggers  []domain.InLessonTrigger
	triggered map[string]bool

	state      domain.PlayerState
	positionMs int64
	durationMs int64
	started    bool
	lastReport time.Time

	awaitingID string

	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.MinWatch <= 0 {
		cfg.MinWatch = DefaultMinWatch
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.BookmarkTolerance <= 0 {
		cfg.BookmarkTolerance = DefaultBookmarkTolerance
	}
	if cfg.InLessonTolerance <= 0 {
		cfg.InLessonTolerance = DefaultInLessonTolerance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:        cfg,
		bookmarks:  append([]domain.Bookmark(nil), cfg.Bookmarks...),
		triggers:   append([]domain.InLessonTrigger(nil), cfg.Triggers...),
		triggered:  make(map[string]bool),
		state:      domain.PlayerUnstarted,
		durationMs: cfg.DurationMs,
		logger:     logger,
	}
}

// Awaiting reports the trigger whose campaign holds playback, if any.
func (e *Engine) Awaiting() (string, bool) {
	return e.awaitingID, e.awaitingID != ""
}

// Triggered reports whether the bookmark or trigger id has fired.
func (e *Engine) Triggered(id string) bool {
	return e.triggered[id]
}

// PositionMs is the last reported playback position.
func (e *Engine) PositionMs() int64 { return e.positionMs }

// SetDuration records the duration once the player resolves it.
func (e *Engine) SetDuration(ms int64) {
	if ms > 0 {
		e.durationMs = ms
	}
}

// OnPlayerStarted handles the player's first start. A stored position past
// the minimum watch threshold is restored with a seek.
func (e *Engine) OnPlayerStarted() []Output {
	if e.started {
		return nil
	}
	e.started = true
	resume := e.cfg.ResumePositionMs
	if resume < e.cfg.MinWatch.Milliseconds() {
		return nil
	}
	if e.durationMs > 0 && resume >= e.durationMs {
		return nil
	}
	e.positionMs = resume
	e.logger.Info("[VIDEO] resuming from stored position", "lesson_id", e.cfg.LessonID, "position_ms", resume)
	return []Output{SeekPlayer{PositionMs: resume}}
}

// OnTimeUpdate handles a timeline tick. It never blocks.
func (e *Engine) OnTimeUpdate(ms int64) []Output {
	if ms < 0 {
		return nil
	}
	e.positionMs = ms

	var out []Output
	if e.awaitingID == "" {
		if fired := e.checkBookmarks(ms); fired != nil {
			out = append(out, fired...)
		} else if fired := e.checkInLesson(ms); fired != nil {
			out = append(out, fired...)
		}
	}

	if e.state == domain.PlayerPlaying && e.awaitingID == "" && e.pastMinWatch() {
		now := e.cfg.Now()
		if e.lastReport.IsZero() || now.Sub(e.lastReport) >= e.cfg.ProgressInterval {
			out = append(out, e.report(false))
		}
	}
	return out
}

func within(ms, offset int64, tolerance time.Duration) bool {
	d := ms - offset
	return d >= 0 && d <= tolerance.Milliseconds()
}

func (e *Engine) checkBookmarks(ms int64) []Output {
	for i := range e.bookmarks {
		bm := &e.bookmarks[i]
		if e.triggered[bm.ID] || !within(ms, bm.OffsetMs, e.cfg.BookmarkTolerance) {
			continue
		}
		bm.Triggered = true
		e.triggered[bm.ID] = true
		e.awaitingID = bm.ID
		e.logger.Info("[VIDEO] bookmark crossed", "bookmark_id", bm.ID, "offset_ms", bm.OffsetMs, "position_ms", ms)
		return []Output{PausePlayer{}, RequestFormativeStart{Bookmark: *bm}}
	}
	return nil
}

// checkInLesson fires at most one in-lesson trigger per tick.
func (e *Engine) checkInLesson(ms int64) []Output {
	for i := range e.triggers {
		trig := &e.triggers[i]
		if e.triggered[trig.ID] {
			continue
		}
		if !within(ms, trig.OffsetMs, e.cfg.InLessonTolerance) {
			continue
		}
		trig.Triggered = true
		e.triggered[trig.ID] = true
		e.awaitingID = trig.ID
		e.logger.Info("[VIDEO] in-lesson trigger crossed", "trigger_id", trig.ID, "position_ms", ms)
		return []Output{PausePlayer{}, RequestInLessonStart{Trigger: *trig}}
	}
	return nil
}

// OnPlayerStateChange handles a player state transition.
func (e *Engine) OnPlayerStateChange(state domain.PlayerState) []Output {
	prev := e.state
	e.state = state
	if prev == state {
		return nil
	}
	switch state {
	case domain.PlayerPlaying:
		if !e.started {
			return e.OnPlayerStarted()
		}
	case domain.PlayerPaused:
		if e.pastMinWatch() {
			return []Output{e.report(false)}
		}
	case domain.PlayerEnded:
		if e.durationMs > 0 {
			e.positionMs = e.durationMs
		}
		if e.pastMinWatch() {
			return []Output{e.report(true)}
		}
	}
	return nil
}

// OnCampaignFinished resumes playback held by the trigger's campaign, whether
// it completed, was skipped, or was cancelled.
func (e *Engine) OnCampaignFinished(triggerID string) []Output {
	if e.awaitingID == "" || e.awaitingID != triggerID {
		return nil
	}
	e.awaitingID = ""
	return []Output{ResumePlayer{TriggerID: triggerID}}
}

// OnTriggerFailed resumes playback after a trigger could not start its
// campaign. The trigger stays fired.
func (e *Engine) OnTriggerFailed(triggerID string, err error) []Output {
	if e.awaitingID == "" || e.awaitingID != triggerID {
		return nil
	}
	e.logger.Error("[VIDEO] trigger failed to start, resuming playback",
		"trigger_id", triggerID, "lesson_id", e.cfg.LessonID, "error", err)
	e.awaitingID = ""
	return []Output{ResumePlayer{TriggerID: triggerID, Recovered: true}}
}

func (e *Engine) pastMinWatch() bool {
	return e.positionMs >= e.cfg.MinWatch.Milliseconds()
}

func (e *Engine) report(ended bool) Output {
	e.lastReport = e.cfg.Now()
	pct := 0.0
	if e.durationMs > 0 {
		pct = float64(e.positionMs) / float64(e.durationMs) * 100
		if pct > 100 {
			pct = 100
		}
	}
	return ProgressReport{Update: domain.ProgressUpdate{
		UserID:               e.cfg.UserID,
		LessonID:             e.cfg.LessonID,
		LastPositionMs:       e.positionMs,
		CompletionPercentage: pct,
		VideoEnded:           ended,
	}}
}
