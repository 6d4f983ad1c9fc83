package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/lessonloop/internal/agent"
	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/ashureev/lessonloop/internal/metrics"
	"github.com/ashureev/lessonloop/internal/quiz"
	"github.com/ashureev/lessonloop/internal/realtime"
	"github.com/ashureev/lessonloop/internal/shared"
	"github.com/ashureev/lessonloop/internal/transcript"
	"github.com/ashureev/lessonloop/internal/video"
)

// Agent-bound texts for offer choices and cancellation.
const (
	acceptCheckText  = "Yes, I'm ready for the quick check."
	declineCheckText = "Let's skip the quick check for now."
	cancelCheckText  = "I'd like to stop the quick check here."
)

func (l *Lesson) applyVideo(out []video.Output) {
	for _, o := range out {
		switch o := o.(type) {
		case video.PausePlayer:
			l.publish(realtime.EventPlayer, domain.PlayerCommand{Action: domain.PlayerPause})
		case video.ResumePlayer:
			l.publish(realtime.EventPlayer, domain.PlayerCommand{Action: domain.PlayerPlay})
			if o.Recovered {
				metrics.TriggerRecoveries.Inc()
				l.notice("warning", "We couldn't start the check right now, so the video will continue.")
			}
		case video.SeekPlayer:
			l.publish(realtime.EventPlayer, domain.PlayerCommand{Action: domain.PlayerSeek, SeekMs: o.PositionMs})
		case video.RequestFormativeStart:
			metrics.TriggersFired.WithLabelValues("bookmark").Inc()
			l.requestFormative(o.Bookmark)
		case video.RequestInLessonStart:
			metrics.TriggersFired.WithLabelValues("in_lesson").Inc()
			if err := l.startLocal(domain.AssessmentInLesson, o.Trigger.Questions, o.Trigger.ID); err != nil {
				l.applyVideo(l.video.OnTriggerFailed(o.Trigger.ID, err))
			}
		case video.ProgressReport:
			l.saveProgress(o.Update)
		}
	}
}

// requestFormative asks the agent to introduce the bookmark's topic. The
// agent answers with an intro and an fa_intro offer; playback stays paused
// until the learner chooses.
func (l *Lesson) requestFormative(bm domain.Bookmark) {
	if l.deps.Agent == nil {
		l.applyVideo(l.video.OnTriggerFailed(bm.ID, ErrAgentUnavailable))
		return
	}
	req := agent.AssessmentRequest{SessionID: l.visitID, TriggerID: bm.ID, Topic: bm.Topic}
	userID := l.session.UserID
	l.async(func(ctx context.Context) Event {
		if err := l.deps.Agent.StartAssessment(ctx, userID, req); err != nil {
			return triggerFailed{triggerID: req.TriggerID, err: err}
		}
		return nil
	})
}

func (l *Lesson) onTriggerFailed(e triggerFailed) {
	l.applyVideo(l.video.OnTriggerFailed(e.triggerID, e.err))
	if e.campaignID != "" {
		if c := l.quiz.Active(); c != nil && c.ID == e.campaignID {
			l.applyQuiz(l.quiz.Cancel())
		}
	}
}

// startLocal starts a warmup or in-lesson campaign.
func (l *Lesson) startLocal(typ domain.AssessmentType, questions []domain.Question, triggerID string) error {
	out, err := l.quiz.Start(typ, questions, triggerID)
	if err != nil {
		l.rejectStart(typ, err)
		return err
	}
	l.applyQuiz(out)
	return nil
}

func (l *Lesson) rejectStart(typ domain.AssessmentType, err error) {
	if errors.Is(err, quiz.ErrCampaignActive) {
		metrics.CampaignsRejected.WithLabelValues(string(typ)).Inc()
		l.logger.Warn("[LESSON] campaign start rejected, another campaign is active", "type", typ)
		return
	}
	l.logger.Warn("[LESSON] campaign not started", "type", typ, "error", err)
}

func (l *Lesson) applyQuiz(out []quiz.Output) {
	for _, o := range out {
		switch o := o.(type) {
		case quiz.CampaignStarted:
			metrics.CampaignsStarted.WithLabelValues(string(o.Type)).Inc()
			l.publish(realtime.EventCampaign, CampaignPayload{
				CampaignID: o.CampaignID,
				Type:       o.Type,
				TriggerID:  o.TriggerID,
				Status:     CampaignStatusStarted,
				Total:      o.Total,
			})
		case quiz.QuestionPresented:
			l.publish(realtime.EventQuestion, QuestionPayload{
				CampaignID: o.CampaignID, Type: o.Type, Status: "presented", Index: o.Index, Question: o.Question,
			})
		case quiz.QuestionResolved:
			l.publish(realtime.EventQuestion, QuestionPayload{
				CampaignID: o.CampaignID, Type: o.Type, Status: "resolved", Question: o.Question,
			})
		case quiz.EvaluationRequested:
			l.evaluate(o.CampaignID, o.Request)
		case quiz.AttemptRecorded:
			l.recordAttempt(o.Attempt, o.Upsert)
		case quiz.ForwardToAgent:
			l.applyTranscript(l.transcript.OnUserTranscript(domain.UserTranscription{
				Text:        o.Text,
				IsFinal:     true,
				InputType:   domain.InputText,
				MessageType: domain.MessageFAAnswer,
			}))
			l.sendToAgent(o.Text, "")
		case quiz.CampaignCompleted:
			l.onCampaignCompleted(o)
		case quiz.CampaignCancelled:
			metrics.CampaignsFinished.WithLabelValues(string(o.Type), CampaignStatusCancelled).Inc()
			l.publish(realtime.EventCampaign, CampaignPayload{
				CampaignID: o.CampaignID, Type: o.Type, TriggerID: o.TriggerID, Status: CampaignStatusCancelled,
			})
			if o.Type.IsAgentHosted() {
				l.sendToAgent(cancelCheckText, "")
			}
			if o.TriggerID != "" {
				l.applyVideo(l.video.OnCampaignFinished(o.TriggerID))
			}
		}
	}
}

func (l *Lesson) onCampaignCompleted(o quiz.CampaignCompleted) {
	metrics.CampaignsFinished.WithLabelValues(string(o.Type), CampaignStatusCompleted).Inc()
	stats := o.Stats
	payload := CampaignPayload{
		CampaignID: o.CampaignID,
		Type:       o.Type,
		TriggerID:  o.TriggerID,
		Status:     CampaignStatusCompleted,
		Stats:      &stats,
		Summary:    o.Summary,
	}
	if o.Type == domain.AssessmentWarmup {
		tier, text := quiz.WarmupClosing(o.Stats)
		payload.Tier = tier
		l.publish(realtime.EventCampaign, payload)
		l.applyTranscript(l.transcript.AppendAssistant(text, domain.MessageWarmup))
	} else {
		l.publish(realtime.EventCampaign, payload)
	}
	if o.TriggerID != "" {
		l.applyVideo(l.video.OnCampaignFinished(o.TriggerID))
	}
}

func (l *Lesson) evaluate(campaignID string, req domain.EvaluationRequest) {
	if l.deps.Evaluator == nil {
		l.applyQuiz(l.quiz.HandleEvaluationFailure(campaignID, req.QuestionID, errors.New("no evaluator configured")))
		return
	}
	l.async(func(ctx context.Context) Event {
		start := time.Now()
		ev, err := l.deps.Evaluator.Evaluate(ctx, req)
		return evaluationResult{campaignID: campaignID, questionID: req.QuestionID, eval: ev, err: err, elapsed: time.Since(start)}
	})
}

func (l *Lesson) onEvaluation(e evaluationResult) {
	metrics.EvaluationDuration.Observe(e.elapsed.Seconds())
	if e.err != nil {
		metrics.Evaluations.WithLabelValues("failed").Inc()
		l.applyQuiz(l.quiz.HandleEvaluationFailure(e.campaignID, e.questionID, e.err))
		return
	}
	outcome := "incorrect"
	if e.eval.IsCorrect {
		outcome = "correct"
	}
	metrics.Evaluations.WithLabelValues(outcome).Inc()
	e.eval.QuestionID = e.questionID
	l.applyQuiz(l.quiz.HandleRemoteEvaluation(e.campaignID, e.eval))
}

// recordAttempt writes an attempt. Failures are logged and not retried;
// the UI keeps its optimistic state.
func (l *Lesson) recordAttempt(a domain.Attempt, upsert bool) {
	if l.deps.Store == nil {
		return
	}
	logger := l.logger
	l.async(func(ctx context.Context) Event {
		var err error
		if upsert {
			err = l.deps.Store.UpsertAttempt(ctx, a)
		} else {
			err = l.deps.Store.InsertAttempt(ctx, a)
		}
		if err != nil {
			logger.Warn("[LESSON] attempt write failed", "question_id", a.QuestionID, "type", a.AssessmentType, "error", err)
		}
		return nil
	})
}

func (l *Lesson) saveProgress(u domain.ProgressUpdate) {
	if l.deps.Store == nil {
		return
	}
	logger := l.logger
	l.async(func(ctx context.Context) Event {
		if err := l.deps.Store.UpdateLessonProgress(ctx, u); err != nil {
			logger.Warn("[LESSON] progress write failed", "position_ms", u.LastPositionMs, "error", err)
		}
		return nil
	})
}

func (l *Lesson) applyTranscript(out []transcript.Output) {
	for _, o := range out {
		switch o := o.(type) {
		case transcript.PersistMessage:
			ref := o.Ref
			l.refs = append(l.refs, &ref)
			l.byLocal[ref.LocalID] = &ref
			l.publish(realtime.EventMessage, messagePayload(&ref))
			l.persist(&ref)
		case transcript.TypingUpdate:
			l.publish(realtime.EventTyping, TypingPayload{SegmentID: o.SegmentID, Role: o.Role, Text: o.Text})
		case transcript.TransientWelcome:
			l.publish(realtime.EventWelcome, WelcomePayload{SegmentID: o.SegmentID, Text: o.Text, First: o.First})
		case transcript.OfferAction:
			offer := o.Offer
			if id, ok := l.video.Awaiting(); ok {
				if _, isBookmark := l.topics[id]; isBookmark {
					if offer.Metadata == nil {
						offer.Metadata = map[string]any{}
					}
					offer.Metadata["trigger_id"] = id
					if t, _ := offer.Metadata["topic"].(string); t == "" {
						offer.Metadata["topic"] = l.topics[id]
					}
				}
			}
			l.offer = &offer
			l.publish(realtime.EventOffer, OfferPayload{Offer: &offer})
		case transcript.FASignal:
			l.onFASignal(o)
		}
	}
}

func (l *Lesson) persist(ref *domain.MessageRef) {
	if l.deps.Store == nil {
		return
	}
	msg, localID := ref.Message, ref.LocalID
	l.async(func(ctx context.Context) Event {
		var stored *domain.Message
		err := shared.RetryOnConflict(ctx, persistRetries, 50*time.Millisecond, func() error {
			var err error
			stored, err = l.deps.Store.CreateMessage(ctx, msg)
			return err
		})
		return persistResult{localID: localID, stored: stored, err: err}
	})
}

func (l *Lesson) onPersisted(e persistResult) {
	ref, ok := l.byLocal[e.localID]
	if !ok {
		return
	}
	if e.err != nil || e.stored == nil {
		ref.State = domain.Failed
		metrics.MessagesPersisted.WithLabelValues("failed").Inc()
		l.logger.Warn("[LESSON] message write failed, kept for reconciliation",
			"local_id", e.localID, "seq", ref.Message.Seq, "error", e.err)
	} else {
		ref.State = domain.Persisted
		ref.RemoteID = e.stored.ID
		ref.Message.ID = e.stored.ID
		metrics.MessagesPersisted.WithLabelValues("persisted").Inc()
	}
	l.publish(realtime.EventMessageUpdate, messagePayload(ref))
}

// reconcile re-submits failed writes. CreateMessage is idempotent on
// (conversation_id, seq), so a write that actually landed is not duplicated.
func (l *Lesson) reconcile() {
	n := 0
	for _, ref := range l.refs {
		if ref.State != domain.Failed {
			continue
		}
		ref.State = domain.Pending
		l.persist(ref)
		n++
	}
	if n > 0 {
		l.logger.Info("[LESSON] reconciling failed messages", "count", n)
	}
}

// chooseOffer handles the learner's answer to the fa_intro offer.
func (l *Lesson) chooseOffer(e ChooseOffer) {
	offer := l.offer
	if offer == nil {
		l.logger.Warn("[LESSON] offer choice with no open offer", "choice", e.Choice)
		return
	}
	if e.AnchorMessageID != "" && !l.anchors(offer, e.AnchorMessageID) {
		l.logger.Warn("[LESSON] offer choice for a stale offer", "anchor", e.AnchorMessageID)
		return
	}
	triggerID, _ := offer.Metadata["trigger_id"].(string)
	topic, _ := offer.Metadata["topic"].(string)

	switch e.Choice {
	case domain.ChoiceStartCheck:
		out, err := l.quiz.Start(domain.AssessmentFormative, nil, triggerID)
		if err != nil {
			l.rejectStart(domain.AssessmentFormative, err)
			l.notice("info", "Finish the current questions first.")
			if triggerID != "" {
				l.applyVideo(l.video.OnTriggerFailed(triggerID, err))
			}
			break
		}
		l.applyQuiz(out)
		var campaignID string
		for _, o := range out {
			if s, ok := o.(quiz.CampaignStarted); ok {
				campaignID = s.CampaignID
			}
		}
		l.startCheckOnAgent(triggerID, campaignID, topic)
	case domain.ChoiceSkipCheck:
		l.sendToAgent(declineCheckText, "")
		if triggerID != "" {
			l.applyVideo(l.video.OnCampaignFinished(triggerID))
		}
	default:
		l.logger.Warn("[LESSON] unknown offer choice", "choice", e.Choice)
		return
	}
	l.offer = nil
	l.publish(realtime.EventOffer, OfferPayload{Dismissed: true, Choice: e.Choice})
}

func (l *Lesson) anchors(offer *domain.ActionOffer, id string) bool {
	if offer.AnchorMessageID == id {
		return true
	}
	ref, ok := l.byLocal[offer.AnchorMessageID]
	return ok && ref.RemoteID == id
}

// startCheckOnAgent tells the agent the learner accepted. A failure unwinds
// the campaign and resumes playback.
func (l *Lesson) startCheckOnAgent(triggerID, campaignID, topic string) {
	if l.deps.Agent == nil {
		l.onTriggerFailed(triggerFailed{triggerID: triggerID, campaignID: campaignID, err: ErrAgentUnavailable})
		return
	}
	userID, sessionID := l.session.UserID, l.visitID
	l.async(func(ctx context.Context) Event {
		if err := l.deps.Agent.SendText(ctx, userID, sessionID, acceptCheckText); err != nil {
			return triggerFailed{triggerID: triggerID, campaignID: campaignID, err: err}
		}
		return nil
	})
	l.logger.Info("[LESSON] formative check accepted", "trigger_id", triggerID, "topic", topic)
}

// sendText persists typed learner chat and forwards it to the agent.
func (l *Lesson) sendText(text string) {
	out := l.transcript.OnUserTranscript(domain.UserTranscription{
		Text:        text,
		IsFinal:     true,
		InputType:   domain.InputText,
		MessageType: domain.MessageGeneral,
	})
	if len(out) == 0 {
		return
	}
	l.applyTranscript(out)
	l.sendToAgent(text, "Your tutor isn't connected right now.")
}

// sendToAgent delivers text in the background. unavailable is the notice
// shown when no agent is configured; empty means stay silent.
func (l *Lesson) sendToAgent(text, unavailable string) {
	if l.deps.Agent == nil {
		if unavailable != "" {
			l.notice("warning", unavailable)
		}
		return
	}
	userID, sessionID := l.session.UserID, l.visitID
	logger := l.logger
	l.async(func(ctx context.Context) Event {
		if err := l.deps.Agent.SendText(ctx, userID, sessionID, text); err != nil {
			logger.Warn("[LESSON] agent send failed", "error", err)
			return agentSendFailed{err: err}
		}
		return nil
	})
}

func (l *Lesson) onAgentEvent(ev *agent.Event) {
	if !l.agentUp {
		l.agentUp = true
		l.notice("info", "Reconnected to your tutor.")
	}
	switch ev.Kind {
	case agent.EventAgentTranscript:
		l.applyTranscript(l.transcript.OnAgentTranscript(ev.Segment))
	case agent.EventUserTranscript:
		l.onVoice(ev.User)
	case agent.EventFAResponse:
		l.applyTranscript(l.transcript.OnFAResponse(ev.FA))
	case agent.EventIntroComplete:
		l.applyTranscript(l.transcript.OnFAIntroComplete(ev.Topic, ev.IntroText))
	case agent.EventError:
		l.logger.Warn("[LESSON] agent reported an error", "error", ev.Error)
		l.notice("warning", "Your tutor ran into a problem.")
	}
}

// onVoice handles recognized learner speech. While a formative question is
// pending the utterance is the answer; the agent already heard it, so it is
// not forwarded again.
func (l *Lesson) onVoice(u domain.UserTranscription) {
	c := l.quiz.Active()
	q, pending := l.quiz.CurrentQuestion()
	answering := u.IsFinal && pending && c != nil && c.Type.IsAgentHosted()
	if answering {
		u.MessageType = domain.MessageFAAnswer
	}
	l.applyTranscript(l.transcript.OnUserTranscript(u))
	if !answering {
		return
	}
	var out []quiz.Output
	for _, o := range l.quiz.SubmitAnswer(q.ID, u.Text) {
		if _, fwd := o.(quiz.ForwardToAgent); fwd {
			continue
		}
		out = append(out, o)
	}
	l.applyQuiz(out)
}

// onFASignal routes the agent's structured assessment updates to the quiz
// engine. A question arriving with no campaign open starts one, since the
// learner may have accepted the check by voice.
func (l *Lesson) onFASignal(sig transcript.FASignal) {
	var (
		out []quiz.Output
		err error
	)
	switch sig.Kind {
	case transcript.FAQuestion:
		if l.quiz.Active() == nil {
			triggerID := ""
			if id, ok := l.video.Awaiting(); ok {
				if _, isBookmark := l.topics[id]; isBookmark {
					triggerID = id
				}
			}
			started, startErr := l.quiz.Start(domain.AssessmentFormative, nil, triggerID)
			if startErr != nil {
				l.rejectStart(domain.AssessmentFormative, startErr)
				return
			}
			l.applyQuiz(started)
			if l.offer != nil {
				l.offer = nil
				l.publish(realtime.EventOffer, OfferPayload{Dismissed: true, Choice: domain.ChoiceStartCheck})
			}
		}
		out, err = l.quiz.ApplyAgentQuestion(sig.Response)
	case transcript.FAFeedback:
		out, err = l.quiz.ApplyAgentFeedback(sig.Response)
	case transcript.FAComplete:
		out, err = l.quiz.ApplyAgentCompletion(sig.Response)
	}
	if err != nil {
		l.logger.Warn("[LESSON] assessment update ignored", "kind", sig.Kind, "error", err)
		return
	}
	l.applyQuiz(out)
}

func (l *Lesson) onAgentLost(e agentLost) {
	metrics.AgentReconnects.Inc()
	if l.agentUp || e.attempt == 1 {
		l.notice("warning", "Lost connection to your tutor. Reconnecting...")
	}
	l.agentUp = false
	if id, ok := l.video.Awaiting(); ok && l.quiz.Active() == nil {
		if _, isBookmark := l.topics[id]; isBookmark && l.offer == nil {
			l.applyVideo(l.video.OnTriggerFailed(id, e.err))
		}
	}
}
