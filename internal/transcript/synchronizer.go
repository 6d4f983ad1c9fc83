// Package transcript decides which agent transcript segments and learner
// utterances become persisted chat messages.
//
// State transitions for one lesson visit:
//
//	agent final, intro marker      -> persist fa-intro, offer fa_intro
//	agent final, user not yet sent -> first visit: persist general
//	                                  returning:   transient welcome only
//	agent final, user has sent     -> persist, tagged like the last user message
//	agent interim                  -> typing update only
//	user final                     -> persist, remember tag, mark user-has-sent
//
// A segment persists at most once per (id, text length); voice utterances
// at most once per trimmed text.
package transcript

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/google/uuid"
)

// introMarker matches the agent's lead-in to a quick knowledge check.
var introMarker = regexp.MustCompile(`(?i)\b(let'?s|how about)\s+(do\s+)?a\s+quick\s+(knowledge\s+)?check\b`)

// IsIntroMarker reports whether text is the agent's quick-check lead-in.
func IsIntroMarker(text string) bool {
	return introMarker.MatchString(text)
}

type segmentKey struct {
	id     string
	length int
}

// Config seeds a Synchronizer for one lesson visit.
type Config struct {
	ConversationID string
	SessionType    domain.SessionType
	// StartSeq is the highest sequence number already stored.
	StartSeq int64
	Logger   *slog.Logger
}

// Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	conversationID string
	returning      bool

	persisted       map[segmentKey]struct{}
	voiceTexts      map[string]struct{}
	introTexts      map[string]struct{}
	userHasSent     bool
	lastUserTag     domain.MessageType
	welcomeCaptured bool
	seq             int64

	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Synchronizer.
func New(cfg Config) *Synchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		conversationID: cfg.ConversationID,
		returning:      cfg.SessionType.IsReturning(),
		persisted:      make(map[segmentKey]struct{}),
		voiceTexts:     make(map[string]struct{}),
		introTexts:     make(map[string]struct{}),
		lastUserTag:    domain.MessageGeneral,
		seq:            cfg.StartSeq,
		newID:          uuid.NewString,
		now:            time.Now,
		logger:         logger,
	}
}

// UserHasSent reports whether the learner has sent a message this visit.
func (s *Synchronizer) UserHasSent() bool { return s.userHasSent }

// LastUserTag is the classification of the learner's latest message.
func (s *Synchronizer) LastUserTag() domain.MessageType { return s.lastUserTag }

// Seq returns the last sequence number handed out.
func (s *Synchronizer) Seq() int64 { return s.seq }

func (s *Synchronizer) message(role domain.Role, content string, typ domain.MessageType, input domain.InputType) PersistMessage {
	s.seq++
	return PersistMessage{Ref: domain.MessageRef{
		LocalID: "local-" + s.newID(),
		State:   domain.Pending,
		Message: domain.Message{
			ConversationID: s.conversationID,
			Seq:            s.seq,
			Role:           role,
			Content:        content,
			MessageType:    typ,
			InputType:      input,
			CreatedAt:      s.now(),
		},
	}}
}

// OnAgentTranscript handles one agent transcript segment.
func (s *Synchronizer) OnAgentTranscript(seg domain.TranscriptSegment) []Output {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return nil
	}
	if !seg.IsFinal {
		return []Output{TypingUpdate{SegmentID: seg.ID, Role: domain.RoleAssistant, Text: text}}
	}

	key := segmentKey{id: seg.ID, length: len(seg.Text)}
	if _, dup := s.persisted[key]; dup {
		s.logger.Debug("[TRANSCRIPT] duplicate final segment dropped", "segment_id", seg.ID)
		return nil
	}

	s.persisted[key] = struct{}{}

	if IsIntroMarker(text) {
		return s.intro("", text)
	}

	if !s.userHasSent {
		first := !s.welcomeCaptured
		s.welcomeCaptured = true
		if s.returning {
			// Welcome-back greetings are time sensitive and stay out of history.
			return []Output{TransientWelcome{SegmentID: seg.ID, Text: text, First: first}}
		}
		return []Output{s.message(domain.RoleAssistant, text, domain.MessageGeneral, "")}
	}

	return []Output{s.message(domain.RoleAssistant, text, s.lastUserTag, "")}
}

// OnFAIntroComplete handles the agent's explicit signal that it finished
// introducing a topic and is offering a quick check.
func (s *Synchronizer) OnFAIntroComplete(topic, introText string) []Output {
	text := strings.TrimSpace(introText)
	if text == "" {
		return []Output{OfferAction{Offer: domain.ActionOffer{
			Type:     domain.OfferFAIntro,
			Metadata: introMetadata(topic),
		}}}
	}
	return s.intro(topic, text)
}

func (s *Synchronizer) intro(topic, text string) []Output {
	if _, dup := s.introTexts[text]; dup {
		return nil
	}
	s.introTexts[text] = struct{}{}

	msg := s.message(domain.RoleAssistant, text, domain.MessageFAIntro, "")
	return []Output{
		msg,
		OfferAction{Offer: domain.ActionOffer{
			Type:            domain.OfferFAIntro,
			Metadata:        introMetadata(topic),
			AnchorMessageID: msg.Ref.LocalID,
		}},
	}
}

func introMetadata(topic string) map[string]any {
	return map[string]any{
		"topic":   topic,
		"choices": []string{domain.ChoiceStartCheck, domain.ChoiceSkipCheck},
	}
}

// OnUserTranscript handles a learner utterance or typed message.
func (s *Synchronizer) OnUserTranscript(t domain.UserTranscription) []Output {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return nil
	}
	if !t.IsFinal {
		return []Output{TypingUpdate{Role: domain.RoleUser, Text: text}}
	}

	input := t.InputType
	if input == "" {
		input = domain.InputVoice
	}
	if input == domain.InputVoice {
		if _, dup := s.voiceTexts[text]; dup {
			s.logger.Debug("[TRANSCRIPT] duplicate voice transcription dropped")
			return nil
		}
		s.voiceTexts[text] = struct{}{}
	}

	tag := t.MessageType
	if tag == "" {
		tag = domain.MessageGeneral
	}
	s.userHasSent = true
	s.lastUserTag = tag
	return []Output{s.message(domain.RoleUser, text, tag, input)}
}

// OnFAResponse turns a structured formative-assessment event into chat
// messages and forwards it to the quiz engine as signals.
func (s *Synchronizer) OnFAResponse(resp domain.FAResponse) []Output {
	var out []Output
	if resp.FeedbackType != "" || resp.FeedbackText != "" {
		if text := strings.TrimSpace(resp.FeedbackText); text != "" {
			out = append(out, s.message(domain.RoleAssistant, text, domain.MessageFAFeedback, ""))
		}
		out = append(out, FASignal{Kind: FAFeedback, Response: resp})
	}
	if strings.TrimSpace(resp.QuestionText) != "" {
		out = append(out,
			s.message(domain.RoleAssistant, formatQuestion(resp), domain.MessageFAQuestion, ""),
			FASignal{Kind: FAQuestion, Response: resp},
		)
	}
	if resp.IsComplete {
		if text := strings.TrimSpace(resp.CompletionSummary); text != "" {
			out = append(out, s.message(domain.RoleAssistant, text, domain.MessageFAComplete, ""))
		}
		out = append(out, FASignal{Kind: FAComplete, Response: resp})
	}
	return out
}

// AppendAssistant persists a locally generated assistant message, such as
// the warmup closing line.
func (s *Synchronizer) AppendAssistant(text string, typ domain.MessageType) []Output {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []Output{s.message(domain.RoleAssistant, text, typ, "")}
}

func formatQuestion(resp domain.FAResponse) string {
	text := strings.TrimSpace(resp.QuestionText)
	if !resp.IsMCQ || len(resp.Options) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for i, opt := range resp.Options {
		fmt.Fprintf(&b, "\n%c) %s", 'A'+rune(i), opt)
	}
	return b.String()
}
