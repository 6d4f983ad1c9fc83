package transcript

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSync(sessionType domain.SessionType) *Synchronizer {
	s := New(Config{ConversationID: "conv-1", SessionType: sessionType})
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("%d", n)
	}
	return s
}

func persisted(out []Output) []domain.MessageRef {
	var refs []domain.MessageRef
	for _, o := range out {
		if p, ok := o.(PersistMessage); ok {
			refs = append(refs, p.Ref)
		}
	}
	return refs
}

func final(id, text string) domain.TranscriptSegment {
	return domain.TranscriptSegment{ID: id, Text: text, IsFinal: true, IsAgentOriginated: true}
}

func TestIsIntroMarker(t *testing.T) {
	assert.True(t, IsIntroMarker("Great, that covers channels. Let's do a quick check!"))
	assert.True(t, IsIntroMarker("How about a quick knowledge check?"))
	assert.True(t, IsIntroMarker("lets do a quick check"))
	assert.False(t, IsIntroMarker("Let's check the quickest path"))
}

func TestFirstVisitWelcomeIsPersisted(t *testing.T) {
	s := newSync(domain.SessionCourseWelcome)

	out := s.OnAgentTranscript(domain.TranscriptSegment{ID: "s1", Text: "Welc", IsAgentOriginated: true})
	require.Len(t, out, 1)
	assert.IsType(t, TypingUpdate{}, out[0])

	refs := persisted(s.OnAgentTranscript(final("s1", "Welcome to the course!")))
	require.Len(t, refs, 1)
	assert.Equal(t, domain.RoleAssistant, refs[0].Message.Role)
	assert.Equal(t, domain.MessageGeneral, refs[0].Message.MessageType)
	assert.Equal(t, domain.Pending, refs[0].State)
	assert.Equal(t, "conv-1", refs[0].Message.ConversationID)
	assert.Equal(t, int64(1), refs[0].Message.Seq)
}

func TestReturningWelcomeIsNeverPersisted(t *testing.T) {
	for _, st := range []domain.SessionType{domain.SessionCourseWelcomeBack, domain.SessionLessonWelcomeBack} {
		t.Run(string(st), func(t *testing.T) {
			s := newSync(st)
			var all []Output
			all = append(all, s.OnAgentTranscript(final("s1", "Welcome back!"))...)
			all = append(all, s.OnAgentTranscript(final("s2", "Last time we covered goroutines."))...)

			assert.Empty(t, persisted(all))
			require.Len(t, all, 2)
			tw, ok := all[0].(TransientWelcome)
			require.True(t, ok)
			assert.True(t, tw.First)
			assert.False(t, all[1].(TransientWelcome).First)
		})
	}
}

func TestRepliesTaggedLikeLastUserMessage(t *testing.T) {
	s := newSync(domain.SessionLessonWelcome)
	s.OnAgentTranscript(final("s1", "Hi there"))

	refs := persisted(s.OnUserTranscript(domain.UserTranscription{
		Text: "It's a typed pipe", IsFinal: true, InputType: domain.InputText, MessageType: domain.MessageFAAnswer,
	}))
	require.Len(t, refs, 1)
	assert.Equal(t, domain.RoleUser, refs[0].Message.Role)
	assert.Equal(t, domain.InputText, refs[0].Message.InputType)
	assert.True(t, s.UserHasSent())

	refs = persisted(s.OnAgentTranscript(final("s2", "Exactly right.")))
	require.Len(t, refs, 1)
	assert.Equal(t, domain.MessageFAAnswer, refs[0].Message.MessageType)

	s.OnUserTranscript(domain.UserTranscription{Text: "what next", IsFinal: true})
	refs = persisted(s.OnAgentTranscript(final("s3", "Let's keep going.")))
	require.Len(t, refs, 1)
	assert.Equal(t, domain.MessageGeneral, refs[0].Message.MessageType)
}

func TestUserInterimNotPersisted(t *testing.T) {
	s := newSync(domain.SessionLessonWelcome)
	out := s.OnUserTranscript(domain.UserTranscription{Text: "what is", InputType: domain.InputVoice})
	assert.Empty(t, persisted(out))
	assert.False(t, s.UserHasSent())
}

func TestVoiceDedupByTrimmedText(t *testing.T) {
	s := newSync(domain.SessionLessonWelcome)
	first := s.OnUserTranscript(domain.UserTranscription{Text: "hello", IsFinal: true, InputType: domain.InputVoice})
	dup := s.OnUserTranscript(domain.UserTranscription{Text: "  hello ", IsFinal: true, InputType: domain.InputVoice})
	typed := s.OnUserTranscript(domain.UserTranscription{Text: "hello", IsFinal: true, InputType: domain.InputText})

	assert.Len(t, persisted(first), 1)
	assert.Empty(t, persisted(dup))
	assert.Len(t, persisted(typed), 1, "typed text is never deduplicated")
}

func TestIntroMarkerPersistsAndOffers(t *testing.T) {
	s := newSync(domain.SessionLessonWelcomeBack)

	interim := s.OnAgentTranscript(domain.TranscriptSegment{ID: "s9", Text: "Let's do a quick check"})
	assert.Empty(t, persisted(interim), "intro path only runs on final segments")

	out := s.OnAgentTranscript(final("s9", "That's channels. Let's do a quick check on it."))
	require.Len(t, out, 2)
	msg := out[0].(PersistMessage)
	assert.Equal(t, domain.MessageFAIntro, msg.Ref.Message.MessageType)
	offer := out[1].(OfferAction)
	assert.Equal(t, domain.OfferFAIntro, offer.Offer.Type)
	assert.Equal(t, msg.Ref.LocalID, offer.Offer.AnchorMessageID)

	again := s.OnFAIntroComplete("channels", "That's channels. Let's do a quick check on it.")
	assert.Empty(t, again, "explicit intro signal for the same text is deduplicated")

	fresh := s.OnFAIntroComplete("select", "Now for select.")
	require.Len(t, fresh, 2)
	assert.Equal(t, "select", fresh[1].(OfferAction).Offer.Metadata["topic"])
}

func TestFAResponseMessagesAndSignals(t *testing.T) {
	s := newSync(domain.SessionLessonWelcome)
	two := 2
	out := s.OnFAResponse(domain.FAResponse{
		FeedbackType:   domain.FeedbackCorrect,
		FeedbackText:   "Correct!",
		QuestionNumber: &two,
		QuestionText:   "Which is buffered?",
		IsMCQ:          true,
		Options:        []string{"make(chan int)", "make(chan int, 1)"},
	})

	refs := persisted(out)
	require.Len(t, refs, 2)
	assert.Equal(t, domain.MessageFAFeedback, refs[0].Message.MessageType)
	assert.Equal(t, domain.MessageFAQuestion, refs[1].Message.MessageType)
	assert.Contains(t, refs[1].Message.Content, "B) make(chan int, 1)")

	var kinds []FASignalKind
	for _, o := range out {
		if sig, ok := o.(FASignal); ok {
			kinds = append(kinds, sig.Kind)
		}
	}
	assert.Equal(t, []FASignalKind{FAFeedback, FAQuestion}, kinds)

	done := s.OnFAResponse(domain.FAResponse{IsComplete: true, CompletionSummary: "All done"})
	require.Len(t, persisted(done), 1)
	assert.Equal(t, domain.MessageFAComplete, persisted(done)[0].Message.MessageType)
}

// Persisted count equals the number of distinct final segments no matter how
// interim and repeated finals interleave.
func TestDistinctFinalSegmentsPersistOnce(t *testing.T) {
	var events []domain.TranscriptSegment
	distinct := 0
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("seg-%d", i)
		text := fmt.Sprintf("Sentence number %d about goroutines.", i)
		events = append(events,
			domain.TranscriptSegment{ID: id, Text: text[:5]},
			domain.TranscriptSegment{ID: id, Text: text[:10]},
			final(id, text),
			final(id, text),
		)
		distinct++
		if i%5 == 0 {
			// A revised final for the same id with different length is distinct.
			events = append(events, final(id, text+" Indeed."))
			distinct++
		}
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]domain.TranscriptSegment(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		s := newSync(domain.SessionLessonWelcome)
		s.OnUserTranscript(domain.UserTranscription{Text: "go", IsFinal: true, InputType: domain.InputText})
		count := 0
		var lastSeq int64 = 1
		for _, seg := range shuffled {
			for _, ref := range persisted(s.OnAgentTranscript(seg)) {
				count++
				require.Greater(t, ref.Message.Seq, lastSeq)
				lastSeq = ref.Message.Seq
			}
		}
		assert.Equal(t, distinct, count)
	}
}

func TestStartSeqContinuesStoredHistory(t *testing.T) {
	s := New(Config{ConversationID: "c", SessionType: domain.SessionLessonWelcome, StartSeq: 41})
	refs := persisted(s.AppendAssistant("closing", domain.MessageWarmup))
	require.Len(t, refs, 1)
	assert.Equal(t, int64(42), refs[0].Message.Seq)
	assert.Equal(t, domain.MessageWarmup, refs[0].Message.MessageType)
	assert.Nil(t, s.AppendAssistant("   ", domain.MessageWarmup))
}
