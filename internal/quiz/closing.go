package quiz

import "fmt"

// Tier classifies warmup performance for the closing message.
type Tier string

const (
	TierAllCorrect Tier = "all_correct"
	TierPartial    Tier = "partial"
	TierAllSkipped Tier = "all_skipped"
	TierMixed      Tier = "mixed"
)

// TierFor selects the performance tier. Partial means every question was
// attempted but not all were correct; Mixed means some were skipped.
func TierFor(s Stats) Tier {
	total := s.Total()
	switch {
	case total > 0 && s.Correct == total:
		return TierAllCorrect
	case total > 0 && s.Skipped == total:
		return TierAllSkipped
	case s.Skipped == 0:
		return TierPartial
	default:
		return TierMixed
	}
}

// WarmupClosing returns the templated message posted when a warmup ends.
func WarmupClosing(s Stats) (Tier, string) {
	tier := TierFor(s)
	total := s.Total()
	switch tier {
	case TierAllCorrect:
		return tier, fmt.Sprintf("Perfect! You got all %d warm-up questions right. Let's dive into the lesson.", total)
	case TierAllSkipped:
		return tier, "No problem, we'll skip the warm-up for now. Let's get started with the lesson."
	case TierPartial:
		return tier, fmt.Sprintf("Nice effort! You got %d of %d right. This lesson will fill in the gaps.", s.Correct, total)
	default:
		return tier, fmt.Sprintf("Thanks for warming up! You answered %d and skipped %d. Let's begin the lesson.", total-s.Skipped, s.Skipped)
	}
}
