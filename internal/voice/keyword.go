package voice

import (
	"context"
	"regexp"

	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
)

// KeywordUnderstander is a rule-based intent classifier for running
// without a hosted model. It supplies no entities; the orchestrator's
// pattern extractor reads them from the transcript.
type KeywordUnderstander struct{}

var keywordIntents = []struct {
	intent string
	re     *regexp.Regexp
}{
	{booking.IntentEmergency, regexp.MustCompile(`(?i)\b(emergency|chest pain|can't breathe|cannot breathe|bleeding|unconscious)\b`)},
	{booking.IntentCancel, regexp.MustCompile(`(?i)\bcancel`)},
	{booking.IntentReschedule, regexp.MustCompile(`(?i)\b(reschedule|move my|change my appointment)`)},
	{booking.IntentConfirm, regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|correct|confirm|book it|that's right|sounds good)\b`)},
	{booking.IntentCheckAvailability, regexp.MustCompile(`(?i)\b(available|availability|free slots?|openings?)\b`)},
	{booking.IntentBook, regexp.MustCompile(`(?i)\b(book|appointment|schedule|see dr|see doctor|my name is)\b`)},
	{booking.IntentInquiry, regexp.MustCompile(`(?i)\b(hours|where|address|insurance|price|cost)\b`)},
}

func (KeywordUnderstander) Understand(_ context.Context, transcript string, history []dialogue.Turn) (Understanding, error) {
	if intent, ok := classify(transcript); ok {
		return Understanding{Intent: intent, Confidence: 0.6}, nil
	}
	// An utterance with no keyword continues the latest task in progress.
	for i := len(history) - 1; i >= 0; i-- {
		intent, ok := classify(history[i].UserText)
		if ok && continues[intent] {
			return Understanding{Intent: intent, Confidence: 0.4}, nil
		}
	}
	return Understanding{Intent: booking.IntentGeneral, Confidence: 0.3}, nil
}

var continues = map[string]bool{
	booking.IntentBook:       true,
	booking.IntentCancel:     true,
	booking.IntentReschedule: true,
}

func classify(text string) (string, bool) {
	for _, k := range keywordIntents {
		if k.re.MatchString(text) {
			return k.intent, true
		}
	}
	return "", false
}
