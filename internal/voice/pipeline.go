// Package voice connects speech-to-text, language understanding and
// text-to-speech around the booking orchestrator.
package voice

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
	"github.com/hackgods/doctalk-booking/internal/observability/metrics"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

const (
	MessageNoAudio      = "I didn't hear anything. Could you please repeat that?"
	MessageNoTranscript = "I couldn't understand what you said. Could you please speak clearly and try again?"
)

// Transcriber turns raw audio into text. An empty transcript is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Understanding is the NLU reading of one utterance.
type Understanding struct {
	Intent     string             `json:"intent"`
	Confidence float64            `json:"confidence"`
	Entities   map[string]*string `json:"entities"`
}

// Understander classifies a transcript, given the recent conversation.
type Understander interface {
	Understand(ctx context.Context, transcript string, history []dialogue.Turn) (Understanding, error)
}

// Synthesizer renders reply text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TurnHandler is the orchestrator surface the pipeline drives.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req booking.TurnRequest) booking.Result
	History(ctx context.Context, sessionID string) ([]dialogue.Turn, error)
}

// Reply is what goes back to the caller for one utterance.
type Reply struct {
	Transcript string         `json:"transcript"`
	Intent     string         `json:"intent,omitempty"`
	Result     booking.Result `json:"result"`
	Text       string         `json:"text"`
	Audio      []byte         `json:"audio,omitempty"`
}

type Pipeline struct {
	turns   TurnHandler
	nlu     Understander
	stt     Transcriber
	tts     Synthesizer
	metrics *metrics.BookingMetrics
	log     *logger.Logger
}

type Option func(*Pipeline)

func WithTranscriber(t Transcriber) Option {
	return func(p *Pipeline) { p.stt = t }
}

func WithSynthesizer(s Synthesizer) Option {
	return func(p *Pipeline) { p.tts = s }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = logger.OrNop(l) }
}

func NewPipeline(turns TurnHandler, nlu Understander, opts ...Option) *Pipeline {
	p := &Pipeline{turns: turns, nlu: nlu, log: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessAudio runs one spoken utterance end to end. Collaborator failures
// never escape: they become an error reply, and a failed synthesis leaves
// the reply text-only.
func (p *Pipeline) ProcessAudio(ctx context.Context, sessionID string, audio []byte, format string) Reply {
	if len(audio) == 0 {
		return p.guidance(ctx, "", MessageNoAudio)
	}
	if p.stt == nil {
		p.log.WithSession(sessionID).Error("no transcriber configured")
		return p.failure(ctx, "", "stt")
	}

	transcript, err := p.stt.Transcribe(ctx, audio, format)
	if err != nil {
		p.log.WithSession(sessionID).Error("transcription failed", zap.Error(err))
		return p.failure(ctx, "", "stt")
	}
	return p.ProcessText(ctx, sessionID, transcript)
}

// ProcessText runs an already transcribed utterance.
func (p *Pipeline) ProcessText(ctx context.Context, sessionID, transcript string) Reply {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return p.guidance(ctx, "", MessageNoTranscript)
	}
	log := p.log.WithSession(sessionID)

	history, err := p.turns.History(ctx, sessionID)
	if err != nil {
		log.Warn("history unavailable, understanding without it", zap.Error(err))
	}

	u, err := p.nlu.Understand(ctx, transcript, history)
	if err != nil {
		log.Error("understanding failed", zap.Error(err))
		return p.failure(ctx, transcript, "nlu")
	}

	res := p.turns.HandleTurn(ctx, booking.TurnRequest{
		SessionID:  sessionID,
		Transcript: transcript,
		Intent:     u.Intent,
		Entities:   u.Entities,
	})

	reply := Reply{Transcript: transcript, Intent: u.Intent, Result: res}
	p.speak(ctx, &reply)
	return reply
}

func (p *Pipeline) guidance(ctx context.Context, transcript, msg string) Reply {
	reply := Reply{
		Transcript: transcript,
		Result: booking.Result{
			Action:      booking.ActionNoAction,
			Message:     msg,
			Suggestions: []string{"Speak a little closer to the microphone"},
		},
	}
	p.speak(ctx, &reply)
	return reply
}

func (p *Pipeline) failure(ctx context.Context, transcript, stage string) Reply {
	p.metrics.ObserveCollaboratorFailure(stage)
	reply := Reply{Transcript: transcript, Result: booking.ErrorResult()}
	p.speak(ctx, &reply)
	return reply
}

func (p *Pipeline) speak(ctx context.Context, reply *Reply) {
	reply.Text = SpeechText(reply.Result.Message)
	if p.tts == nil || reply.Text == "" {
		return
	}
	audio, err := p.tts.Synthesize(ctx, reply.Text)
	if err != nil {
		p.metrics.ObserveCollaboratorFailure("tts")
		p.log.Warn("speech synthesis failed, replying with text only", zap.Error(err))
		return
	}
	reply.Audio = audio
}

var (
	emphasisRe = regexp.MustCompile(`\*\*|__|\*|` + "`")
	headingRe  = regexp.MustCompile(`(?m)^\s*#+\s*`)
	bulletRe   = regexp.MustCompile(`(?m)^\s*[-*]\s+`)
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	doctorRe   = regexp.MustCompile(`\bDr\.\s*`)
)

// SpeechText prepares text for synthesis: markdown is removed and "Dr."
// is spelled out.
func SpeechText(text string) string {
	s := linkRe.ReplaceAllString(text, "$1")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	s = doctorRe.ReplaceAllString(s, "Doctor ")
	return strings.Join(strings.Fields(s), " ")
}
