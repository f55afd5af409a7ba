package voice

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
)

type stubTurns struct {
	requests []booking.TurnRequest
	result   booking.Result
}

func (s *stubTurns) HandleTurn(_ context.Context, req booking.TurnRequest) booking.Result {
	s.requests = append(s.requests, req)
	return s.result
}

func (s *stubTurns) History(context.Context, string) ([]dialogue.Turn, error) {
	return []dialogue.Turn{{UserText: "hi", SystemText: "hello"}}, nil
}

type stubSTT struct {
	text string
	err  error
}

func (s stubSTT) Transcribe(context.Context, []byte, string) (string, error) { return s.text, s.err }

type stubNLU struct {
	u   Understanding
	err error
}

func (s stubNLU) Understand(context.Context, string, []dialogue.Turn) (Understanding, error) {
	return s.u, s.err
}

type stubTTS struct {
	err  error
	said []string
}

func (s *stubTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.said = append(s.said, text)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3"), nil
}

func strPtr(s string) *string { return &s }

func TestProcessAudioEndToEnd(t *testing.T) {
	turns := &stubTurns{result: booking.Result{Action: booking.ActionConfirmationRequired, Message: "Booking with **Dr. Smith** tomorrow?"}}
	tts := &stubTTS{}
	nlu := stubNLU{u: Understanding{Intent: booking.IntentBook, Entities: map[string]*string{"doctor": strPtr("Dr. Smith")}}}
	p := NewPipeline(turns, nlu, WithTranscriber(stubSTT{text: " book with Dr. Smith "}), WithSynthesizer(tts))

	reply := p.ProcessAudio(context.Background(), "s1", []byte{1, 2, 3}, "wav")

	require.Len(t, turns.requests, 1)
	req := turns.requests[0]
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "book with Dr. Smith", req.Transcript)
	assert.Equal(t, booking.IntentBook, req.Intent)
	assert.Equal(t, "Dr. Smith", *req.Entities["doctor"])

	assert.Equal(t, booking.ActionConfirmationRequired, reply.Result.Action)
	assert.Equal(t, "Booking with Doctor Smith tomorrow?", reply.Text)
	assert.Equal(t, []byte("mp3"), reply.Audio)
	assert.Equal(t, []string{"Booking with Doctor Smith tomorrow?"}, tts.said)
}

func TestEmptyAudioAndTranscript(t *testing.T) {
	turns := &stubTurns{}
	p := NewPipeline(turns, stubNLU{}, WithTranscriber(stubSTT{text: "   "}))

	reply := p.ProcessAudio(context.Background(), "s1", nil, "wav")
	assert.Equal(t, MessageNoAudio, reply.Result.Message)

	reply = p.ProcessAudio(context.Background(), "s1", []byte{1}, "wav")
	assert.Equal(t, MessageNoTranscript, reply.Result.Message)
	assert.Equal(t, booking.ActionNoAction, reply.Result.Action)
	assert.Empty(t, turns.requests)
}

func TestCollaboratorFailuresBecomeErrorReplies(t *testing.T) {
	turns := &stubTurns{}

	p := NewPipeline(turns, stubNLU{}, WithTranscriber(stubSTT{err: errors.New("stt down")}))
	reply := p.ProcessAudio(context.Background(), "s1", []byte{1}, "wav")
	assert.Equal(t, booking.ActionError, reply.Result.Action)
	assert.Equal(t, booking.MessageError, reply.Result.Message)

	p = NewPipeline(turns, stubNLU{err: errors.New("nlu down")})
	reply = p.ProcessText(context.Background(), "s1", "book please")
	assert.Equal(t, booking.ActionError, reply.Result.Action)
	assert.Equal(t, "book please", reply.Transcript)
	assert.Empty(t, turns.requests)

	p = NewPipeline(turns, stubNLU{})
	reply = p.ProcessAudio(context.Background(), "s1", []byte{1}, "wav")
	assert.Equal(t, booking.ActionError, reply.Result.Action, "no transcriber configured")
}

func TestSynthesisFailureDegradesToText(t *testing.T) {
	turns := &stubTurns{result: booking.Result{Action: booking.ActionAppointmentCreated, Message: "Your appointment is confirmed."}}
	p := NewPipeline(turns, stubNLU{u: Understanding{Intent: booking.IntentConfirm}}, WithSynthesizer(&stubTTS{err: errors.New("tts down")}))

	reply := p.ProcessText(context.Background(), "s1", "yes")
	assert.Equal(t, booking.ActionAppointmentCreated, reply.Result.Action)
	assert.Equal(t, "Your appointment is confirmed.", reply.Text)
	assert.Nil(t, reply.Audio)
}

func TestSpeechText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Dr. Smith is free", "Doctor Smith is free"},
		{"# Options\n- **Monday**\n- *Tuesday*", "Options Monday Tuesday"},
		{"See [our site](https://example.com) or `call`", "See our site or call"},
		{"Dr.Brown", "Doctor Brown"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SpeechText(tt.in))
		})
	}
}

type stubChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func TestOpenAIUnderstander(t *testing.T) {
	chat := &stubChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			Content: `{"intent":"book_appointment","confidence":0.92,"entities":{"doctor":"Dr. Smith","time":14,"date":null}}`,
		}}},
	}}
	u := NewOpenAIUnderstander(chat, "")

	got, err := u.Understand(context.Background(), "book Dr. Smith at 14", []dialogue.Turn{{UserText: "hi", SystemText: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, booking.IntentBook, got.Intent)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	assert.Equal(t, "Dr. Smith", *got.Entities["doctor"])
	assert.Equal(t, "14", *got.Entities["time"])
	assert.Nil(t, got.Entities["date"])

	assert.Equal(t, defaultChatModel, chat.req.Model)
	require.Len(t, chat.req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
	assert.Equal(t, "book Dr. Smith at 14", chat.req.Messages[3].Content)
}

func TestOpenAIUnderstanderErrors(t *testing.T) {
	_, err := NewOpenAIUnderstander(&stubChat{err: errors.New("rate limited")}, "m").Understand(context.Background(), "hi", nil)
	assert.Error(t, err)

	_, err = NewOpenAIUnderstander(&stubChat{}, "m").Understand(context.Background(), "hi", nil)
	assert.Error(t, err)

	_, err = parseUnderstanding("not json")
	assert.Error(t, err)
}

func TestKeywordUnderstander(t *testing.T) {
	var k KeywordUnderstander
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"I'd like to book an appointment", booking.IntentBook},
		{"please cancel my visit", booking.IntentCancel},
		{"can I reschedule?", booking.IntentReschedule},
		{"Yes, that's right", booking.IntentConfirm},
		{"I have chest pain", booking.IntentEmergency},
		{"is Dr. Brown available friday", booking.IntentCheckAvailability},
		{"hello there", booking.IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			u, err := k.Understand(ctx, tt.text, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.Intent)
		})
	}

	u, err := k.Understand(ctx, "the one with Dr. Brown", []dialogue.Turn{{UserText: "cancel my appointment"}})
	require.NoError(t, err)
	assert.Equal(t, booking.IntentCancel, u.Intent)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("")
	assert.Error(t, err)

	c, err := NewOpenAIClient("sk-test")
	require.NoError(t, err)
	assert.NotNil(t, NewOpenAITranscriber(c))
	assert.NotNil(t, NewOpenAISynthesizer(c, ""))
}
