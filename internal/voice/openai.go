package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hackgods/doctalk-booking/internal/dialogue"
)

const (
	defaultChatModel = "gpt-4o-mini"
	defaultVoice     = "alloy"
)

const understandPrompt = `You analyze what a caller said to a medical clinic's booking line.
Reply with a single JSON object: {"intent": string, "confidence": number, "entities": object}.
intent is one of: book_appointment, cancel_appointment, reschedule_appointment, confirm_appointment,
check_availability, inquiry, emergency, general.
entities may contain patient_name, doctor, date, time, reason, phone. Copy values as the caller said them
("tomorrow", "2 PM"); use null for anything not mentioned. A short "yes" after a booking summary is confirm_appointment.`

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIUnderstander classifies transcripts with a JSON-mode chat completion.
type OpenAIUnderstander struct {
	client chatClient
	model  string
}

func NewOpenAIUnderstander(client chatClient, model string) *OpenAIUnderstander {
	if model == "" {
		model = defaultChatModel
	}
	return &OpenAIUnderstander{client: client, model: model}
}

func (u *OpenAIUnderstander) Understand(ctx context.Context, transcript string, history []dialogue.Turn) (Understanding, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: understandPrompt},
	}
	for _, t := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.UserText},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.SystemText},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: transcript})

	resp, err := u.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       u.model,
		Messages:    messages,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Understanding{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Understanding{}, errors.New("openai returned no choices")
	}
	return parseUnderstanding(resp.Choices[0].Message.Content)
}

// parseUnderstanding decodes the model's JSON. Entity values of any JSON
// type are kept as strings; null stays unfilled.
func parseUnderstanding(content string) (Understanding, error) {
	var raw struct {
		Intent     string         `json:"intent"`
		Confidence float64        `json:"confidence"`
		Entities   map[string]any `json:"entities"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return Understanding{}, fmt.Errorf("decode understanding: %w", err)
	}

	u := Understanding{
		Intent:     raw.Intent,
		Confidence: raw.Confidence,
		Entities:   make(map[string]*string, len(raw.Entities)),
	}
	for key, val := range raw.Entities {
		switch v := val.(type) {
		case nil:
			u.Entities[key] = nil
		case string:
			s := v
			u.Entities[key] = &s
		default:
			s := fmt.Sprint(v)
			u.Entities[key] = &s
		}
	}
	return u, nil
}

// OpenAITranscriber uses the Whisper transcription endpoint.
type OpenAITranscriber struct {
	client *openai.Client
}

func NewOpenAITranscriber(client *openai.Client) *OpenAITranscriber {
	return &OpenAITranscriber{client: client}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if format == "" {
		format = "wav"
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "utterance." + format,
		Reader:   bytes.NewReader(audio),
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// OpenAISynthesizer renders mp3 speech.
type OpenAISynthesizer struct {
	client *openai.Client
	voice  string
}

func NewOpenAISynthesizer(client *openai.Client, voice string) *OpenAISynthesizer {
	if voice == "" {
		voice = defaultVoice
	}
	return &OpenAISynthesizer{client: client, voice: voice}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return audio, nil
}

// NewOpenAIClient builds the shared API client.
func NewOpenAIClient(apiKey string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return openai.NewClient(apiKey), nil
}
