package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	CompletionModel string
	Timeout         time.Duration
	// HTTPClient is optional and will default to http.DefaultClient
	HTTPClient *http.Client
}

// OpenAI talks to an OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAI creates a provider. Empty models fall back to whisper-1 / gpt-4o-mini.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openai.Whisper1
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

// Transcribe sends canonical audio to the speech recognition endpoint.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.cfg.TranscribeModel,
		FilePath: "audio.mp3",
		Reader:   bytes.NewReader(audio),
		Prompt:   opts.Prompt,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", mapError(ctx, "transcribe", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Complete runs a chat completion with a system and a user message.
func (o *OpenAI) Complete(ctx context.Context, req Completion) (*CompletionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
		{Role: openai.ChatMessageRoleUser, Content: req.User},
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.CompletionModel,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, mapError(ctx, "complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{Op: "complete", Status: http.StatusOK, Body: "response contained no choices"}
	}

	return &CompletionResult{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func mapError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Op: op, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &UpstreamError{Op: op, Status: reqErr.HTTPStatusCode, Body: body}
	}

	return fmt.Errorf("%s: %w", op, err)
}
