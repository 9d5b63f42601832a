// Package genai provides LLM-backed answers for free-text patient inquiries
// using the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the completion returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// inquirySystemPrompt constrains answers to short, safe Indonesian replies.
const inquirySystemPrompt = "Anda adalah asisten kesehatan untuk layanan pengingat pasien. " +
	"Jawab pertanyaan pasien dalam Bahasa Indonesia dengan singkat, ramah, dan hati-hati. " +
	"Jangan memberikan diagnosis atau mengubah dosis obat. " +
	"Untuk keluhan serius, sarankan pasien menghubungi tenaga kesehatan."

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service for answering inquiries.
type Client struct {
	chat chatService
}

// NewClient initializes a client using the OPENAI_API_KEY environment variable.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: &cli.Chat.Completions}, nil
}

// AnswerInquiry generates a short answer for a patient question.
func (c *Client) AnswerInquiry(ctx context.Context, question string) (string, error) {
	slog.Debug("GenAI answering inquiry", "question_len", len(question))
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(inquirySystemPrompt),
			openai.UserMessage(question),
		},
	})
	if err != nil {
		slog.Error("GenAI completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
