package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func TestAnswerInquiry_Success(t *testing.T) {
	mockResp := &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Sebaiknya setelah makan ya."}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := &Client{chat: mock}

	out, err := client.AnswerInquiry(context.Background(), "obat ini diminum kapan?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Sebaiknya setelah makan ya." {
		t.Errorf("unexpected answer: %q", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system+user messages, got %d", len(mock.params.Messages))
	}
}

func TestAnswerInquiry_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.AnswerInquiry(context.Background(), "halo")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestAnswerInquiry_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: &openai.ChatCompletion{}}}
	_, err := client.AnswerInquiry(context.Background(), "halo")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}
