package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// fakeChat records the last request and returns a scripted completion.
type fakeChat struct {
	lastParams openai.ChatCompletionNewParams
	content    string
	err        error
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestGenerateBuildsMessages(t *testing.T) {
	fake := &fakeChat{content: "a warm reply"}
	c := &Client{chat: fake, model: DefaultModel}

	history := []models.Turn{
		{Role: models.RoleUser, Content: "how did I sleep?"},
		{Role: models.RoleAssistant, Content: "you slept well"},
	}
	reply, err := c.Generate(context.Background(), "system persona", history, "and last week?", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "a warm reply" {
		t.Errorf("expected scripted reply, got %q", reply)
	}

	// system + 2 history turns + current user input
	if got := len(fake.lastParams.Messages); got != 4 {
		t.Errorf("expected 4 messages, got %d", got)
	}
	if fake.lastParams.Model != openai.ChatModel(DefaultModel) {
		t.Errorf("unexpected model: %s", fake.lastParams.Model)
	}
	if !fake.lastParams.MaxTokens.Valid() || fake.lastParams.MaxTokens.Value != 500 {
		t.Errorf("expected max tokens 500, got %+v", fake.lastParams.MaxTokens)
	}
}

func TestGenerateOmitsTokenBudgetWhenZero(t *testing.T) {
	fake := &fakeChat{content: "reply"}
	c := &Client{chat: fake, model: DefaultModel}
	if _, err := c.Generate(context.Background(), "sys", nil, "hi", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.lastParams.MaxTokens.Valid() {
		t.Error("zero budget should leave max tokens unset")
	}
}

func TestGeneratePropagatesErrors(t *testing.T) {
	wantErr := errors.New("upstream unavailable")
	c := &Client{chat: &fakeChat{err: wantErr}, model: DefaultModel}
	if _, err := c.Generate(context.Background(), "sys", nil, "hi", 100); !errors.Is(err, wantErr) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	c := &Client{chat: &emptyChat{}, model: DefaultModel}
	if _, err := c.Generate(context.Background(), "sys", nil, "hi", 100); err == nil {
		t.Error("empty choice list should error")
	}
}

type emptyChat struct{}

func (emptyChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{}, nil
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("missing API key should error")
	}
	c, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "gpt-4o" {
		t.Errorf("model override not applied: %s", c.model)
	}
}
