package services

import (
	"context"
	"sync"

	"github.com/Corphon/NovellaStudio/internal/llm"
)

// fakeProvider 按请求脚本化返回结果
type fakeProvider struct {
	mu      sync.Mutex
	respond func(req llm.CompletionRequest) (string, error)
	image   func(req llm.ImageRequest) (*llm.ImageResponse, error)
	calls   []llm.CompletionRequest
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                    { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string       { return []string{"fake-1"} }

func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text, ModelName: req.Model, TokensUsed: 10, ProviderName: "fake"}, nil
}

func (f *fakeProvider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	if f.image == nil {
		return nil, llm.ErrImagesUnsupported
	}
	return f.image(req)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) requests() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.calls...)
}

func staticText(text string) func(llm.CompletionRequest) (string, error) {
	return func(llm.CompletionRequest) (string, error) { return text, nil }
}

func newFakeLLM(respond func(llm.CompletionRequest) (string, error)) (*LLMService, *fakeProvider) {
	fake := &fakeProvider{respond: respond}
	return NewLLMServiceWithProvider("fake", fake), fake
}
