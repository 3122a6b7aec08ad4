package services

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around array", "Here you go: [\"x\",\"y\"] hope it helps", `["x","y"]`},
		{"full width punctuation", "｛\"a\"：1，\"b\"：2｝", `{"a":1,"b":2}`},
		{"brace inside string", `{"a":"x}y"} trailing}`, `{"a":"x}y"}`},
		{"curly quotes", "{“name”: “Aria”}", `{"name": "Aria"}`},
		{"zero width and bom", "\ufeff{\"a\":\u200b1}", `{"a":1}`},
		{"no json", "nothing here", "nothing here"},
		{"stray closer", `[{"a":1}, {"b":2} ] ]`, `[{"a":1}, {"b":2} ]`},
		{"nested", `note {"a":{"b":1} }x`, `{"a":{"b":1} }`},
		{"unclosed", `{"a":{"b":1} and more`, `{"a":{"b":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestResponseCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newResponseCache(time.Minute, 2)
	c.put("a", []byte("1"))
	c.put("b", []byte("2"))
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", []byte("3"))
	assert.Equal(t, 2, c.len())
	_, ok = c.get("b")
	assert.False(t, ok)
	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(got))
}

func TestResponseCacheExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newResponseCache(time.Minute, 10)
	c.now = func() time.Time { return now }
	c.put("k", []byte("v"))

	now = now.Add(2 * time.Minute)
	_, ok := c.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}

func TestCacheKeySeparatesParts(t *testing.T) {
	assert.NotEqual(t, cacheKey("ab", "c"), cacheKey("a", "bc"))
	assert.Len(t, cacheKey("x"), 64)
}

func TestStructuredCompletionIsCached(t *testing.T) {
	svc, fake := newFakeLLM(staticText("```json\n[\"one\",\"two\"]\n```"))
	req := llm.CompletionRequest{Prompt: "beats", ResponseSchema: &llm.Schema{Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}}}

	var first, second []string
	require.NoError(t, svc.CreateStructuredCompletion(context.Background(), req, &first))
	require.NoError(t, svc.CreateStructuredCompletion(context.Background(), req, &second))

	assert.Equal(t, []string{"one", "two"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.callCount())
}

func TestPlainCompletionIsNotCached(t *testing.T) {
	svc, fake := newFakeLLM(staticText("prose"))
	for i := 0; i < 2; i++ {
		resp, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "prose", resp.Text)
	}
	assert.Equal(t, 2, fake.callCount())
}

func TestStructuredCompletionRequiresSchema(t *testing.T) {
	svc, _ := newFakeLLM(staticText("{}"))
	var out map[string]any
	assert.Error(t, svc.CreateStructuredCompletion(context.Background(), llm.CompletionRequest{Prompt: "p"}, &out))
}

func TestStructuredCompletionParseFailure(t *testing.T) {
	svc, _ := newFakeLLM(staticText("I cannot do that"))
	var out []string
	err := svc.CreateStructuredCompletion(context.Background(), llm.CompletionRequest{
		Prompt:         "p",
		ResponseSchema: &llm.Schema{Type: llm.TypeArray},
	}, &out)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeError, apperrors.TypeOf(err))
}

func TestNotReadyService(t *testing.T) {
	svc := NewLLMServiceWithProvider("", nil)
	assert.False(t, svc.IsReady())

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailableError(err))
	assert.True(t, errors.Is(err, llm.ErrProviderNotReady))
}

func TestTimeoutIsMapped(t *testing.T) {
	fake := &fakeProvider{}
	fake.respond = func(llm.CompletionRequest) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "", context.DeadlineExceeded
	}
	svc := NewLLMServiceWithProvider("fake", fake)
	svc.SetTimeout(10 * time.Millisecond)

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeoutError(err))
}

func TestProviderErrorIsUnavailable(t *testing.T) {
	svc, _ := newFakeLLM(func(llm.CompletionRequest) (string, error) {
		return "", errors.New("boom")
	})
	metrics := utils.NewAppMetricsWith(utils.NewMetricsCollector(), utils.NewLogger(zap.NewNop()))
	svc.SetMetrics(metrics)

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "p"})
	assert.True(t, apperrors.IsUnavailableError(err))
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("errors_llm_completion"))
}

func TestCancelledContextPassesThrough(t *testing.T) {
	svc, _ := newFakeLLM(staticText("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Complete(ctx, llm.CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImagesUnsupportedIsValidation(t *testing.T) {
	svc, _ := newFakeLLM(staticText(""))
	_, err := svc.GenerateImage(context.Background(), "a portrait")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.ErrorIs(t, err, llm.ErrImagesUnsupported)
}

func TestResolveModel(t *testing.T) {
	svc, fake := newFakeLLM(staticText("ok"))
	assert.Equal(t, "fake-1", svc.GetDefaultModel())

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "p", Model: " custom "})
	require.NoError(t, err)
	assert.Equal(t, "custom", fake.requests()[0].Model)
}

func TestUpdateProviderUnknown(t *testing.T) {
	svc, _ := newFakeLLM(staticText("ok"))
	err := svc.UpdateProvider("no-such-provider", map[string]string{"api_key": "k"})
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
	assert.False(t, svc.IsReady())
	assert.Contains(t, svc.GetReadyState(), "Configuration failed")
}

func TestRateLimitWaitsForToken(t *testing.T) {
	svc, _ := newFakeLLM(staticText("ok"))
	svc.SetRateLimit(1)

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Complete(ctx, llm.CompletionRequest{Prompt: "p"})
	assert.Error(t, err)
}
