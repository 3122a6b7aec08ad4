package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/Corphon/NovellaStudio/internal/storage"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dnaJSON = `{"title":"The Vault","premise":"A heist","tone":"Tense","writingStyle":"Clipped","plotOutline":"They steal it.","characters":[{"name":"Mara","role":"Thief"}],"worldItems":[{"name":"Vault","category":"Location"}]}`

// stubProvider 返回固定文本的模型
type stubProvider struct {
	mu      sync.Mutex
	respond func(req llm.CompletionRequest) (string, error)
}

func (p *stubProvider) Initialize(map[string]string) error { return nil }
func (p *stubProvider) GetName() string                    { return "stub" }
func (p *stubProvider) GetSupportedModels() []string       { return []string{"stub-1"} }

func (p *stubProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	respond := p.respond
	p.mu.Unlock()

	text, err := respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text, ProviderName: "stub"}, nil
}

func (p *stubProvider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	return &llm.ImageResponse{Data: "aW1n", MIMEType: "image/png"}, nil
}

func replyWith(text string) func(llm.CompletionRequest) (string, error) {
	return func(llm.CompletionRequest) (string, error) { return text, nil }
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	store   *store.Store
}

func newTestServer(t *testing.T, respond func(llm.CompletionRequest) (string, error), opts RouterOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	nop := utils.NewLogger(zap.NewNop())
	st, err := store.Open(context.Background(), storage.NewMemoryBackend(), nop)
	require.NoError(t, err)

	llmService := services.NewLLMServiceWithProvider("stub", &stubProvider{respond: respond})
	llmService.SetLogger(nop)
	progress := services.NewProgressService()
	writer := services.NewWriterService(llmService, st, progress)
	writer.SetLogger(nop)
	importer := services.NewImportService(writer, st, progress)
	importer.SetLogger(nop)
	exporter := services.NewExportService(st, t.TempDir())
	metrics := utils.NewAppMetricsWith(utils.NewMetricsCollector(), nop)
	hub := NewStoryHub(nop)
	t.Cleanup(hub.Close)

	h := NewHandler(st, llmService, writer, importer, exporter, progress, metrics, hub)
	opts.DebugMode = true
	opts.Logger = nop
	return &testServer{router: NewRouter(h, opts), handler: h, store: st}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// envelope 解析标准响应，data 解码到 out
func envelope(t *testing.T, w *httptest.ResponseRecorder, out interface{}) APIResponse {
	t.Helper()
	var raw struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if out != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, out))
	}
	return raw.APIResponse
}

func seedChapter(t *testing.T, st *store.Store, content string) (models.Story, models.Chapter) {
	t.Helper()
	ctx := context.Background()
	story, err := st.Create(ctx, models.LanguageEnglish)
	require.NoError(t, err)
	chapter, err := st.AddChapter(ctx, story.ID)
	require.NoError(t, err)
	chapter, err = st.UpdateChapter(ctx, story.ID, chapter.ID, store.ChapterPatch{Content: &content})
	require.NoError(t, err)
	return story, chapter
}

func TestCreateAndListStories(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})

	w := s.do(t, http.MethodPost, "/api/stories", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Story
	resp := envelope(t, w, &created)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, w.Header().Get(requestIDHeader))

	w = s.do(t, http.MethodGet, "/api/stories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Stories  []models.Story `json:"stories"`
		ActiveID string         `json:"active_id"`
		Count    int            `json:"count"`
	}
	envelope(t, w, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, created.ID, list.ActiveID)
}

func TestCreateStoryRejectsUnknownLanguage(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})

	w := s.do(t, http.MethodPost, "/api/stories", map[string]string{"language": "fr"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.store.List())
}

func TestStoryNotFoundEnvelope(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})

	w := s.do(t, http.MethodGet, "/api/stories/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	resp := envelope(t, w, nil)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorStoryNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "missing")
}

func TestActiveStory(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})

	w := s.do(t, http.MethodGet, "/api/stories/active", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorNoActiveStory, envelope(t, w, nil).Error.Code)

	first, _ := seedChapter(t, s.store, "one")
	seedChapter(t, s.store, "two")

	w = s.do(t, http.MethodPut, "/api/stories/active", map[string]string{"id": first.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var active models.Story
	envelope(t, s.do(t, http.MethodGet, "/api/stories/active", nil), &active)
	assert.Equal(t, first.ID, active.ID)
}

func TestUpdateStoryField(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	story, _ := seedChapter(t, s.store, "")

	w := s.do(t, http.MethodPut, "/api/stories/"+story.ID+"/fields/title", map[string]interface{}{"value": "Glass City"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Story
	envelope(t, w, &updated)
	assert.Equal(t, "Glass City", updated.Title)
	assert.GreaterOrEqual(t, updated.LastUpdated, story.LastUpdated)

	w = s.do(t, http.MethodPut, "/api/stories/"+story.ID+"/fields/id", map[string]interface{}{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", envelope(t, w, nil).Error.Code)

	w = s.do(t, http.MethodPut, "/api/stories/"+story.ID+"/fields/genres", map[string]interface{}{"value": "Fantasy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChapterEditing(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	story, chapter := seedChapter(t, s.store, "héllo world")
	base := "/api/stories/" + story.ID + "/chapters/" + chapter.ID

	w := s.do(t, http.MethodPost, base+"/insert", map[string]interface{}{"cursor": 5, "text": "!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Chapter
	envelope(t, w, &got)
	assert.Equal(t, "héllo! world", got.Content)

	w = s.do(t, http.MethodPost, base+"/append", map[string]interface{}{"text": "The end."})
	envelope(t, w, &got)
	assert.Equal(t, "héllo! world\n\nThe end.", got.Content)

	w = s.do(t, http.MethodPatch, base, map[string]interface{}{"title": "Opening"})
	envelope(t, w, &got)
	assert.Equal(t, "Opening", got.Title)
	assert.Equal(t, "héllo! world\n\nThe end.", got.Content)

	w = s.do(t, http.MethodPatch, base, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/stories/"+story.ID+"/chapters/nope/append", map[string]interface{}{"text": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorChapterNotFound, envelope(t, w, nil).Error.Code)
}

func TestCharacterAndWorldCRUD(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	story, _ := seedChapter(t, s.store, "")
	base := "/api/stories/" + story.ID

	w := s.do(t, http.MethodPost, base+"/characters", models.Character{Name: "Aria"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var c models.Character
	envelope(t, w, &c)
	assert.NotEmpty(t, c.ID)

	w = s.do(t, http.MethodPut, base+"/characters/"+c.ID, models.Character{Name: "Aria Vale"})
	envelope(t, w, &c)
	assert.Equal(t, "Aria Vale", c.Name)

	w = s.do(t, http.MethodPost, base+"/world", models.WorldItem{Name: "Spire", Category: "location"})
	var item models.WorldItem
	envelope(t, w, &item)
	assert.Equal(t, models.WorldLocation, item.Category)

	got, err := s.store.Get(story.ID)
	require.NoError(t, err)
	assert.Len(t, got.Characters, 1)
	assert.Len(t, got.WorldItems, 1)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, base+"/characters/"+c.ID, nil).Code)
	w = s.do(t, http.MethodDelete, base+"/world/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorWorldItemNotFound, envelope(t, w, nil).Error.Code)
}

func TestImportJSON(t *testing.T) {
	s := newTestServer(t, replyWith(dnaJSON), RouterOptions{})

	w := s.do(t, http.MethodPost, "/api/import", map[string]string{
		"text": "Chapter 1\r\nThe vault was cold.\r\nChapter 2\r\nThey ran.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result models.ImportResult
	envelope(t, w, &result)
	assert.Equal(t, 2, result.ChapterCount)
	assert.Equal(t, "The Vault", result.Story.Title)

	active, ok := s.store.Active()
	require.True(t, ok)
	assert.Equal(t, result.Story.ID, active.ID)
}

func TestImportExtractionFailureCommitsNothing(t *testing.T) {
	s := newTestServer(t, func(llm.CompletionRequest) (string, error) {
		return "", errors.New("model exploded")
	}, RouterOptions{})

	w := s.do(t, http.MethodPost, "/api/import", map[string]string{"text": "Chapter 1\nHello"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, ErrorImportExtractionFailed, envelope(t, w, nil).Error.Code)
	assert.Empty(t, s.store.List())

	w = s.do(t, http.MethodPost, "/api/import", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportMultipartUpload(t *testing.T) {
	s := newTestServer(t, replyWith(dnaJSON), RouterOptions{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "novel.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("\xef\xbb\xbfBab 1\nHalo dunia.\nBab 2\nSelamat tinggal."))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("language", "id"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result models.ImportResult
	envelope(t, w, &result)
	assert.Equal(t, models.LanguageIndonesian, result.Story.Language)
	require.Len(t, result.Story.Chapters, 2)
	assert.Equal(t, "Bab 1", result.Story.Chapters[0].Title)
}

func TestImportAsyncReportsProgress(t *testing.T) {
	s := newTestServer(t, replyWith(dnaJSON), RouterOptions{})

	w := s.do(t, http.MethodPost, "/api/import", map[string]interface{}{"text": "Chapter 1\nHello", "async": true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		TaskID string `json:"task_id"`
	}
	envelope(t, w, &accepted)
	require.NotEmpty(t, accepted.TaskID)

	tracker, ok := s.handler.ProgressService.GetTracker(accepted.TaskID)
	require.True(t, ok)
	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("import task did not finish")
	}

	var snap services.ProgressUpdate
	envelope(t, s.do(t, http.MethodGet, "/api/tasks/"+accepted.TaskID, nil), &snap)
	assert.Equal(t, services.TaskCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Len(t, s.store.List(), 1)
}

func TestSegmentEndpoint(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})

	w := s.do(t, http.MethodPost, "/api/segment", map[string]string{"text": "Chapter 1\nA\nChapter 2\nB"})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Count int `json:"count"`
	}
	envelope(t, w, &out)
	assert.Equal(t, 2, out.Count)
	assert.Empty(t, s.store.List())
}

func TestExportAndStats(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	story, _ := seedChapter(t, s.store, "one two three")

	w := s.do(t, http.MethodGet, "/api/export?format=markdown&download=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Body.String(), "# "))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".md")

	w = s.do(t, http.MethodGet, "/api/export?story_id="+story.ID+"&format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrorExportFormatInvalid, envelope(t, w, nil).Error.Code)

	var stats models.StoryStats
	envelope(t, s.do(t, http.MethodGet, "/api/stats?story_id="+story.ID, nil), &stats)
	assert.Equal(t, 3, stats.WordCount)
	assert.Equal(t, 1, stats.ChapterCount)
}

func TestGenerateProse(t *testing.T) {
	s := newTestServer(t, replyWith("[new]"), RouterOptions{})
	story, chapter := seedChapter(t, s.store, "héllo world")
	path := "/api/stories/" + story.ID + "/ai/prose"

	var preview services.WriteResult
	envelope(t, s.do(t, http.MethodPost, path, map[string]interface{}{"chapter_id": chapter.ID, "cursor": 5}), &preview)
	assert.Equal(t, "[new]", preview.Text)
	assert.Nil(t, preview.Chapter)

	var committed services.WriteResult
	envelope(t, s.do(t, http.MethodPost, path, map[string]interface{}{"chapter_id": chapter.ID, "cursor": 5, "commit": true}), &committed)
	require.NotNil(t, committed.Chapter)
	assert.Equal(t, "héllo[new] world", committed.Chapter.Content)

	w := s.do(t, http.MethodPost, path, map[string]interface{}{"chapter_id": chapter.ID, "length": "epic"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenesisRequiresPremiseAndGenre(t *testing.T) {
	s := newTestServer(t, replyWith("[]"), RouterOptions{})
	story, _ := seedChapter(t, s.store, "")

	w := s.do(t, http.MethodPost, "/api/stories/"+story.ID+"/ai/genesis", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrorGenesisPrerequisites, envelope(t, w, nil).Error.Code)
}

func TestPanicWriteRunsAsTask(t *testing.T) {
	s := newTestServer(t, func(req llm.CompletionRequest) (string, error) {
		if req.ResponseSchema != nil {
			return `["Arrive","Leave"]`, nil
		}
		return "scene", nil
	}, RouterOptions{})
	story, chapter := seedChapter(t, s.store, "Start.")

	w := s.do(t, http.MethodPost, "/api/stories/"+story.ID+"/ai/panic", map[string]interface{}{"chapter_id": chapter.ID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		TaskID string `json:"task_id"`
	}
	envelope(t, w, &accepted)

	tracker, ok := s.handler.ProgressService.GetTracker(accepted.TaskID)
	require.True(t, ok)
	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("panic task did not finish")
	}

	got, err := s.store.Get(story.ID)
	require.NoError(t, err)
	assert.Equal(t, "Start.\n\nscene\n\nscene", got.Chapters[0].Content)
}

func TestProgressStream(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	tracker := s.handler.ProgressService.StartTask("import")
	tracker.Complete("done", map[string]int{"chapters": 3})

	w := s.do(t, http.MethodGet, "/api/progress/"+tracker.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: connected\n")
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, `"status":"completed"`)

	w = s.do(t, http.MethodGet, "/api/progress/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorTaskNotFound, envelope(t, w, nil).Error.Code)
}

func TestChatAndBrainstorm(t *testing.T) {
	s := newTestServer(t, replyWith("Try a storm."), RouterOptions{})
	story, _ := seedChapter(t, s.store, "")
	base := "/api/stories/" + story.ID + "/ai"

	var reply models.ChatMessage
	w := s.do(t, http.MethodPost, base+"/chat", map[string]interface{}{
		"messages": []models.ChatMessage{{Role: models.ChatRoleUser, Text: "Ideas?"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	envelope(t, w, &reply)
	assert.Equal(t, models.ChatRoleModel, reply.Role)
	assert.Equal(t, "Try a storm.", reply.Text)

	var idea struct {
		Text string `json:"text"`
	}
	envelope(t, s.do(t, http.MethodPost, base+"/brainstorm/character", map[string]string{"name": "Bram"}), &idea)
	assert.Equal(t, "Try a storm.", idea.Text)

	w = s.do(t, http.MethodPost, base+"/brainstorm/plot", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLLMUnavailableMapsTo503(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	s.handler.LLMService = services.NewLLMServiceWithProvider("", nil)
	s.handler.WriterService = services.NewWriterService(s.handler.LLMService, s.store, s.handler.ProgressService)
	s.router = NewRouter(s.handler, RouterOptions{DebugMode: true, Logger: utils.NewLogger(zap.NewNop())})
	story, _ := seedChapter(t, s.store, "")

	w := s.do(t, http.MethodPost, "/api/stories/"+story.ID+"/ai/setup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	var status struct {
		Ready bool `json:"ready"`
	}
	envelope(t, s.do(t, http.MethodGet, "/api/llm/status", nil), &status)
	assert.False(t, status.Ready)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{RateLimit: 1})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/catalog", nil).Code)
	w := s.do(t, http.MethodGet, "/api/catalog", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, ErrorRateLimited, envelope(t, w, nil).Error.Code)

	// 健康检查不在限流范围内
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})
	s.do(t, http.MethodGet, "/api/catalog", nil)
	s.do(t, http.MethodGet, "/api/stories/missing", nil)

	var snapshot struct {
		Counters map[string]int64 `json:"counters"`
	}
	envelope(t, s.do(t, http.MethodGet, "/api/metrics", nil), &snapshot)
	assert.Equal(t, int64(1), snapshot.Counters["api_requests_GET_/api/catalog"])
	assert.Equal(t, int64(1), snapshot.Counters["api_responses_4xx"])
}

func TestCatalogAndEditableFields(t *testing.T) {
	s := newTestServer(t, replyWith(""), RouterOptions{})

	var catalog models.Catalog
	envelope(t, s.do(t, http.MethodGet, "/api/catalog", nil), &catalog)
	assert.NotEmpty(t, catalog.Genres)

	var fields struct {
		Fields []string `json:"fields"`
	}
	envelope(t, s.do(t, http.MethodGet, "/api/stories/fields", nil), &fields)
	assert.Contains(t, fields.Fields, "premise")
}

func TestPanicWriteRejectsConcurrentTask(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServer(t, func(req llm.CompletionRequest) (string, error) {
		if req.ResponseSchema != nil {
			return `["Only beat"]`, nil
		}
		<-gate
		return "scene", nil
	}, RouterOptions{})
	story, chapter := seedChapter(t, s.store, "Start.")
	path := "/api/stories/" + story.ID + "/ai/panic"

	w := s.do(t, http.MethodPost, path, map[string]interface{}{"chapter_id": chapter.ID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		TaskID string `json:"task_id"`
	}
	envelope(t, w, &accepted)

	w = s.do(t, http.MethodPost, path, map[string]interface{}{"chapter_id": chapter.ID})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, ErrorTaskInProgress, envelope(t, w, nil).Error.Code)

	close(gate)
	tracker, ok := s.handler.ProgressService.GetTracker(accepted.TaskID)
	require.True(t, ok)
	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("panic task did not finish")
	}

	_, held := s.handler.Locks.Holder(story.ID)
	assert.False(t, held)
}

func TestBackgroundTaskPanicReleasesLock(t *testing.T) {
	locks := services.NewLockManager()
	release, err := locks.TryAcquire("story-1", "genesis", "task-1")
	require.NoError(t, err)
	tracker := services.NewProgressService().CreateTracker("task-1", "genesis")

	require.NotPanics(t, func() {
		runBackground(context.Background(), "story-1", tracker, release, func(context.Context, *services.ProgressTracker) (any, error) {
			panic("provider exploded")
		})
	})

	select {
	case <-tracker.Done():
	default:
		t.Fatal("tracker was not finished")
	}
	snap := tracker.Snapshot()
	assert.Equal(t, services.TaskFailed, snap.Status)
	assert.Contains(t, snap.Message, "provider exploded")

	_, held := locks.Holder("story-1")
	assert.False(t, held)
	_, err = locks.TryAcquire("story-1", "panic", "task-2")
	assert.NoError(t, err)
}

func TestBackgroundTaskCompletes(t *testing.T) {
	locks := services.NewLockManager()
	release, err := locks.TryAcquire("story-1", "genesis", "task-1")
	require.NoError(t, err)
	tracker := services.NewProgressService().CreateTracker("task-1", "genesis")

	runBackground(context.Background(), "story-1", tracker, release, func(context.Context, *services.ProgressTracker) (any, error) {
		_, held := locks.Holder("story-1")
		assert.True(t, held)
		return "ok", nil
	})

	snap := tracker.Snapshot()
	assert.Equal(t, services.TaskCompleted, snap.Status)
	assert.Equal(t, "ok", snap.Result)
	_, held := locks.Holder("story-1")
	assert.False(t, held)
}
