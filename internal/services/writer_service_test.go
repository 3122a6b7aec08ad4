package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/prompt"
	"github.com/Corphon/NovellaStudio/internal/storage"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), storage.NewMemoryBackend(), utils.NewLogger(zap.NewNop()))
	require.NoError(t, err)
	return st
}

func newTestWriter(t *testing.T, respond func(llm.CompletionRequest) (string, error)) (*WriterService, *store.Store, *fakeProvider) {
	t.Helper()
	svc, fake := newFakeLLM(respond)
	svc.SetLogger(utils.NewLogger(zap.NewNop()))
	st := newTestStore(t)
	w := NewWriterService(svc, st, NewProgressService())
	w.SetLogger(utils.NewLogger(zap.NewNop()))
	return w, st, fake
}

// seedStory 创建一个带一章正文的故事
func seedStory(t *testing.T, st *store.Store, content string) (models.Story, models.Chapter) {
	t.Helper()
	ctx := context.Background()
	story, err := st.Create(ctx, models.LanguageEnglish)
	require.NoError(t, err)
	chapter, err := st.AddChapter(ctx, story.ID)
	require.NoError(t, err)
	chapter, err = st.UpdateChapter(ctx, story.ID, chapter.ID, store.ChapterPatch{Content: &content})
	require.NoError(t, err)
	story, err = st.Get(story.ID)
	require.NoError(t, err)
	return story, chapter
}

func TestGenerateChapterBeats(t *testing.T) {
	story := &models.Story{Title: "T"}

	w, _, _ := newTestWriter(t, staticText(`["Arrive","Fight"]`))
	assert.Equal(t, []string{"Arrive", "Fight"}, w.GenerateChapterBeats(context.Background(), story, "", "text"))

	w, _, _ = newTestWriter(t, staticText(`[]`))
	assert.Equal(t, prompt.DefaultBeats, w.GenerateChapterBeats(context.Background(), story, "", "text"))

	w, _, _ = newTestWriter(t, func(llm.CompletionRequest) (string, error) { return "", errors.New("down") })
	assert.Equal(t, prompt.FallbackBeats, w.GenerateChapterBeats(context.Background(), story, "", "text"))
}

func TestWriteAtCursorInsertsByRune(t *testing.T) {
	w, st, fake := newTestWriter(t, staticText("[new]"))
	story, chapter := seedStory(t, st, "héllo world")

	res, err := w.WriteAtCursor(context.Background(), story.ID, chapter.ID, 5, ProseOptions{Length: prompt.LengthShort, Instruction: "go"})
	require.NoError(t, err)
	assert.Equal(t, "[new]", res.Text)
	require.NotNil(t, res.Chapter)
	assert.Equal(t, "héllo[new] world", res.Chapter.Content)

	p := fake.requests()[0].Prompt
	assert.Contains(t, p, "héllo")
	assert.NotContains(t, p, "héllo world")
	assert.Contains(t, p, "150-200 words")
}

func TestGenerateProseValidation(t *testing.T) {
	w, st, _ := newTestWriter(t, staticText("x"))
	story, chapter := seedStory(t, st, "")

	_, err := w.GenerateProse(context.Background(), &story, "missing", 0, ProseOptions{})
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = w.GenerateProse(context.Background(), &story, chapter.ID, 0, ProseOptions{Length: "panic"})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestGenerateProseEmptyResponse(t *testing.T) {
	w, st, _ := newTestWriter(t, staticText("   "))
	story, chapter := seedStory(t, st, "")

	_, err := w.WriteAtCursor(context.Background(), story.ID, chapter.ID, 0, ProseOptions{})
	require.Error(t, err)

	unchanged, _ := st.Get(story.ID)
	assert.Equal(t, "", unchanged.Chapters[0].Content)
}

func panicResponder(failOnScenes ...int) func(llm.CompletionRequest) (string, error) {
	var scenes int32
	return func(req llm.CompletionRequest) (string, error) {
		if req.ResponseSchema != nil {
			return `["Storm","Escape"]`, nil
		}
		n := atomic.AddInt32(&scenes, 1)
		if slices.Contains(failOnScenes, int(n)) {
			return "", errors.New("quota")
		}
		return fmt.Sprintf("scene-%d", n), nil
	}
}

func TestPanicWriteAppendsEachBeat(t *testing.T) {
	w, st, fake := newTestWriter(t, panicResponder(0))
	story, chapter := seedStory(t, st, "Opening.")

	tracker := NewProgressService().StartTask("panic")
	res, err := w.PanicWrite(context.Background(), story.ID, chapter.ID, 8, "tense", tracker)
	require.NoError(t, err)

	assert.Equal(t, []string{"Storm", "Escape"}, res.Beats)
	assert.Equal(t, 2, res.Completed)
	assert.Empty(t, res.Error)
	assert.Equal(t, "scene-1\n\nscene-2", res.Text)

	updated, _ := st.Get(story.ID)
	assert.Equal(t, "Opening.\n\nscene-1\n\nscene-2", updated.Chapters[0].Content)

	reqs := fake.requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].Prompt, "Write this specific scene: Storm. tense")
	assert.Contains(t, reqs[2].Prompt, "scene-1")
	assert.Contains(t, reqs[2].Prompt, "400-500 words")
}

func TestPanicWriteKeepsPartialResult(t *testing.T) {
	w, st, _ := newTestWriter(t, panicResponder(2))
	story, chapter := seedStory(t, st, "Opening.")

	res, err := w.PanicWrite(context.Background(), story.ID, chapter.ID, 0, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.NotEmpty(t, res.Error)

	updated, _ := st.Get(story.ID)
	assert.Equal(t, "Opening.\n\nscene-1", updated.Chapters[0].Content)
}

func TestPanicWriteSkipsFailedBeat(t *testing.T) {
	w, st, _ := newTestWriter(t, panicResponder(1))
	story, chapter := seedStory(t, st, "Opening.")

	res, err := w.PanicWrite(context.Background(), story.ID, chapter.ID, 0, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, "scene-2", res.Text)
	assert.NotEmpty(t, res.Error)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 0, res.Skipped[0].Index)
	assert.Equal(t, "Storm", res.Skipped[0].Beat)
	assert.Equal(t, res.Error, res.Skipped[0].Error)

	updated, _ := st.Get(story.ID)
	assert.Equal(t, "Opening.\n\nscene-2", updated.Chapters[0].Content)
}

func TestPanicWriteNothingWritten(t *testing.T) {
	w, st, _ := newTestWriter(t, panicResponder(1, 2))
	story, chapter := seedStory(t, st, "Opening.")

	res, err := w.PanicWrite(context.Background(), story.ID, chapter.ID, 0, "", nil)
	require.Error(t, err)
	assert.Equal(t, 0, res.Completed)
	assert.Len(t, res.Skipped, 2)
}

func TestPanicWriteStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scenes int32
	w, st, _ := newTestWriter(t, func(req llm.CompletionRequest) (string, error) {
		if req.ResponseSchema != nil {
			return `["Storm","Escape"]`, nil
		}
		atomic.AddInt32(&scenes, 1)
		cancel()
		return "", context.Canceled
	})
	story, chapter := seedStory(t, st, "Opening.")

	res, err := w.PanicWrite(ctx, story.ID, chapter.ID, 0, "", nil)
	require.Error(t, err)
	assert.Equal(t, 0, res.Completed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&scenes))
	assert.Len(t, res.Skipped, 2)

	updated, _ := st.Get(story.ID)
	assert.Equal(t, "Opening.", updated.Chapters[0].Content)
}

func TestBrainstormWrappers(t *testing.T) {
	w, _, fake := newTestWriter(t, staticText("idea"))
	story := &models.Story{Title: "T", Genres: []string{"Horror"}}

	out, err := w.GenerateCharacterProfile(context.Background(), story, "Bram", "Mentor")
	require.NoError(t, err)
	assert.Equal(t, "idea", out)
	assert.Contains(t, fake.requests()[0].Prompt, `profile for "Bram"`)

	_, err = w.GeneratePlotStructure(context.Background(), story, "Save the Cat")
	require.NoError(t, err)
	assert.Contains(t, fake.requests()[1].Prompt, "Plot Outline using Save the Cat structure")
}

func TestAutoSetup(t *testing.T) {
	w, _, _ := newTestWriter(t, staticText(`{"title":"Night","premise":"P","tone":"Dark","writingStyle":"Terse"}`))
	setup, err := w.AutoSetup(context.Background(), &models.Story{Genres: []string{"Noir"}})
	require.NoError(t, err)
	assert.Equal(t, models.StorySetup{Title: "Night", Premise: "P", Tone: "Dark", WritingStyle: "Terse"}, *setup)
}

func TestAnalyzeWritingStyle(t *testing.T) {
	w, _, _ := newTestWriter(t, staticText("  Lyrical, sparse \n"))
	style, err := w.AnalyzeWritingStyle(context.Background(), "sample", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Lyrical, sparse", style)

	_, err = w.AnalyzeWritingStyle(context.Background(), " ", models.LanguageEnglish)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestGenerateStructuredCastAssignsIDs(t *testing.T) {
	w, _, _ := newTestWriter(t, staticText(`[{"id":"x","name":"A"},{"id":"x","name":"B"}]`))
	cast, err := w.GenerateStructuredCast(context.Background(), &models.Story{})
	require.NoError(t, err)
	require.Len(t, cast, 2)
	assert.NotEqual(t, "x", cast[0].ID)
	assert.NotEqual(t, cast[0].ID, cast[1].ID)
}

func TestRefineCharacterPreservesIdentity(t *testing.T) {
	w, _, _ := newTestWriter(t, staticText(`{"id":"other","name":"Aria Vale","role":"Lead","backstory":"deep","appearance":"tall","personality":"wry","avatarBase64":"bad"}`))
	original := models.Character{ID: "c1", Name: "Aria", Voice: "dry", AvatarBase64: "QUJD", ImageStyle: "Anime"}

	refined, err := w.RefineCharacter(context.Background(), &models.Story{}, original)
	require.NoError(t, err)
	assert.Equal(t, "c1", refined.ID)
	assert.Equal(t, "QUJD", refined.AvatarBase64)
	assert.Equal(t, "Anime", refined.ImageStyle)
	assert.Equal(t, "Aria Vale", refined.Name)
	assert.Equal(t, "dry", refined.Voice)
}

func TestRefineWorldItemNormalisesCategory(t *testing.T) {
	w, _, _ := newTestWriter(t, staticText(`{"name":"Spire","category":"location","description":"d","sensoryDetails":"s","secret":"x"}`))
	item := models.WorldItem{ID: "w1", Name: "Spire", Category: models.WorldLocation, ImageURL: "IMG"}

	refined, err := w.RefineWorldItem(context.Background(), &models.Story{}, item)
	require.NoError(t, err)
	assert.Equal(t, "w1", refined.ID)
	assert.Equal(t, "IMG", refined.ImageURL)
	assert.Equal(t, models.WorldLocation, refined.Category)
	assert.Equal(t, "x", refined.Secret)
}

func TestImagesUseDefaultStyles(t *testing.T) {
	w, st, fake := newTestWriter(t, staticText(""))
	var prompts []string
	fake.image = func(req llm.ImageRequest) (*llm.ImageResponse, error) {
		prompts = append(prompts, req.Prompt)
		return &llm.ImageResponse{Data: "QUJD", MIMEType: "image/png"}, nil
	}

	story, _ := seedStory(t, st, "")
	c, err := st.SaveCharacter(context.Background(), story.ID, models.Character{Name: "Aria"})
	require.NoError(t, err)

	painted, err := w.PaintCharacter(context.Background(), story.ID, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "QUJD", painted.AvatarBase64)
	assert.Equal(t, models.DefaultCharacterImageStyle, painted.ImageStyle)

	_, style, err := w.GenerateWorldItemImage(context.Background(), models.WorldItem{Name: "Spire", Category: models.WorldLocation}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultLocationImageStyle, style)

	_, style, err = w.GenerateWorldItemImage(context.Background(), models.WorldItem{Name: "Key", Category: models.WorldItemKind}, " ")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultItemImageStyle, style)

	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[0], models.DefaultCharacterImageStyle)

	saved, _ := st.Get(story.ID)
	assert.Equal(t, "QUJD", saved.Characters[0].AvatarBase64)
}

func TestPaintUnknownCharacter(t *testing.T) {
	w, st, _ := newTestWriter(t, staticText(""))
	story, _ := seedStory(t, st, "")
	_, err := w.PaintCharacter(context.Background(), story.ID, "ghost", "")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestChat(t *testing.T) {
	w, _, fake := newTestWriter(t, staticText("Try a twist."))
	story := &models.Story{Title: "T", Language: models.LanguageIndonesian}
	history := []models.ChatMessage{
		{Role: models.ChatRoleUser, Text: "hi"},
		{Role: models.ChatRoleModel, Text: "hello"},
		{Role: models.ChatRoleUser, Text: "what next?"},
	}

	reply, err := w.Chat(context.Background(), history, story)
	require.NoError(t, err)
	assert.Equal(t, models.ChatRoleModel, reply.Role)
	assert.Equal(t, "Try a twist.", reply.Text)

	req := fake.requests()[0]
	assert.Contains(t, req.Prompt, "USER QUERY: what next?")
	assert.Contains(t, req.SystemPrompt, "Bahasa Indonesia")
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Text: "hi"}, {Role: llm.RoleModel, Text: "hello"}}, req.History)

	_, err = w.Chat(context.Background(), history[:2], story)
	assert.True(t, apperrors.IsValidationError(err))
}

func genesisResponder(failCast bool) func(llm.CompletionRequest) (string, error) {
	return func(req llm.CompletionRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "Master World Builder"):
			return `[{"name":"Spire","category":"location","description":"glass"},{"name":"Guild","category":"Faction"}]`, nil
		case strings.Contains(req.Prompt, "Master Character Architect"):
			if failCast {
				return "", errors.New("overloaded")
			}
			return `[{"name":"Aria","role":"Protagonist","backstory":"orphan"}]`, nil
		default:
			return "Act I. Act II.", nil
		}
	}
}

func TestGenesisCommitsEverything(t *testing.T) {
	w, st, fake := newTestWriter(t, genesisResponder(false))
	story, _ := seedStory(t, st, "")
	_, err := st.Update(context.Background(), story.ID, func(s *models.Story) error {
		s.Premise = "A city of glass"
		s.Genres = []string{"Fantasy"}
		s.PlotOutline = "Existing."
		return nil
	})
	require.NoError(t, err)

	tracker := NewProgressService().StartTask("genesis")
	res, err := w.Genesis(context.Background(), story.ID, tracker)
	require.NoError(t, err)
	require.Len(t, res.WorldItems, 2)
	assert.Equal(t, models.WorldLocation, res.WorldItems[0].Category)
	assert.NotEmpty(t, res.WorldItems[0].ID)
	require.Len(t, res.Characters, 1)

	saved, _ := st.Get(story.ID)
	assert.Len(t, saved.WorldItems, 2)
	assert.Len(t, saved.Characters, 1)
	assert.Equal(t, "Existing.\n\nAct I. Act II.", saved.PlotOutline)

	plotPrompt := fake.requests()[2].Prompt
	assert.Contains(t, plotPrompt, "- Spire (Location)")
	assert.Contains(t, plotPrompt, "- Aria (Protagonist): orphan")
	assert.Greater(t, tracker.Snapshot().Progress, 0)
}

func TestGenesisRequiresPremiseAndGenre(t *testing.T) {
	w, st, fake := newTestWriter(t, genesisResponder(false))
	story, _ := seedStory(t, st, "")

	_, err := w.Genesis(context.Background(), story.ID, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, ErrorCodeGenesisPrerequisites, apperrors.CodeOf(err))
	assert.Zero(t, fake.callCount())
}

func TestGenesisFailureWritesNothing(t *testing.T) {
	w, st, _ := newTestWriter(t, genesisResponder(true))
	story, _ := seedStory(t, st, "")
	story, err := st.Update(context.Background(), story.ID, func(s *models.Story) error {
		s.Premise = "p"
		s.Genres = []string{"Sci-Fi"}
		return nil
	})
	require.NoError(t, err)

	_, err = w.Genesis(context.Background(), story.ID, nil)
	require.Error(t, err)

	saved, _ := st.Get(story.ID)
	assert.Empty(t, saved.WorldItems)
	assert.Empty(t, saved.Characters)
	assert.Equal(t, story.LastUpdated, saved.LastUpdated)
}

func TestExtractStoryDNA(t *testing.T) {
	w, _, fake := newTestWriter(t, staticText(`{"title":"Found","premise":"p","tone":"t","writingStyle":"w","plotOutline":"o","characters":[{"name":"A"}],"worldItems":[{"name":"X","category":"nonsense"}]}`))
	dna, err := w.ExtractStoryDNA(context.Background(), "Bab 1\nHalo", models.LanguageIndonesian)
	require.NoError(t, err)
	assert.Equal(t, "Found", dna.Title)
	assert.NotEmpty(t, dna.Characters[0].ID)
	assert.Equal(t, models.WorldOther, dna.WorldItems[0].Category)
	assert.Contains(t, fake.requests()[0].Prompt, "INDONESIAN")

	w, _, _ = newTestWriter(t, staticText(`{}`))
	_, err = w.ExtractStoryDNA(context.Background(), "text", models.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeError, apperrors.TypeOf(err))
}
