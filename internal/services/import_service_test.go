package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/prompt"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
)

const dnaJSON = `{"title":"","premise":"A heist","tone":"Tense","writingStyle":"Clipped","plotOutline":"They steal it.","characters":[{"name":"Mara","role":"Thief"}],"worldItems":[{"name":"Vault","category":"Location"}]}`

func newTestImporter(t *testing.T, respond func(llm.CompletionRequest) (string, error)) (*ImportService, *utils.AppMetrics) {
	t.Helper()
	w, st, _ := newTestWriter(t, respond)
	imp := NewImportService(w, st, NewProgressService())
	imp.SetLogger(utils.NewLogger(zap.NewNop()))
	metrics := utils.NewAppMetricsWith(utils.NewMetricsCollector(), utils.NewLogger(zap.NewNop()))
	imp.SetMetrics(metrics)
	return imp, metrics
}

func TestImportBuildsActiveStory(t *testing.T) {
	imp, metrics := newTestImporter(t, staticText(dnaJSON))
	text := "Chapter 1\r\nThe vault was cold.\r\nChapter 2\r\nThey ran."

	res, err := imp.Import(context.Background(), text, models.LanguageEnglish, nil)
	require.NoError(t, err)

	story := res.Story
	assert.Equal(t, ImportedStoryTitle, story.Title)
	assert.Equal(t, "A heist", story.Premise)
	assert.Equal(t, 2, res.ChapterCount)
	assert.Equal(t, "Chapter 1", story.Chapters[0].Title)
	assert.Equal(t, "The vault was cold.", story.Chapters[0].Content)
	assert.NotEmpty(t, story.Chapters[0].ID)
	assert.NotEqual(t, story.Chapters[0].ID, story.Chapters[1].ID)
	assert.NotEmpty(t, story.Characters[0].ID)
	assert.Equal(t, models.WorldLocation, story.WorldItems[0].Category)
	assert.Equal(t, NormalizeNewlines(text), story.StyleReference)
	assert.Empty(t, story.Genres)

	active, ok := imp.store.Active()
	require.True(t, ok)
	assert.Equal(t, story.ID, active.ID)
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("imports_succeeded"))
}

func TestImportStyleReferenceIsTruncated(t *testing.T) {
	imp, _ := newTestImporter(t, staticText(dnaJSON))
	text := strings.Repeat("ü", prompt.ImportStyleRunes+50)

	res, err := imp.Import(context.Background(), text, models.LanguageEnglish, nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ü", prompt.ImportStyleRunes), res.Story.StyleReference)
}

func TestImportAbortsWhenExtractionFails(t *testing.T) {
	cases := map[string]func(llm.CompletionRequest) (string, error){
		"provider error": func(llm.CompletionRequest) (string, error) { return "", errors.New("down") },
		"empty dna":      staticText(`{}`),
	}
	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			imp, metrics := newTestImporter(t, respond)

			_, err := imp.Import(context.Background(), "Chapter 1\nText", models.LanguageEnglish, nil)
			require.Error(t, err)
			assert.Equal(t, ErrorCodeImportExtractionFailed, apperrors.CodeOf(err))
			assert.Empty(t, imp.store.List())
			assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("imports_failed"))
		})
	}
}

func TestImportValidation(t *testing.T) {
	imp, _ := newTestImporter(t, staticText(dnaJSON))

	_, err := imp.Import(context.Background(), " \n ", models.LanguageEnglish, nil)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = imp.Import(context.Background(), "text", "fr", nil)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestStartImportCompletesTracker(t *testing.T) {
	imp, _ := newTestImporter(t, staticText(dnaJSON))
	tracker := imp.StartImport(context.Background(), "Chapter 1\nText", models.LanguageIndonesian)

	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("import did not finish")
	}

	snap := tracker.Snapshot()
	assert.Equal(t, TaskCompleted, snap.Status)
	result, ok := snap.Result.(*models.ImportResult)
	require.True(t, ok)
	assert.Equal(t, tracker.TaskID, result.TaskID)
	assert.Equal(t, models.LanguageIndonesian, result.Story.Language)
}

func TestStartImportFailsTrackerOnPanic(t *testing.T) {
	imp, _ := newTestImporter(t, func(llm.CompletionRequest) (string, error) {
		panic("provider exploded")
	})
	tracker := imp.StartImport(context.Background(), "Chapter 1\nText", models.LanguageEnglish)

	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("import did not finish")
	}

	snap := tracker.Snapshot()
	assert.Equal(t, TaskFailed, snap.Status)
	assert.Contains(t, snap.Message, "provider exploded")
}

func TestImportExtractionPanicCommitsNothing(t *testing.T) {
	imp, _ := newTestImporter(t, func(llm.CompletionRequest) (string, error) {
		panic("provider exploded")
	})

	_, err := imp.Import(context.Background(), "Chapter 1\nText", models.LanguageEnglish, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeImportExtractionFailed, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "provider exploded")
	assert.Empty(t, imp.store.List())
}

func TestDecodeUpload(t *testing.T) {
	utf16 := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := utf16.Bytes([]byte("Bab 1\r\nHalo dunia"))
	require.NoError(t, err)

	text, err := DecodeUpload(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, "Bab 1\nHalo dunia", text)

	text, err = DecodeUpload(bytes.NewReader(append([]byte{0xEF, 0xBB, 0xBF}, "Chapter 1\rx"...)))
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1\nx", text)
}

func TestSplitOnly(t *testing.T) {
	imp, _ := newTestImporter(t, staticText(dnaJSON))
	chapters := imp.Split("")
	require.Len(t, chapters, 1)
	assert.Equal(t, "Imported Text", chapters[0].Title)
}
