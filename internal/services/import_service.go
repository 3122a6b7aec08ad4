// internal/services/import_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/prompt"
	"github.com/Corphon/NovellaStudio/internal/segment"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrorCodeImportExtractionFailed 提取故事要素失败，导入中止
const ErrorCodeImportExtractionFailed = "IMPORT_EXTRACTION_FAILED"

// ImportedStoryTitle 模型没有给出标题时使用
const ImportedStoryTitle = "Imported Story"

// MaxUploadBytes 上传文件大小上限
const MaxUploadBytes = 16 << 20

// ImportService 将原始稿件导入为新的故事
type ImportService struct {
	writer    *WriterService
	store     *store.Store
	progress  *ProgressService
	segmenter *segment.Segmenter
	metrics   *utils.AppMetrics
	logger    *utils.Logger
}

// NewImportService 创建导入服务
func NewImportService(writer *WriterService, st *store.Store, progress *ProgressService) *ImportService {
	return &ImportService{
		writer:    writer,
		store:     st,
		progress:  progress,
		segmenter: segment.New(segment.Options{}),
		logger:    utils.GetLogger(),
	}
}

// SetMetrics 设置指标记录器
func (s *ImportService) SetMetrics(m *utils.AppMetrics) {
	s.metrics = m
}

// SetLogger 替换日志记录器
func (s *ImportService) SetLogger(l *utils.Logger) {
	s.logger = l
}

// Split 只运行分章，不调用AI
func (s *ImportService) Split(text string) []segment.Chapter {
	return s.segmenter.Segment(NormalizeNewlines(text))
}

// Import 并行执行分章与要素提取，两者都成功后创建一个新故事并设为当前故事。
// 提取失败时不写入任何内容。
func (s *ImportService) Import(ctx context.Context, text string, lang models.Language, tracker *ProgressTracker) (*models.ImportResult, error) {
	text = NormalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("导入文本不能为空", nil)
	}
	if lang == "" {
		lang = models.LanguageEnglish
	}
	if !lang.Valid() {
		return nil, apperrors.NewValidationError("不支持的语言: "+string(lang), nil)
	}

	start := time.Now()
	track(tracker, 5, "Analyzing manuscript...")

	var (
		chapters []segment.Chapter
		dna      *models.StoryDNA
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chapters = s.segmenter.Segment(text)
		track(tracker, 20, "Chapters detected")
		return nil
	})
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("提取故事要素时发生panic: %v", r)
			}
		}()
		dna, err = s.writer.ExtractStoryDNA(gctx, text, lang)
		return err
	})

	if err := g.Wait(); err != nil {
		s.recordImport(0, false, start)
		s.logger.Warn("❌ 导入失败，未提取到故事要素", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, apperrors.NewProcessingError("无法提取故事要素，请重试或缩短文本", err).
			WithCode(ErrorCodeImportExtractionFailed)
	}

	track(tracker, 90, "Building story...")
	story := buildImportedStory(text, lang, chapters, dna)
	created, err := s.store.Add(ctx, story)
	if err != nil {
		s.recordImport(0, false, start)
		return nil, err
	}

	s.recordImport(len(created.Chapters), true, start)
	s.logger.Info("📥 稿件导入完成", map[string]interface{}{
		"story_id": created.ID,
		"chapters": len(created.Chapters),
		"duration": time.Since(start).Milliseconds(),
	})
	return &models.ImportResult{Story: created, ChapterCount: len(created.Chapters)}, nil
}

// StartImport 在后台执行导入，通过返回的跟踪器获取进度与结果
func (s *ImportService) StartImport(ctx context.Context, text string, lang models.Language) *ProgressTracker {
	tracker := s.progress.StartTask("import")
	bg := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("后台导入崩溃", map[string]interface{}{
					"task_id": tracker.TaskID,
					"err":     fmt.Sprint(r),
				})
				tracker.Fail(fmt.Sprintf("内部错误: %v", r))
			}
		}()

		result, err := s.Import(bg, text, lang, tracker)
		if err != nil {
			tracker.Fail(err.Error())
			return
		}
		result.TaskID = tracker.TaskID
		tracker.Complete("Import complete", result)
	}()
	return tracker
}

func buildImportedStory(text string, lang models.Language, chapters []segment.Chapter, dna *models.StoryDNA) models.Story {
	title := strings.TrimSpace(dna.Title)
	if title == "" {
		title = ImportedStoryTitle
	}

	story := models.Story{
		ID:             uuid.NewString(),
		Title:          title,
		Language:       lang,
		Premise:        dna.Premise,
		Characters:     dna.Characters,
		WorldItems:     dna.WorldItems,
		PlotOutline:    dna.PlotOutline,
		Tone:           dna.Tone,
		WritingStyle:   dna.WritingStyle,
		StyleReference: prompt.Head(text, prompt.ImportStyleRunes),
		Chapters:       make([]models.Chapter, 0, len(chapters)),
		LastUpdated:    models.NowMillis(),
	}
	for _, ch := range chapters {
		story.Chapters = append(story.Chapters, models.Chapter{
			ID:      uuid.NewString(),
			Title:   ch.Title,
			Content: ch.Content,
		})
	}
	story.Normalize()
	return story
}

func (s *ImportService) recordImport(chapters int, ok bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordImport(chapters, ok, time.Since(start))
	}
}

// DecodeUpload 读取上传的文本文件，按BOM识别 UTF-8/UTF-16，无BOM时按UTF-8处理
func DecodeUpload(r io.Reader) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(io.LimitReader(transform.NewReader(r, decoder), MaxUploadBytes+1))
	if err != nil {
		return "", apperrors.NewValidationError("无法解码上传的文件", err)
	}
	if len(data) > MaxUploadBytes {
		return "", apperrors.NewValidationError("上传的文件过大", nil)
	}
	return NormalizeNewlines(string(data)), nil
}

// NormalizeNewlines 将 CRLF 与 CR 统一为 LF
func NormalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
