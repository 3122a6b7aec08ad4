// internal/services/export_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// WordsPerMinute 阅读时间估算速度
const WordsPerMinute = 250

// ErrorCodeExportFormatInvalid 不支持的导出格式
const ErrorCodeExportFormatInvalid = "EXPORT_FORMAT_INVALID"

// ExportService 将故事导出为稿件或故事圣经
type ExportService struct {
	store     *store.Store
	exportDir string
	markdown  goldmark.Markdown
	policy    *bluemonday.Policy
	logger    *utils.Logger
}

// NewExportService 创建导出服务，exportDir 为空时不支持保存到磁盘
func NewExportService(st *store.Store, exportDir string) *ExportService {
	return &ExportService{
		store:     st,
		exportDir: exportDir,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Typographer),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
		logger: utils.GetLogger(),
	}
}

// Export 导出指定故事
func (s *ExportService) Export(ctx context.Context, storyID string, format models.ExportFormat) (*models.ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	story, err := s.store.Get(storyID)
	if err != nil {
		return nil, err
	}
	return s.ExportStory(&story, format)
}

// ExportStory 按格式渲染故事
func (s *ExportService) ExportStory(story *models.Story, format models.ExportFormat) (*models.ExportResult, error) {
	format = models.ExportFormat(strings.ToLower(string(format)))
	if format == "" {
		format = models.FormatMarkdown
	}
	if format == "md" {
		format = models.FormatMarkdown
	}

	var (
		content string
		err     error
	)
	switch format {
	case models.FormatMarkdown:
		content = s.formatAsMarkdown(story)
	case models.FormatHTML:
		content, err = s.formatAsHTML(story)
	case models.FormatText:
		content = s.formatAsText(story)
	case models.FormatJSON:
		content, err = s.formatAsJSON(story)
	case models.FormatYAML:
		content, err = s.formatAsYAML(story)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("不支持的导出格式: %s，支持的格式: %v", format, models.ExportFormats), nil).
			WithCode(ErrorCodeExportFormatInvalid)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("格式化导出内容失败", err)
	}

	return &models.ExportResult{
		StoryID:     story.ID,
		Title:       story.Title,
		Format:      format,
		Filename:    exportFilename(story.Title, format),
		Content:     content,
		GeneratedAt: time.Now(),
		Stats:       Stats(story),
	}, nil
}

// SaveExport 将导出结果写入导出目录，返回路径与大小
func (s *ExportService) SaveExport(result *models.ExportResult) (string, int64, error) {
	if s.exportDir == "" {
		return "", 0, apperrors.NewValidationError("未配置导出目录", nil)
	}
	if err := os.MkdirAll(s.exportDir, 0755); err != nil {
		return "", 0, fmt.Errorf("创建导出目录失败: %w", err)
	}

	timestamp := result.GeneratedAt.Format("20060102_150405")
	name := strings.TrimSuffix(result.Filename, result.Format.Extension())
	filePath := filepath.Join(s.exportDir, fmt.Sprintf("%s_%s%s", name, timestamp, result.Format.Extension()))

	if err := os.WriteFile(filePath, []byte(result.Content), 0644); err != nil {
		return "", 0, fmt.Errorf("写入导出文件失败: %w", err)
	}

	s.logger.Info("📤 导出文件已保存", map[string]interface{}{
		"story_id": result.StoryID,
		"format":   result.Format,
		"path":     filePath,
	})
	return filePath, int64(len(result.Content)), nil
}

func (s *ExportService) formatAsMarkdown(story *models.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", story.Title)
	if premise := strings.TrimSpace(story.Premise); premise != "" {
		for _, line := range strings.Split(premise, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}
	for _, ch := range story.Chapters {
		fmt.Fprintf(&b, "## %s\n\n", ch.Title)
		if content := strings.TrimSpace(ch.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func (s *ExportService) formatAsHTML(story *models.Story) (string, error) {
	var body bytes.Buffer
	if err := s.markdown.Convert([]byte(s.formatAsMarkdown(story)), &body); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="%s">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <style>
        body { font-family: Georgia, 'Times New Roman', serif; max-width: 42em; margin: 40px auto; line-height: 1.7; color: #222; padding: 0 1em; }
        h1 { text-align: center; font-size: 2.4em; }
        h2 { margin-top: 3em; border-bottom: 1px solid #ddd; padding-bottom: .3em; }
        blockquote { color: #555; font-style: italic; border-left: 3px solid #ccc; margin-left: 0; padding-left: 1em; }
    </style>
</head>
<body>
`, html.EscapeString(string(story.Language)), html.EscapeString(story.Title))
	b.WriteString(s.policy.Sanitize(body.String()))
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

func (s *ExportService) formatAsText(story *models.Story) string {
	var b strings.Builder
	b.WriteString(story.Title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", max(utf8.RuneCountInString(story.Title), 3)))
	b.WriteString("\n\n")
	for _, ch := range story.Chapters {
		b.WriteString(ch.Title)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", max(utf8.RuneCountInString(ch.Title), 3)))
		b.WriteString("\n\n")
		if content := strings.TrimSpace(ch.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func (s *ExportService) formatAsJSON(story *models.Story) (string, error) {
	data, err := json.MarshalIndent(story, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// 故事圣经：设定信息，不含正文与图像
type storyBible struct {
	Title        string            `yaml:"title"`
	Language     models.Language   `yaml:"language"`
	Genres       []string          `yaml:"genres,omitempty"`
	Premise      string            `yaml:"premise,omitempty"`
	Tone         string            `yaml:"tone,omitempty"`
	WritingStyle string            `yaml:"writingStyle,omitempty"`
	PlotOutline  string            `yaml:"plotOutline,omitempty"`
	WorldNotes   string            `yaml:"worldNotes,omitempty"`
	Characters   []bibleCharacter  `yaml:"characters,omitempty"`
	World        []bibleWorldEntry `yaml:"world,omitempty"`
	Chapters     []bibleChapter    `yaml:"chapters,omitempty"`
}

type bibleCharacter struct {
	Name        string `yaml:"name"`
	Role        string `yaml:"role,omitempty"`
	Age         string `yaml:"age,omitempty"`
	Appearance  string `yaml:"appearance,omitempty"`
	Personality string `yaml:"personality,omitempty"`
	Voice       string `yaml:"voice,omitempty"`
	Strengths   string `yaml:"strengths,omitempty"`
	Weaknesses  string `yaml:"weaknesses,omitempty"`
	Backstory   string `yaml:"backstory,omitempty"`
}

type bibleWorldEntry struct {
	Name           string               `yaml:"name"`
	Category       models.WorldCategory `yaml:"category"`
	Description    string               `yaml:"description,omitempty"`
	SensoryDetails string               `yaml:"sensoryDetails,omitempty"`
	Secret         string               `yaml:"secret,omitempty"`
}

type bibleChapter struct {
	Title string `yaml:"title"`
	Words int    `yaml:"words"`
}

func (s *ExportService) formatAsYAML(story *models.Story) (string, error) {
	bible := storyBible{
		Title:        story.Title,
		Language:     story.Language,
		Genres:       story.AllGenres(),
		Premise:      story.Premise,
		Tone:         story.Tone,
		WritingStyle: story.WritingStyle,
		PlotOutline:  story.PlotOutline,
		WorldNotes:   story.WorldText,
	}
	for _, c := range story.Characters {
		bible.Characters = append(bible.Characters, bibleCharacter{
			Name: c.Name, Role: c.Role, Age: c.Age, Appearance: c.Appearance,
			Personality: c.Personality, Voice: c.Voice, Strengths: c.Strengths,
			Weaknesses: c.Weaknesses, Backstory: c.Backstory,
		})
	}
	for _, w := range story.WorldItems {
		bible.World = append(bible.World, bibleWorldEntry{
			Name: w.Name, Category: w.Category, Description: w.Description,
			SensoryDetails: w.SensoryDetails, Secret: w.Secret,
		})
	}
	for _, ch := range story.Chapters {
		bible.Chapters = append(bible.Chapters, bibleChapter{Title: ch.Title, Words: CountWords(ch.Content)})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(bible); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// StatsFor 计算指定故事的统计
func (s *ExportService) StatsFor(storyID string) (models.StoryStats, error) {
	story, err := s.store.Get(storyID)
	if err != nil {
		return models.StoryStats{}, err
	}
	return Stats(&story), nil
}

// Stats 字数、字符数与按每分钟250词估算的阅读时间
func Stats(story *models.Story) models.StoryStats {
	stats := models.StoryStats{
		StoryID:        story.ID,
		Title:          story.Title,
		ChapterCount:   len(story.Chapters),
		Chapters:       make([]models.ChapterStats, 0, len(story.Chapters)),
		CastSize:       len(story.Characters),
		WorldItemCount: len(story.WorldItems),
		LastUpdated:    story.LastUpdated,
	}
	for _, ch := range story.Chapters {
		words := CountWords(ch.Content)
		chars := utf8.RuneCountInString(ch.Content)
		stats.Chapters = append(stats.Chapters, models.ChapterStats{
			ChapterID:       ch.ID,
			Title:           ch.Title,
			WordCount:       words,
			CharacterCount:  chars,
			ReadTimeMinutes: ReadTimeMinutes(words),
		})
		stats.WordCount += words
		stats.CharacterCount += chars
	}
	stats.ReadTimeMinutes = ReadTimeMinutes(stats.WordCount)
	return stats
}

// CountWords 以空白分词
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ReadTimeMinutes 向上取整
func ReadTimeMinutes(words int) int {
	return (words + WordsPerMinute - 1) / WordsPerMinute
}

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func exportFilename(title string, format models.ExportFormat) string {
	name := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.ToLower(title), "_"), "_")
	if name == "" {
		name = "story"
	}
	return name + format.Extension()
}
