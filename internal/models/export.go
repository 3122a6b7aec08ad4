// internal/models/export.go
package models

import (
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatHTML     ExportFormat = "html"
	FormatText     ExportFormat = "txt"
	FormatJSON     ExportFormat = "json"
	FormatYAML     ExportFormat = "yaml"
)

// ExportFormats 支持的导出格式
var ExportFormats = []ExportFormat{FormatMarkdown, FormatHTML, FormatText, FormatJSON, FormatYAML}

// ContentType 返回导出格式对应的 MIME 类型
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatYAML:
		return "application/yaml; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension 导出文件扩展名
func (f ExportFormat) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatHTML:
		return ".html"
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	default:
		return ".txt"
	}
}

// ExportResult 导出结果
type ExportResult struct {
	StoryID     string       `json:"storyId"`
	Title       string       `json:"title"`
	Format      ExportFormat `json:"format"`
	Filename    string       `json:"filename"`
	Content     string       `json:"content"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Stats       StoryStats   `json:"stats"`
}

// StoryStats 稿件统计
type StoryStats struct {
	StoryID         string         `json:"storyId"`
	Title           string         `json:"title"`
	WordCount       int            `json:"wordCount"`
	CharacterCount  int            `json:"characterCount"`
	ReadTimeMinutes int            `json:"readTimeMinutes"`
	ChapterCount    int            `json:"chapterCount"`
	Chapters        []ChapterStats `json:"chapters"`
	CastSize        int            `json:"castSize"`
	WorldItemCount  int            `json:"worldItemCount"`
	LastUpdated     int64          `json:"lastUpdated"`
}

// ChapterStats 单章统计
type ChapterStats struct {
	ChapterID       string `json:"chapterId"`
	Title           string `json:"title"`
	WordCount       int    `json:"wordCount"`
	CharacterCount  int    `json:"characterCount"`
	ReadTimeMinutes int    `json:"readTimeMinutes"`
}
