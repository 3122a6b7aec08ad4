// internal/models/story.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Language 故事写作语言
type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageIndonesian Language = "id"
)

// Valid 检查语言代码是否受支持
func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageIndonesian
}

// OrDefault 未知语言回退为英文
func (l Language) OrDefault() Language {
	if l.Valid() {
		return l
	}
	return LanguageEnglish
}

// Story 表示一部正在规划或写作中的小说
type Story struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Language Language `json:"language"`
	Genres   []string `json:"genres"`
	// 用户自定义的补充类型，逗号分隔的自由文本
	CustomGenres string `json:"customGenres"`
	Premise      string `json:"premise"`

	Characters []Character `json:"characters"`
	WorldItems []WorldItem `json:"worldItems"`

	WorldText      string `json:"worldText"` // 世界观草稿
	PlotOutline    string `json:"plotOutline"`
	CharactersText string `json:"charactersText"`

	Tone           string `json:"tone"`
	WritingStyle   string `json:"writingStyle"`
	StyleReference string `json:"styleReference"`

	Chapters    []Chapter `json:"chapters"`
	LastUpdated int64     `json:"lastUpdated"` // unix 毫秒
}

// Chapter 表示故事中的一个章节
type Chapter struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UntitledStoryTitle 新建故事的默认标题
func UntitledStoryTitle(lang Language) string {
	if lang == LanguageIndonesian {
		return "Cerita Tanpa Judul"
	}
	return "Untitled Story"
}

// DefaultChapterTitle 新建章节的默认标题，n 从 1 开始
func DefaultChapterTitle(lang Language, n int) string {
	if lang == LanguageIndonesian {
		return fmt.Sprintf("Bab %d", n)
	}
	return fmt.Sprintf("Chapter %d", n)
}

// NowMillis 返回 lastUpdated 使用的时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Normalize 补全缺失的集合字段，旧数据中可能不存在 worldItems
func (s *Story) Normalize() {
	if s.Genres == nil {
		s.Genres = []string{}
	}
	if s.Characters == nil {
		s.Characters = []Character{}
	}
	if s.WorldItems == nil {
		s.WorldItems = []WorldItem{}
	}
	if s.Chapters == nil {
		s.Chapters = []Chapter{}
	}
	if s.Language == "" {
		s.Language = LanguageEnglish
	}
}

// Clone 深拷贝故事，调用方可以安全修改返回值
func (s Story) Clone() Story {
	out := s
	out.Genres = append([]string(nil), s.Genres...)
	out.Characters = append([]Character(nil), s.Characters...)
	out.WorldItems = append([]WorldItem(nil), s.WorldItems...)
	out.Chapters = append([]Chapter(nil), s.Chapters...)
	out.Normalize()
	return out
}

// FindChapter 按ID查找章节索引
func (s *Story) FindChapter(id string) int {
	for i := range s.Chapters {
		if s.Chapters[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCharacter 按ID查找角色索引
func (s *Story) FindCharacter(id string) int {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			return i
		}
	}
	return -1
}

// FindWorldItem 按ID查找世界元素索引
func (s *Story) FindWorldItem(id string) int {
	for i := range s.WorldItems {
		if s.WorldItems[i].ID == id {
			return i
		}
	}
	return -1
}

// AllGenres 合并预设类型与自定义类型
func (s *Story) AllGenres() []string {
	genres := append([]string(nil), s.Genres...)
	for _, g := range strings.Split(s.CustomGenres, ",") {
		if g = strings.TrimSpace(g); g != "" {
			genres = append(genres, g)
		}
	}
	return genres
}
