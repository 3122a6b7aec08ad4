// internal/prompt/context.go
package prompt

import (
	"fmt"
	"strings"

	"github.com/Corphon/NovellaStudio/internal/models"
)

// 截取长度，单位为字符(rune)
const (
	ProseContextRunes   = 3000
	BeatsContextRunes   = 1000
	StyleSampleRunes    = 1000
	StyleReferenceRunes = 1500
	DNAInputLimit       = 2000000
	ImportStyleRunes    = 2000
)

const (
	noCharactersText = "No detailed characters yet."
	noWorldText      = "No structured world data yet."
)

// LanguageInstruction 要求模型使用故事语言输出
func LanguageInstruction(lang models.Language) string {
	if lang == models.LanguageIndonesian {
		return "Output strictly in Indonesian Language (Bahasa Indonesia)."
	}
	return "Output strictly in English."
}

// StoryContext 将故事设定序列化为提示词中的"故事圣经"
func StoryContext(story *models.Story) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Title: %s\n", story.Title)
	fmt.Fprintf(&b, "Premise: %s\n", story.Premise)
	fmt.Fprintf(&b, "Genres: %s\n", strings.Join(story.AllGenres(), ", "))
	fmt.Fprintf(&b, "Tone: %s\n", story.Tone)
	fmt.Fprintf(&b, "Style Description: %s\n", story.WritingStyle)
	if story.StyleReference != "" {
		fmt.Fprintf(&b, "USER WRITING SAMPLE (MIMIC THIS STYLE): \n\"%s...\"\n", Head(story.StyleReference, StyleReferenceRunes))
	}

	b.WriteString("\nCHARACTERS:\n")
	b.WriteString(charactersBlock(story.Characters))

	b.WriteString("\n\nWORLD WIKI (LOCATIONS, FACTIONS, ITEMS, ETC):\n")
	b.WriteString(worldBlock(story.WorldItems))

	b.WriteString("\n\nWORLD NOTES (UNSTRUCTURED):\n")
	b.WriteString(story.WorldText)

	b.WriteString("\n\nPLOT OUTLINE:\n")
	b.WriteString(story.PlotOutline)
	b.WriteString("\n")

	return b.String()
}

func charactersBlock(cast []models.Character) string {
	if len(cast) == 0 {
		return noCharactersText
	}
	entries := make([]string, len(cast))
	for i, c := range cast {
		entries[i] = fmt.Sprintf(`- Name: %s (%s)
  Age: %s
  Appearance: %s
  Personality: %s
  Voice/Style: %s
  Strengths: %s
  Weaknesses: %s`, c.Name, c.Role, c.Age, c.Appearance, c.Personality, c.Voice, c.Strengths, c.Weaknesses)
	}
	return strings.Join(entries, "\n")
}

func worldBlock(items []models.WorldItem) string {
	if len(items) == 0 {
		return noWorldText
	}
	entries := make([]string, len(items))
	for i, w := range items {
		entries[i] = fmt.Sprintf(`- [%s] %s:
  %s
  Sensory: %s
  Secrets: %s`, w.Category, w.Name, w.Description, w.SensoryDetails, w.Secret)
	}
	return strings.Join(entries, "\n")
}

// Head 取前 n 个字符
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for idx := range s {
		if i == n {
			return s[:idx]
		}
		i++
	}
	return s
}

// Tail 取最后 n 个字符
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
