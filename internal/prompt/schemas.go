// internal/prompt/schemas.go
package prompt

import "github.com/Corphon/NovellaStudio/internal/llm"

func str(desc string) *llm.Schema {
	return &llm.Schema{Type: llm.TypeString, Description: desc}
}

func object(props map[string]*llm.Schema, order []string, required ...string) *llm.Schema {
	return &llm.Schema{
		Type:             llm.TypeObject,
		Properties:       props,
		PropertyOrdering: order,
		Required:         required,
	}
}

func arrayOf(item *llm.Schema) *llm.Schema {
	return &llm.Schema{Type: llm.TypeArray, Items: item}
}

var characterFields = []string{"name", "role", "age", "appearance", "personality", "voice", "strengths", "weaknesses", "backstory"}

var worldFields = []string{"name", "category", "description", "sensoryDetails", "secret"}

// BeatsSchema 字符串数组
func BeatsSchema() *llm.Schema {
	return arrayOf(str(""))
}

// SetupSchema 自动设定
func SetupSchema() *llm.Schema {
	return object(map[string]*llm.Schema{
		"title":        str("A catchy, best-seller quality title"),
		"premise":      str("A compelling 1-paragraph logline/summary"),
		"tone":         str("Atmosphere keywords (e.g. Dark, Whimsical)"),
		"writingStyle": str("Writing style keywords (e.g. Fast-paced, Descriptive)"),
	}, []string{"title", "premise", "tone", "writingStyle"}, "title", "premise", "tone", "writingStyle")
}

// CastSchema 角色阵容
func CastSchema() *llm.Schema {
	return arrayOf(object(map[string]*llm.Schema{
		"name":        str(""),
		"role":        str("e.g. Protagonist, Villain, Mentor"),
		"age":         str(""),
		"appearance":  str("Physical traits, height, build, clothing"),
		"personality": str("Traits, demeanor"),
		"voice":       str("Speaking style, keywords, dialect"),
		"strengths":   str(""),
		"weaknesses":  str(""),
		"backstory":   str("Brief history relevant to plot"),
	}, characterFields))
}

// RefinedCharacterSchema 深化后的角色
func RefinedCharacterSchema() *llm.Schema {
	return object(map[string]*llm.Schema{
		"name":        str(""),
		"role":        str(""),
		"age":         str(""),
		"appearance":  str("Visual description: height, build, features, style"),
		"personality": str(""),
		"voice":       str(""),
		"strengths":   str(""),
		"weaknesses":  str(""),
		"backstory":   str("Deep, emotional, motivation-driven history"),
	}, characterFields, "name", "role", "backstory", "appearance", "personality")
}

// RefinedWorldItemSchema 深化后的世界元素
func RefinedWorldItemSchema() *llm.Schema {
	return object(map[string]*llm.Schema{
		"name":           str(""),
		"category":       str(""),
		"description":    str("Evocative description"),
		"sensoryDetails": str("Smell, sound, atmosphere, humidity, lighting"),
		"secret":         str("Rumors, legends, hidden truths, conspiracies"),
	}, worldFields, "name", "description", "sensoryDetails", "secret")
}

// GenesisWorldSchema 创世世界观
func GenesisWorldSchema() *llm.Schema {
	return arrayOf(object(map[string]*llm.Schema{
		"name":           str(""),
		"category":       str("Location, Faction, Magic, etc."),
		"description":    str(""),
		"sensoryDetails": str(""),
		"secret":         str(""),
	}, worldFields, worldFields...))
}

// GenesisCastSchema 创世角色
func GenesisCastSchema() *llm.Schema {
	return arrayOf(object(map[string]*llm.Schema{
		"name":        str(""),
		"role":        str(""),
		"age":         str(""),
		"appearance":  str(""),
		"personality": str(""),
		"voice":       str(""),
		"strengths":   str(""),
		"weaknesses":  str(""),
		"backstory":   str("Connect this to the World Context"),
	}, characterFields, "name", "role", "backstory", "appearance", "personality"))
}

// DNASchema 导入文本的故事要素
func DNASchema() *llm.Schema {
	allowed := allowedCategories()
	return object(map[string]*llm.Schema{
		"title":        str(""),
		"premise":      str(""),
		"tone":         str("e.g. Gritty, Humorous"),
		"writingStyle": str("Analysis of the author's voice"),
		"plotOutline":  str("Summary of events in the text"),
		"characters": arrayOf(object(map[string]*llm.Schema{
			"name":        str(""),
			"role":        str(""),
			"age":         str(""),
			"appearance":  str(""),
			"personality": str(""),
			"backstory":   str(""),
		}, []string{"name", "role", "age", "appearance", "personality", "backstory"})),
		"worldItems": arrayOf(object(map[string]*llm.Schema{
			"name":           str(""),
			"category":       str("Must be one of: " + allowed),
			"description":    str(""),
			"sensoryDetails": str(""),
			"secret":         str(""),
		}, worldFields)),
	},
		[]string{"title", "premise", "tone", "writingStyle", "plotOutline", "characters", "worldItems"},
		"title", "premise", "tone", "writingStyle", "characters", "plotOutline", "worldItems")
}
