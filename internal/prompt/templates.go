// internal/prompt/templates.go
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Corphon/NovellaStudio/internal/models"
)

// ProseLength 续写长度档位
type ProseLength string

const (
	LengthShort  ProseLength = "short"
	LengthMedium ProseLength = "medium"
	LengthLong   ProseLength = "long"
)

// Valid 检查长度档位
func (l ProseLength) Valid() bool {
	return l == LengthShort || l == LengthMedium || l == LengthLong
}

// Instruction 返回字数要求
func (l ProseLength) Instruction() string {
	switch l {
	case LengthShort:
		return "Write about 150-200 words."
	case LengthMedium:
		return "Write about 400-500 words."
	case LengthLong:
		return "Write about 800-1000 words. Be very detailed."
	}
	return ""
}

const defaultProseInstruction = "Continue the story naturally."

// 模型未给出节拍或调用失败时使用的节拍
var (
	DefaultBeats  = []string{"Continue the scene", "Build tension", "Climax of the chapter", "Conclusion/Cliffhanger"}
	FallbackBeats = []string{"Continue the scene", "Next event", "Next event", "Conclusion"}
)

// Prose 在光标处续写正文，preceding 为光标前的全部正文
func Prose(story *models.Story, preceding string, length ProseLength, instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultProseInstruction
	}

	var styleRule string
	if story.StyleReference != "" {
		styleRule = "\n- CRITICAL: Analyze the \"USER WRITING SAMPLE\" in the Story Bible and mimic its sentence structure, vocabulary, and rhythm."
	}

	return fmt.Sprintf(`Role: You are an expert novelist co-author.
Task: Continue the story based on the context provided.

STORY BIBLE:
%s
CURRENT CHAPTER CONTENT (Preceding cursor):
...%s

USER INSTRUCTION: %s
LENGTH TARGET: %s

Constraints:
- %s
- Match the Tone: %s
- Match the Writing Style: %s%s
- Use the World Wiki and Character profiles details to add depth (sensory details, callbacks).
- Do not repeat the preceding text.
- Write only the new content.`,
		StoryContext(story), Tail(preceding, ProseContextRunes), instruction, length.Instruction(),
		LanguageInstruction(story.Language), story.Tone, story.WritingStyle, styleRule)
}

// PanicSceneInstruction 冲刺模式中单个节拍的写作指令
func PanicSceneInstruction(beat, userInstruction string) string {
	return fmt.Sprintf("Write this specific scene: %s. %s", beat, userInstruction)
}

// Beats 将本章剩余部分拆成四个节拍
func Beats(story *models.Story, preceding string) string {
	return fmt.Sprintf(`Role: Novel Plotter.
Task: The user wants to write the rest of this chapter (about 2000 words).
Break down the immediate next events into 4 distinct sequential "Beats" (Scenes).

STORY CONTEXT:
%s
TEXT SO FAR:
...%s

Output strictly as a JSON list of strings.
Example: ["Protagonist enters the bar and orders a drink", "A fight breaks out", "Protagonist escapes via the roof", "Protagonist reflects on the fight at home"]

%s`, StoryContext(story), Tail(preceding, BeatsContextRunes), LanguageInstruction(story.Language))
}

// ElementPremise 头脑风暴中需要单一结果的元素类型
const ElementPremise = "Premise"

// Brainstorm 为任意故事元素生成内容
func Brainstorm(elementType string, story *models.Story, userInput string) string {
	instruction := "Provide a creative, detailed list or description."
	if elementType == ElementPremise {
		instruction = fmt.Sprintf(`CRITICAL INSTRUCTION: Do NOT provide a list of options.
Synthesize the genres (%s) and the user's input into ONE single, cohesive, compelling story premise (logline/summary paragraph).
Make it catchy and professional.`, strings.Join(story.Genres, ", "))
	}

	return fmt.Sprintf(`Role: Creative Writing Assistant.
Task: Brainstorm/Generate content for: %s.

STORY CONTEXT:
%s
USER INPUT/IDEA: %s

INSTRUCTION:
%s
- %s`, elementType, StoryContext(story), userInput, instruction, LanguageInstruction(story.Language))
}

// CharacterProfileRequest 生成角色档案的头脑风暴参数
func CharacterProfileRequest(name, archetype string) (elementType, input string) {
	return "Character Profile", fmt.Sprintf(`Create a detailed character profile for "%s" (Archetype: %s). Include appearance, personality, strengths, weaknesses, and backstory.`, name, archetype)
}

// WorldElementRequest 生成世界观条目的头脑风暴参数
func WorldElementRequest(category, topic string) (elementType, input string) {
	return "World Building Element", fmt.Sprintf("Create a detailed world building entry. Category: %s, Topic: %s. Include sensory details and significance to the plot.", category, topic)
}

// PlotStructureRequest 按指定结构生成大纲的头脑风暴参数
func PlotStructureRequest(structure string) (elementType, input string) {
	return fmt.Sprintf("Plot Outline using %s structure", structure),
		"Create a detailed plot outline using this specific story structure. Break it down into the standard beats of that structure."
}

// ListRequest 生成角色或世界元素列表的头脑风暴参数
func ListRequest(kind string) (elementType, input string) {
	return "List", fmt.Sprintf("Create a list of %s.", kind)
}

// AutoSetup 根据类型生成标题、前提、基调与文风
func AutoSetup(story *models.Story) string {
	return fmt.Sprintf(`Role: Expert Book Editor.
Task: Create a cohesive story setup based on the selected genres.
Genres: %s

Constraint:
- %s
- Output purely in JSON format.`, strings.Join(story.AllGenres(), ", "), LanguageInstruction(story.Language))
}

// StyleAnalysis 用关键词概括文风
func StyleAnalysis(sample string, lang models.Language) string {
	langHint := "In English."
	if lang == models.LanguageIndonesian {
		langHint = "In Indonesian."
	}
	return fmt.Sprintf(`Role: Literary Analyst.
Task: Analyze the following writing sample and describe its style in 5-10 keywords or a short phrase.
Focus on: Sentence structure, vocabulary complexity, pacing, and tone.

SAMPLE:
"%s"

OUTPUT:
Return ONLY the description string. %s`, Head(sample, StyleSampleRunes), langHint)
}

// StructuredCast 生成完整角色阵容
func StructuredCast(story *models.Story) string {
	return fmt.Sprintf(`Create a full cast of characters for this story.
Include a Protagonist, Antagonist, and supporting characters.
Ensure they fit the genre and tone.
STORY PREMISE: %s
GENRES: %s

%s`, story.Premise, strings.Join(story.Genres, ", "), LanguageInstruction(story.Language))
}

// RefineCharacter 补全并深化角色档案
func RefineCharacter(story *models.Story, c models.Character) string {
	// 图像数据对模型没有意义
	c.AvatarBase64 = ""
	profile, _ := json.Marshal(c)

	return fmt.Sprintf(`You are an expert Character Designer and Psychologist.
Your task is to REFINE, DEEPEN, and COMPLETE the character profile below.

INPUT DATA:
%s

STORY CONTEXT:
Premise: %s
Tone: %s

INSTRUCTIONS:
1. Fill in any missing fields.
2. ENHANCE existing fields to be more specific and creative.
3. **BACKSTORY**: Must be deep and emotional. Give the character a 'soul'. Explain WHY they move, WHY they hate/love things. Include a "Ghost" or a "Lie" they believe. Ensure it fits the Story Premise perfectly.
4. **APPEARANCE**: Must be detailed. Include height, body build, distinctive features (scars, tattoos, accessories), hair texture, and clothing style.
5. **PERSONALITY**: Ensure it is consistent with the Backstory.

%s`, profile, story.Premise, story.Tone, LanguageInstruction(story.Language))
}

// RefineWorldItem 深化世界观元素
func RefineWorldItem(story *models.Story, item models.WorldItem) string {
	return fmt.Sprintf(`You are an expert World Builder for novels.
Your task is to REFINE, DEEPEN, and VISUALIZE the world building element below.

INPUT DATA:
Name: %s
Category: %s
Description (Partial): %s

STORY CONTEXT:
Premise: %s
Tone: %s

INSTRUCTIONS:
1. **Description**: Make it evocative. Don't just say "It is a city". Say "It is a city of glass hovering above a sulfur pit".
2. **Sensory Details**: CRITICAL. Describe how it smells, sounds, feels, and the specific atmosphere/vibe.
3. **Secrets**: Add a "Ghost" or a "Rumor" about this element. Something that can be used as a plot hook. A hidden history, a curse, or a political conspiracy.

%s`, item.Name, item.Category, item.Description, story.Premise, story.Tone, LanguageInstruction(story.Language))
}

// CharacterImage 角色立绘
func CharacterImage(c models.Character, style string) string {
	return fmt.Sprintf(`Character Portrait.
Subject: %s, %s years old.
Appearance: %s.
Role: %s.
Personality hint: %s.
Art Style: %s.
High quality, detailed, white background.`, c.Name, c.Age, c.Appearance, c.Role, c.Personality, style)
}

// WorldItemImage 世界观概念图，地点使用远景构图
func WorldItemImage(item models.WorldItem, style string) string {
	framing := "Focus on the object/subject, detailed."
	if item.Category == models.WorldLocation {
		framing = "Wide shot, detailed environment, atmospheric."
	}
	return fmt.Sprintf(`World Building Concept Art.
Subject: %s (%s).
Description: %s.
Atmosphere/Vibe: %s.
Art Style: %s.
%s
High quality.`, item.Name, item.Category, item.Description, item.SensoryDetails, style, framing)
}

// ChatSystem 写作助手的系统提示
func ChatSystem(lang models.Language) string {
	return fmt.Sprintf(`You are an AI writing assistant for a novel.
Answer the user's questions based on the provided Story Context.
Be helpful, encouraging, and creative.
%s`, LanguageInstruction(lang))
}

// ChatQuery 对话的最后一条用户消息连同故事上下文
func ChatQuery(story *models.Story, query string) string {
	return fmt.Sprintf(`STORY CONTEXT:
%s
USER QUERY: %s`, StoryContext(story), query)
}

// GenesisWorld 创世第一步：世界观
func GenesisWorld(story *models.Story) string {
	return fmt.Sprintf(`Role: Master World Builder.
Task: Create the foundation of a world based on this premise.
Premise: %s
Genres: %s

Output Requirement:
Create 3 distinct Locations, 2 Factions/Groups, and 1 Magic System or Technology System.
For each, provide vivid descriptions, sensory details, and a secret.

%s`, story.Premise, strings.Join(story.Genres, ", "), LanguageInstruction(story.Language))
}

// GenesisCharacters 创世第二步：植根于世界观的角色
func GenesisCharacters(story *models.Story, world []models.WorldItem) string {
	lines := make([]string, len(world))
	for i, w := range world {
		lines[i] = fmt.Sprintf("- %s (%s): %s", w.Name, w.Category, w.Description)
	}

	return fmt.Sprintf(`Role: Master Character Architect.
Task: Create a cast of characters that are deeply rooted in the world provided below.
Premise: %s

WORLD CONTEXT (Use this!):
%s

Output Requirement:
Create 1 Protagonist, 1 Antagonist, and 1 Support Character.
They MUST have relationships with the Factions or come from the Locations mentioned in the World Context.

%s`, story.Premise, strings.Join(lines, "\n"), LanguageInstruction(story.Language))
}

// GenesisPlot 创世第三步：基于世界和角色的大纲
func GenesisPlot(story *models.Story, world []models.WorldItem, cast []models.Character) string {
	worldLines := make([]string, len(world))
	for i, w := range world {
		worldLines[i] = fmt.Sprintf("- %s (%s)", w.Name, w.Category)
	}
	castLines := make([]string, len(cast))
	for i, c := range cast {
		castLines[i] = fmt.Sprintf("- %s (%s): %s", c.Name, c.Role, c.Backstory)
	}

	return fmt.Sprintf(`Role: Master Storyteller.
Task: Create a structured plot outline (Save the Cat style) based on the generated world and characters.

STORY PREMISE: %s

WORLD ELEMENTS:
%s

CHARACTERS:
%s

INSTRUCTION:
Write a compelling outline. The conflict must stem from the Factions and the Character's goals.
Use the locations for specific scenes.

%s`, story.Premise, strings.Join(worldLines, "\n"), strings.Join(castLines, "\n"), LanguageInstruction(story.Language))
}

// ExtractDNA 从导入的全文中提取故事要素
func ExtractDNA(text string, lang models.Language) string {
	langInstruction := "Input Text is likely English. OUTPUT ALL JSON VALUES IN ENGLISH."
	if lang == models.LanguageIndonesian {
		langInstruction = "Input Text is likely Indonesian. OUTPUT ALL JSON VALUES IN INDONESIAN."
	}

	return fmt.Sprintf(`Role: Senior Editor & Analyst.
Task: Deeply analyze the provided novel text (which may contain multiple chapters).
Extract the core "DNA" of the story into a structured JSON format.

INSTRUCTION:
READ THE ENTIRE TEXT PROVIDED. Do not just read the beginning.
%s

NOVEL TEXT SAMPLE:
%s

OUTPUT REQUIREMENTS:
1. Title: If the text has a title, use it. If not, create a catchy one.
2. Premise: Summarize the entire plot so far into a 1-paragraph logline.
3. Characters: Extract main characters found in the text. Infer their roles, traits, and appearance based on the text actions.
4. World: Extract key locations, items, or factions mentioned.
   CRITICAL: World Item Category MUST be one of: [%s].
   If a world item does not fit these exact categories, put it in 'Other'.
   DO NOT INVENT NEW CATEGORIES like "Social Structure" or "Concept".
5. Plot Outline: Summarize what happened in these chapters sequentially.`,
		langInstruction, Head(text, DNAInputLimit), allowedCategories())
}

func allowedCategories() string {
	names := make([]string, len(models.WorldCategories))
	for i, c := range models.WorldCategories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
