// internal/services/writer_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/llm"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/prompt"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/google/uuid"
)

// ErrorCodeGenesisPrerequisites 创世模式缺少前提或类型
const ErrorCodeGenesisPrerequisites = "GENESIS_PREREQUISITES"

// ProseOptions 续写参数
type ProseOptions struct {
	Length      prompt.ProseLength `json:"length"`
	Instruction string             `json:"instruction"`
}

// WriteResult 写入章节后的结果
type WriteResult struct {
	Text    string          `json:"text"`
	Chapter *models.Chapter `json:"chapter,omitempty"`
}

// WriterService 提供每个AI写作功能的入口
type WriterService struct {
	llm      *LLMService
	store    *store.Store
	progress *ProgressService
	logger   *utils.Logger
}

// NewWriterService 创建写作服务
func NewWriterService(llmService *LLMService, st *store.Store, progress *ProgressService) *WriterService {
	return &WriterService{
		llm:      llmService,
		store:    st,
		progress: progress,
		logger:   utils.GetLogger(),
	}
}

// SetLogger 替换日志记录器
func (s *WriterService) SetLogger(l *utils.Logger) {
	s.logger = l
}

func (s *WriterService) loadStory(storyID string) (*models.Story, error) {
	story, err := s.store.Get(storyID)
	if err != nil {
		return nil, err
	}
	return &story, nil
}

func (s *WriterService) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", apperrors.NewProcessingError("AI返回了空内容", llm.ErrEmptyResponse)
	}
	return resp.Text, nil
}

// GenerateProse 在光标位置续写，cursor 以字符计
func (s *WriterService) GenerateProse(ctx context.Context, story *models.Story, chapterID string, cursor int, opts ProseOptions) (string, error) {
	idx := story.FindChapter(chapterID)
	if idx < 0 {
		return "", store.ChapterNotFound(chapterID)
	}
	if opts.Length == "" {
		opts.Length = prompt.LengthMedium
	}
	if !opts.Length.Valid() {
		return "", apperrors.NewValidationError("无效的续写长度: "+string(opts.Length), nil)
	}

	preceding := prompt.Head(story.Chapters[idx].Content, max(cursor, 0))
	return s.complete(ctx, llm.CompletionRequest{
		Prompt: prompt.Prose(story, preceding, opts.Length, opts.Instruction),
	})
}

// WriteAtCursor 续写并插入到章节的光标位置
func (s *WriterService) WriteAtCursor(ctx context.Context, storyID, chapterID string, cursor int, opts ProseOptions) (*WriteResult, error) {
	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}

	text, err := s.GenerateProse(ctx, story, chapterID, cursor, opts)
	if err != nil {
		return nil, err
	}

	chapter, err := s.store.InsertAtCursor(ctx, storyID, chapterID, cursor, text)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Text: text, Chapter: &chapter}, nil
}

// GenerateChapterBeats 生成章节剩余部分的节拍，失败时返回默认节拍
func (s *WriterService) GenerateChapterBeats(ctx context.Context, story *models.Story, chapterID, preceding string) []string {
	if preceding == "" {
		if idx := story.FindChapter(chapterID); idx >= 0 {
			preceding = story.Chapters[idx].Content
		}
	}

	var beats []string
	err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.Beats(story, preceding),
		ResponseSchema: prompt.BeatsSchema(),
	}, &beats)
	if err != nil {
		s.logger.Warn("生成章节节拍失败，使用备用节拍", map[string]interface{}{
			"story_id": story.ID,
			"error":    err.Error(),
		})
		return append([]string(nil), prompt.FallbackBeats...)
	}

	cleaned := beats[:0]
	for _, b := range beats {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return append([]string(nil), prompt.DefaultBeats...)
	}
	return cleaned
}

// PanicWrite 先生成节拍，再为每个节拍写一段中等长度正文并追加到章节末尾。
// 某个节拍生成失败时跳过它继续下一个；上下文取消或保存失败时停止，已写入的部分保留
func (s *WriterService) PanicWrite(ctx context.Context, storyID, chapterID string, cursor int, instruction string, tracker *ProgressTracker) (*models.PanicResult, error) {
	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}
	idx := story.FindChapter(chapterID)
	if idx < 0 {
		return nil, store.ChapterNotFound(chapterID)
	}

	content := story.Chapters[idx].Content
	track(tracker, 5, "Brainstorming Beats...")
	beats := s.GenerateChapterBeats(ctx, story, chapterID, prompt.Head(content, max(cursor, 0)))

	result := &models.PanicResult{Beats: beats}
	var written []string
	fail := func(i int, err error) {
		if result.Error == "" {
			result.Error = err.Error()
		}
		result.Skipped = append(result.Skipped, models.SkippedBeat{Index: i, Beat: beats[i], Error: err.Error()})
	}

	for i, beat := range beats {
		if err := ctx.Err(); err != nil {
			fail(i, err)
			break
		}
		track(tracker, 10+i*90/len(beats), fmt.Sprintf("Writing Scene %d/%d: %q...", i+1, len(beats), prompt.Head(beat, 20)))

		story.Chapters[idx].Content = content
		chunk, err := s.GenerateProse(ctx, story, chapterID, len([]rune(content)), ProseOptions{
			Length:      prompt.LengthMedium,
			Instruction: prompt.PanicSceneInstruction(beat, instruction),
		})
		if err != nil {
			fail(i, err)
			s.logger.Warn("冲刺写作跳过节拍", map[string]interface{}{
				"story_id": storyID,
				"beat":     i + 1,
				"error":    err.Error(),
			})
			continue
		}

		chapter, err := s.store.AppendToChapter(ctx, storyID, chapterID, chunk)
		if err != nil {
			fail(i, err)
			break
		}
		content = chapter.Content
		written = append(written, chunk)
		result.Completed++
	}

	result.Text = strings.Join(written, "\n\n")
	if result.Completed == 0 && result.Error != "" {
		return result, apperrors.NewProcessingError("冲刺写作失败", errors.New(result.Error))
	}
	return result, nil
}

// Brainstorm 为指定类型的故事元素出主意
func (s *WriterService) Brainstorm(ctx context.Context, elementType string, story *models.Story, input string) (string, error) {
	return s.complete(ctx, llm.CompletionRequest{
		Prompt: prompt.Brainstorm(elementType, story, input),
	})
}

// GenerateCharacterProfile 生成单个角色的详细档案
func (s *WriterService) GenerateCharacterProfile(ctx context.Context, story *models.Story, name, archetype string) (string, error) {
	elementType, input := prompt.CharacterProfileRequest(name, archetype)
	return s.Brainstorm(ctx, elementType, story, input)
}

// GenerateWorldElement 生成某类世界观设定
func (s *WriterService) GenerateWorldElement(ctx context.Context, story *models.Story, category, topic string) (string, error) {
	elementType, input := prompt.WorldElementRequest(category, topic)
	return s.Brainstorm(ctx, elementType, story, input)
}

// GeneratePlotStructure 按情节结构生成大纲
func (s *WriterService) GeneratePlotStructure(ctx context.Context, story *models.Story, structure string) (string, error) {
	elementType, input := prompt.PlotStructureRequest(structure)
	return s.Brainstorm(ctx, elementType, story, input)
}

// GenerateList 生成角色或世界元素清单
func (s *WriterService) GenerateList(ctx context.Context, story *models.Story, kind string) (string, error) {
	elementType, input := prompt.ListRequest(kind)
	return s.Brainstorm(ctx, elementType, story, input)
}

// AutoSetup 根据现有信息生成标题、前提、基调与文风
func (s *WriterService) AutoSetup(ctx context.Context, story *models.Story) (*models.StorySetup, error) {
	var setup models.StorySetup
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.AutoSetup(story),
		ResponseSchema: prompt.SetupSchema(),
	}, &setup); err != nil {
		return nil, err
	}
	return &setup, nil
}

// AnalyzeWritingStyle 分析写作样本的文风
func (s *WriterService) AnalyzeWritingStyle(ctx context.Context, sample string, lang models.Language) (string, error) {
	if strings.TrimSpace(sample) == "" {
		return "", apperrors.NewValidationError("写作样本不能为空", nil)
	}
	text, err := s.complete(ctx, llm.CompletionRequest{
		Prompt: prompt.StyleAnalysis(sample, lang),
	})
	return strings.TrimSpace(text), err
}

// GenerateStructuredCast 生成一组结构化角色，每个角色获得新ID
func (s *WriterService) GenerateStructuredCast(ctx context.Context, story *models.Story) ([]models.Character, error) {
	var cast []models.Character
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.StructuredCast(story),
		ResponseSchema: prompt.CastSchema(),
	}, &cast); err != nil {
		return nil, err
	}
	return freshCharacters(cast), nil
}

// RefineCharacter 深化角色档案，保留ID与头像
func (s *WriterService) RefineCharacter(ctx context.Context, story *models.Story, c models.Character) (models.Character, error) {
	refined := c
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.RefineCharacter(story, c),
		ResponseSchema: prompt.RefinedCharacterSchema(),
	}, &refined); err != nil {
		return models.Character{}, err
	}

	refined.ID = c.ID
	refined.AvatarBase64 = c.AvatarBase64
	refined.ImageStyle = c.ImageStyle
	return refined, nil
}

// RefineWorldItem 深化世界元素，保留ID与图像
func (s *WriterService) RefineWorldItem(ctx context.Context, story *models.Story, item models.WorldItem) (models.WorldItem, error) {
	refined := item
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.RefineWorldItem(story, item),
		ResponseSchema: prompt.RefinedWorldItemSchema(),
	}, &refined); err != nil {
		return models.WorldItem{}, err
	}

	refined.ID = item.ID
	refined.ImageURL = item.ImageURL
	refined.ImageStyle = item.ImageStyle
	refined.Category = models.NormalizeWorldCategory(string(refined.Category))
	return refined, nil
}

// GenerateCharacterImage 生成角色肖像，返回 base64 数据与实际使用的风格
func (s *WriterService) GenerateCharacterImage(ctx context.Context, c models.Character, style string) (string, string, error) {
	if style = strings.TrimSpace(style); style == "" {
		style = models.DefaultCharacterImageStyle
	}
	img, err := s.llm.GenerateImage(ctx, prompt.CharacterImage(c, style))
	if err != nil {
		return "", "", err
	}
	return img.Data, style, nil
}

// GenerateWorldItemImage 生成世界元素插图
func (s *WriterService) GenerateWorldItemImage(ctx context.Context, item models.WorldItem, style string) (string, string, error) {
	if style = strings.TrimSpace(style); style == "" {
		style = defaultWorldImageStyle(item.Category)
	}
	img, err := s.llm.GenerateImage(ctx, prompt.WorldItemImage(item, style))
	if err != nil {
		return "", "", err
	}
	return img.Data, style, nil
}

func defaultWorldImageStyle(category models.WorldCategory) string {
	if category == models.WorldLocation {
		return models.DefaultLocationImageStyle
	}
	return models.DefaultItemImageStyle
}

// PaintCharacter 为故事中的角色生成肖像并保存
func (s *WriterService) PaintCharacter(ctx context.Context, storyID, characterID, style string) (models.Character, error) {
	story, err := s.loadStory(storyID)
	if err != nil {
		return models.Character{}, err
	}
	idx := story.FindCharacter(characterID)
	if idx < 0 {
		return models.Character{}, store.CharacterNotFound(characterID)
	}

	c := story.Characters[idx]
	data, used, err := s.GenerateCharacterImage(ctx, c, style)
	if err != nil {
		return models.Character{}, err
	}
	c.AvatarBase64 = data
	c.ImageStyle = used
	return s.store.SaveCharacter(ctx, storyID, c)
}

// PaintWorldItem 为故事中的世界元素生成插图并保存
func (s *WriterService) PaintWorldItem(ctx context.Context, storyID, itemID, style string) (models.WorldItem, error) {
	story, err := s.loadStory(storyID)
	if err != nil {
		return models.WorldItem{}, err
	}
	idx := story.FindWorldItem(itemID)
	if idx < 0 {
		return models.WorldItem{}, store.WorldItemNotFound(itemID)
	}

	item := story.WorldItems[idx]
	data, used, err := s.GenerateWorldItemImage(ctx, item, style)
	if err != nil {
		return models.WorldItem{}, err
	}
	item.ImageURL = data
	item.ImageStyle = used
	return s.store.SaveWorldItem(ctx, storyID, item)
}

// Chat 与写作助手对话，history 的最后一条必须是用户消息
func (s *WriterService) Chat(ctx context.Context, history []models.ChatMessage, story *models.Story) (models.ChatMessage, error) {
	if len(history) == 0 {
		return models.ChatMessage{}, apperrors.NewValidationError("对话内容不能为空", nil)
	}
	last := history[len(history)-1]
	if last.Role != models.ChatRoleUser || strings.TrimSpace(last.Text) == "" {
		return models.ChatMessage{}, apperrors.NewValidationError("最后一条消息必须是用户提问", nil)
	}

	earlier := make([]llm.Message, 0, len(history)-1)
	for _, m := range history[:len(history)-1] {
		role := llm.RoleUser
		if m.Role == models.ChatRoleModel {
			role = llm.RoleModel
		}
		earlier = append(earlier, llm.Message{Role: role, Text: m.Text})
	}

	text, err := s.complete(ctx, llm.CompletionRequest{
		Prompt:       prompt.ChatQuery(story, last.Text),
		SystemPrompt: prompt.ChatSystem(story.Language),
		History:      earlier,
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return models.ChatMessage{Role: models.ChatRoleModel, Text: text, Timestamp: models.NowMillis()}, nil
}

// CheckGenesisPrerequisites 创世模式需要故事前提和至少一个预设类型
func CheckGenesisPrerequisites(story *models.Story) error {
	if strings.TrimSpace(story.Premise) == "" || len(story.Genres) == 0 {
		return apperrors.NewValidationError("创世模式需要故事前提和至少一个类型", nil).
			WithCode(ErrorCodeGenesisPrerequisites)
	}
	return nil
}

// Genesis 依次生成世界观、角色与情节，全部成功后一次性写入故事
func (s *WriterService) Genesis(ctx context.Context, storyID string, tracker *ProgressTracker) (*models.GenesisResult, error) {
	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}
	if err := CheckGenesisPrerequisites(story); err != nil {
		return nil, err
	}

	track(tracker, 10, "Phase 1: World")
	var world []models.WorldItem
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.GenesisWorld(story),
		ResponseSchema: prompt.GenesisWorldSchema(),
	}, &world); err != nil {
		return nil, err
	}
	world = freshWorldItems(world)

	track(tracker, 40, fmt.Sprintf("✅ %d World Elements Created", len(world)))
	var cast []models.Character
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.GenesisCharacters(story, world),
		ResponseSchema: prompt.GenesisCastSchema(),
	}, &cast); err != nil {
		return nil, err
	}
	cast = freshCharacters(cast)

	track(tracker, 70, fmt.Sprintf("✅ %d Characters Summoned", len(cast)))
	plot, err := s.complete(ctx, llm.CompletionRequest{
		Prompt: prompt.GenesisPlot(story, world, cast),
	})
	if err != nil {
		return nil, err
	}

	_, err = s.store.Update(ctx, storyID, func(st *models.Story) error {
		st.WorldItems = append(st.WorldItems, world...)
		st.Characters = append(st.Characters, cast...)
		if st.PlotOutline != "" {
			st.PlotOutline += "\n\n"
		}
		st.PlotOutline += plot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("🌌 创世完成", map[string]interface{}{
		"story_id":    storyID,
		"world_items": len(world),
		"characters":  len(cast),
	})
	return &models.GenesisResult{WorldItems: world, Characters: cast, PlotOutline: plot}, nil
}

// ExtractStoryDNA 从导入的全文中提取故事要素，空结果视为失败
func (s *WriterService) ExtractStoryDNA(ctx context.Context, text string, lang models.Language) (*models.StoryDNA, error) {
	var dna models.StoryDNA
	if err := s.llm.CreateStructuredCompletion(ctx, llm.CompletionRequest{
		Prompt:         prompt.ExtractDNA(prompt.Head(text, prompt.DNAInputLimit), lang),
		ResponseSchema: prompt.DNASchema(),
	}, &dna); err != nil {
		return nil, err
	}
	if dna.Empty() {
		return nil, apperrors.NewProcessingError("未能从文本中提取故事要素", llm.ErrEmptyResponse)
	}

	dna.Characters = freshCharacters(dna.Characters)
	dna.WorldItems = freshWorldItems(dna.WorldItems)
	return &dna, nil
}

func freshCharacters(cast []models.Character) []models.Character {
	out := make([]models.Character, 0, len(cast))
	for _, c := range cast {
		c.ID = uuid.NewString()
		out = append(out, c)
	}
	return out
}

func freshWorldItems(items []models.WorldItem) []models.WorldItem {
	out := make([]models.WorldItem, 0, len(items))
	for _, item := range items {
		item.ID = uuid.NewString()
		item.Category = models.NormalizeWorldCategory(string(item.Category))
		out = append(out, item)
	}
	return out
}

func track(tracker *ProgressTracker, progress int, message string) {
	if tracker != nil {
		tracker.UpdateProgress(progress, message)
	}
}
