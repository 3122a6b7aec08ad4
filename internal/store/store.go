// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/Corphon/NovellaStudio/internal/errors"
	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/storage"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/google/uuid"
)

// StoriesKey 故事集合在存储后端中的键
const StoriesKey = "novella_stories"

// 找不到资源时的错误代码
const (
	ErrorCodeStoryNotFound     = "STORY_NOT_FOUND"
	ErrorCodeChapterNotFound   = "CHAPTER_NOT_FOUND"
	ErrorCodeCharacterNotFound = "CHARACTER_NOT_FOUND"
	ErrorCodeWorldItemNotFound = "WORLD_ITEM_NOT_FOUND"
)

// EventType 状态变更事件类型
type EventType string

const (
	EventStoryCreated  EventType = "story.created"
	EventStoryUpdated  EventType = "story.updated"
	EventStoryDeleted  EventType = "story.deleted"
	EventActiveChanged EventType = "story.active"
)

// Event 一次成功持久化的变更
type Event struct {
	Type      EventType `json:"type"`
	StoryID   string    `json:"storyId"`
	Timestamp int64     `json:"timestamp"`
}

// Listener 变更订阅回调，在写锁释放后同步调用
type Listener func(Event)

// editableFields 可以通过 UpdateField 整体替换的字段
var editableFields = map[string]bool{
	"title":          true,
	"language":       true,
	"genres":         true,
	"customGenres":   true,
	"premise":        true,
	"characters":     true,
	"worldItems":     true,
	"worldText":      true,
	"plotOutline":    true,
	"charactersText": true,
	"tone":           true,
	"writingStyle":   true,
	"styleReference": true,
	"chapters":       true,
}

// EditableFields 返回可替换的字段名
func EditableFields() []string {
	names := make([]string, 0, len(editableFields))
	for name := range editableFields {
		names = append(names, name)
	}
	return names
}

// Store 应用状态：故事集合、当前激活的故事，以及与存储后端的同步
type Store struct {
	mu       sync.RWMutex
	backend  storage.Backend
	logger   *utils.Logger
	stories  []models.Story
	activeID string

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// Open 从后端加载故事集合。数据损坏时记录日志并以空集合启动
func Open(ctx context.Context, backend storage.Backend, logger *utils.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("store: backend is required")
	}
	if logger == nil {
		logger = utils.GetLogger()
	}

	s := &Store{
		backend:   backend,
		logger:    logger,
		stories:   []models.Story{},
		listeners: make(map[int]Listener),
	}

	data, err := backend.Load(ctx, StoriesKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Info("存储中没有故事数据，使用空集合", nil)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load stories: %w", err)
	}

	var stories []models.Story
	if err := json.Unmarshal(data, &stories); err != nil {
		logger.Error("故事数据解析失败，以空集合启动", map[string]interface{}{
			"error": err,
			"bytes": len(data),
		})
		return s, nil
	}

	// 迁移：旧数据没有 worldItems 字段
	for i := range stories {
		stories[i].Normalize()
	}
	s.stories = stories

	logger.Info("📚 故事集合已加载", map[string]interface{}{"count": len(stories)})
	return s, nil
}

// List 返回全部故事的副本，顺序即展示顺序
func (s *Store) List() []models.Story {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Story, len(s.stories))
	for i := range s.stories {
		out[i] = s.stories[i].Clone()
	}
	return out
}

// Get 按ID获取故事
func (s *Store) Get(id string) (models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Story{}, storyNotFound(id)
	}
	return s.stories[idx].Clone(), nil
}

// Active 返回当前激活的故事，没有时 ok 为 false
func (s *Store) Active() (models.Story, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(s.activeID)
	if idx < 0 {
		return models.Story{}, false
	}
	return s.stories[idx].Clone(), true
}

// SetActive 切换激活的故事，空ID表示取消选择
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if id != "" && s.indexOf(id) < 0 {
		s.mu.Unlock()
		return storyNotFound(id)
	}
	s.activeID = id
	s.mu.Unlock()

	s.emit(EventActiveChanged, id)
	return nil
}

// Create 新建空白故事，放在集合最前面并设为激活
func (s *Store) Create(ctx context.Context, lang models.Language) (models.Story, error) {
	lang = lang.OrDefault()
	story := models.Story{
		ID:          uuid.New().String(),
		Title:       models.UntitledStoryTitle(lang),
		Language:    lang,
		LastUpdated: models.NowMillis(),
	}
	story.Normalize()
	return s.Add(ctx, story)
}

// Add 插入一个完整的故事（导入流程使用），同样放在最前面并激活
func (s *Store) Add(ctx context.Context, story models.Story) (models.Story, error) {
	if story.ID == "" {
		story.ID = uuid.New().String()
	}
	story.Normalize()
	if story.LastUpdated == 0 {
		story.LastUpdated = models.NowMillis()
	}

	err := s.mutate(ctx, func() error {
		if s.indexOf(story.ID) >= 0 {
			return apperrors.NewConflictError("故事已存在: "+story.ID, nil)
		}
		s.stories = append([]models.Story{story.Clone()}, s.stories...)
		s.activeID = story.ID
		return nil
	})
	if err != nil {
		return models.Story{}, err
	}

	s.emit(EventStoryCreated, story.ID)
	return story.Clone(), nil
}

// Delete 删除故事；若删除的是激活故事则清空选择
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.mutate(ctx, func() error {
		idx := s.indexOf(id)
		if idx < 0 {
			return storyNotFound(id)
		}
		s.stories = append(s.stories[:idx:idx], s.stories[idx+1:]...)
		if s.activeID == id {
			s.activeID = ""
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(EventStoryDeleted, id)
	return nil
}

// Update 在同一事务中修改故事的多个字段。ID 不可修改
func (s *Store) Update(ctx context.Context, id string, fn func(*models.Story) error) (models.Story, error) {
	var updated models.Story
	err := s.mutate(ctx, func() error {
		idx := s.indexOf(id)
		if idx < 0 {
			return storyNotFound(id)
		}
		story := s.stories[idx].Clone()
		if err := fn(&story); err != nil {
			return err
		}
		story.ID = id
		story.Language = story.Language.OrDefault()
		story.Normalize()
		story.LastUpdated = models.NowMillis()
		s.stories[idx] = story
		updated = story.Clone()
		return nil
	})
	if err != nil {
		return models.Story{}, err
	}

	s.emit(EventStoryUpdated, id)
	return updated, nil
}

// UpdateField 用 JSON 值整体替换一个字段
func (s *Store) UpdateField(ctx context.Context, id, field string, value json.RawMessage) (models.Story, error) {
	if !editableFields[field] {
		return models.Story{}, apperrors.NewValidationError("不支持修改的字段: "+field, nil)
	}
	if len(value) == 0 || !json.Valid(value) {
		return models.Story{}, apperrors.NewValidationError("字段值不是合法的 JSON: "+field, nil)
	}

	return s.Update(ctx, id, func(story *models.Story) error {
		raw, err := json.Marshal(story)
		if err != nil {
			return err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
		fields[field] = value

		raw, err = json.Marshal(fields)
		if err != nil {
			return err
		}
		var next models.Story
		if err := json.Unmarshal(raw, &next); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("字段 %s 的值类型不正确", field), err)
		}
		if field == "language" && !next.Language.Valid() {
			return apperrors.NewValidationError("不支持的语言: "+string(next.Language), nil)
		}
		*story = next
		return nil
	})
}

// AddChapter 追加一个空章节，标题按故事语言编号
func (s *Store) AddChapter(ctx context.Context, storyID string) (models.Chapter, error) {
	var chapter models.Chapter
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		chapter = models.Chapter{
			ID:    uuid.New().String(),
			Title: models.DefaultChapterTitle(story.Language, len(story.Chapters)+1),
		}
		story.Chapters = append(story.Chapters, chapter)
		return nil
	})
	return chapter, err
}

// ChapterPatch 章节的部分更新，nil 字段保持不变
type ChapterPatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// UpdateChapter 修改章节标题或正文
func (s *Store) UpdateChapter(ctx context.Context, storyID, chapterID string, patch ChapterPatch) (models.Chapter, error) {
	var chapter models.Chapter
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		idx := story.FindChapter(chapterID)
		if idx < 0 {
			return ChapterNotFound(chapterID)
		}
		if patch.Title != nil {
			story.Chapters[idx].Title = *patch.Title
		}
		if patch.Content != nil {
			story.Chapters[idx].Content = *patch.Content
		}
		chapter = story.Chapters[idx]
		return nil
	})
	return chapter, err
}

// InsertAtCursor 在正文的字符偏移处插入文本，偏移越界时截断到有效范围
func (s *Store) InsertAtCursor(ctx context.Context, storyID, chapterID string, cursor int, text string) (models.Chapter, error) {
	var chapter models.Chapter
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		idx := story.FindChapter(chapterID)
		if idx < 0 {
			return ChapterNotFound(chapterID)
		}
		story.Chapters[idx].Content = InsertAt(story.Chapters[idx].Content, cursor, text)
		chapter = story.Chapters[idx]
		return nil
	})
	return chapter, err
}

// AppendToChapter 以空行分隔追加到章节末尾
func (s *Store) AppendToChapter(ctx context.Context, storyID, chapterID, text string) (models.Chapter, error) {
	var chapter models.Chapter
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		idx := story.FindChapter(chapterID)
		if idx < 0 {
			return ChapterNotFound(chapterID)
		}
		story.Chapters[idx].Content += "\n\n" + text
		chapter = story.Chapters[idx]
		return nil
	})
	return chapter, err
}

// InsertAt 按 rune 偏移插入
func InsertAt(content string, cursor int, text string) string {
	runes := []rune(content)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(runes) {
		cursor = len(runes)
	}
	return string(runes[:cursor]) + text + string(runes[cursor:])
}

// SaveCharacter 按ID新增或替换角色，ID为空时分配新ID
func (s *Store) SaveCharacter(ctx context.Context, storyID string, c models.Character) (models.Character, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		if idx := story.FindCharacter(c.ID); idx >= 0 {
			story.Characters[idx] = c
		} else {
			story.Characters = append(story.Characters, c)
		}
		return nil
	})
	return c, err
}

// DeleteCharacter 删除角色
func (s *Store) DeleteCharacter(ctx context.Context, storyID, characterID string) error {
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		idx := story.FindCharacter(characterID)
		if idx < 0 {
			return CharacterNotFound(characterID)
		}
		story.Characters = append(story.Characters[:idx:idx], story.Characters[idx+1:]...)
		return nil
	})
	return err
}

// AppendCharacters 批量追加生成的角色，每个角色获得新ID
func (s *Store) AppendCharacters(ctx context.Context, storyID string, cast []models.Character) ([]models.Character, error) {
	added := make([]models.Character, len(cast))
	for i, c := range cast {
		c.ID = uuid.New().String()
		added[i] = c
	}
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		story.Characters = append(story.Characters, added...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// SaveWorldItem 按ID新增或替换世界元素
func (s *Store) SaveWorldItem(ctx context.Context, storyID string, item models.WorldItem) (models.WorldItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Category = models.NormalizeWorldCategory(string(item.Category))
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		if idx := story.FindWorldItem(item.ID); idx >= 0 {
			story.WorldItems[idx] = item
		} else {
			story.WorldItems = append(story.WorldItems, item)
		}
		return nil
	})
	return item, err
}

// DeleteWorldItem 删除世界元素
func (s *Store) DeleteWorldItem(ctx context.Context, storyID, itemID string) error {
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		idx := story.FindWorldItem(itemID)
		if idx < 0 {
			return WorldItemNotFound(itemID)
		}
		story.WorldItems = append(story.WorldItems[:idx:idx], story.WorldItems[idx+1:]...)
		return nil
	})
	return err
}

// AppendWorldItems 批量追加生成的世界元素
func (s *Store) AppendWorldItems(ctx context.Context, storyID string, items []models.WorldItem) ([]models.WorldItem, error) {
	added := make([]models.WorldItem, len(items))
	for i, item := range items {
		item.ID = uuid.New().String()
		item.Category = models.NormalizeWorldCategory(string(item.Category))
		added[i] = item
	}
	_, err := s.Update(ctx, storyID, func(story *models.Story) error {
		story.WorldItems = append(story.WorldItems, added...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Subscribe 注册变更监听，返回取消函数
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// mutate 在写锁内执行修改并持久化整个集合，失败时回滚内存状态
func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevStories := append([]models.Story(nil), s.stories...)
	prevActive := s.activeID

	if err := fn(); err != nil {
		s.stories, s.activeID = prevStories, prevActive
		return err
	}

	if err := s.persistLocked(ctx); err != nil {
		s.stories, s.activeID = prevStories, prevActive
		s.logger.Error("故事持久化失败，已回滚", map[string]interface{}{"error": err})
		return apperrors.NewUnavailableError("保存故事失败", err)
	}
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.stories)
	if err != nil {
		return fmt.Errorf("encode stories: %w", err)
	}
	return s.backend.Save(ctx, StoriesKey, data)
}

func (s *Store) emit(t EventType, storyID string) {
	event := Event{Type: t, StoryID: storyID, Timestamp: models.NowMillis()}

	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.stories {
		if s.stories[i].ID == id {
			return i
		}
	}
	return -1
}

func storyNotFound(id string) error {
	return apperrors.NewNotFoundError("故事不存在: "+id, nil).WithCode(ErrorCodeStoryNotFound)
}

// ChapterNotFound 章节不存在
func ChapterNotFound(id string) error {
	return apperrors.NewNotFoundError("章节不存在: "+id, nil).WithCode(ErrorCodeChapterNotFound)
}

// CharacterNotFound 角色不存在
func CharacterNotFound(id string) error {
	return apperrors.NewNotFoundError("角色不存在: "+id, nil).WithCode(ErrorCodeCharacterNotFound)
}

// WorldItemNotFound 世界元素不存在
func WorldItemNotFound(id string) error {
	return apperrors.NewNotFoundError("世界元素不存在: "+id, nil).WithCode(ErrorCodeWorldItemNotFound)
}
