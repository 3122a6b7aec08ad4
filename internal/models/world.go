// internal/models/world.go
package models

import "strings"

// WorldCategory 世界观元素分类
type WorldCategory string

const (
	WorldLocation  WorldCategory = "Location"
	WorldFaction   WorldCategory = "Faction"
	WorldItemKind  WorldCategory = "Item"
	WorldMagic     WorldCategory = "Magic"
	WorldHistory   WorldCategory = "History"
	WorldCreature  WorldCategory = "Creature"
	WorldCosmology WorldCategory = "Cosmology"
	WorldOther     WorldCategory = "Other"
)

// WorldCategories 按展示顺序排列的全部分类
var WorldCategories = []WorldCategory{
	WorldLocation, WorldFaction, WorldItemKind, WorldMagic,
	WorldHistory, WorldCreature, WorldCosmology, WorldOther,
}

// NormalizeWorldCategory 将模型返回的任意分类映射到已知分类，无法识别时为 Other
func NormalizeWorldCategory(raw string) WorldCategory {
	raw = strings.TrimSpace(raw)
	for _, c := range WorldCategories {
		if strings.EqualFold(raw, string(c)) {
			return c
		}
	}
	return WorldOther
}

// WorldItem 结构化的世界观元素
type WorldItem struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Category       WorldCategory `json:"category"`
	Description    string        `json:"description"`
	SensoryDetails string        `json:"sensoryDetails"` // 视觉、声音、气味、氛围
	Secret         string        `json:"secret"`         // 传闻、隐藏真相、剧情钩子
	ImageURL       string        `json:"imageUrl,omitempty"`
	ImageStyle     string        `json:"imageStyle,omitempty"`
}
