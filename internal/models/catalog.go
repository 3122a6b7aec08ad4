// internal/models/catalog.go
package models

// GenreDefinition 类型选项
type GenreDefinition struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// PlotStructure 情节结构模板
type PlotStructure struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var GenreOptions = []GenreDefinition{
	{ID: "Fantasy", Label: "Fantasy", Description: "Magic, supernatural elements, and imaginary worlds."},
	{ID: "Sci-Fi", Label: "Sci-Fi", Description: "Futuristic science, space exploration, and advanced technology."},
	{ID: "System", Label: "System", Description: "Game-like interfaces, status screens, and leveling up in real life or fantasy."},
	{ID: "LitRPG", Label: "LitRPG", Description: "Narratives explicitly governed by RPG mechanics and stats."},
	{ID: "Urban Fantasy", Label: "Urban Fantasy", Description: "Magic and supernatural elements existing in a modern city setting."},
	{ID: "Xianxia", Label: "Xianxia", Description: "Chinese martial arts fantasy focused on cultivation and immortality."},
	{ID: "Romance", Label: "Romance", Description: "Focus on romantic love and emotional relationships."},
	{ID: "Mystery", Label: "Mystery", Description: "Solving a crime or unraveling secrets."},
	{ID: "Thriller", Label: "Thriller", Description: "High suspense, excitement, and anticipation."},
	{ID: "Horror", Label: "Horror", Description: "Intended to frighten, scare, or disgust."},
	{ID: "Slice of Life", Label: "Slice of Life", Description: "Mundane realism depicting everyday experiences."},
	{ID: "Cyberpunk", Label: "Cyberpunk", Description: "High-tech low-life, dystopia, cybernetics."},
	{ID: "Historical", Label: "Historical", Description: "Set in a specific period in the past."},
	{ID: "Comedy", Label: "Comedy", Description: "Humorous tone, intended to make readers laugh."},
	{ID: "Drama", Label: "Drama", Description: "Serious, plot-driven, portraying realistic characters and emotions."},
}

var ToneOptions = []string{
	"Dark & Gritty", "Lighthearted & Fun", "Serious & Emotional",
	"Cynical & Sarcastic", "Optimistic & Hopeful", "Suspenseful & Tense",
	"Whimsical & Magical", "Melancholic",
}

var StyleOptions = []string{
	"Descriptive & Flowery", "Minimalist & Direct", "Fast-Paced & Action-Oriented",
	"Dialogue-Heavy", "Introspective & Psychological", "Journalistic / Objective",
}

var ImageStyles = []string{
	"Anime / Manga Style",
	"Semi-Realistic Digital Art",
	"Photorealistic",
	"Oil Painting",
	"Watercolor",
	"Cyberpunk / Neon",
	"Dark Fantasy / Gothic",
	"Sketch / Pencil",
	"3D Render (Pixar Style)",
	"Retro / Pixel Art",
	"Fantasy Map / Cartography",
	"Concept Art (Environment)",
	"Concept Art (Item/Prop)",
}

const (
	DefaultCharacterImageStyle = "Semi-Realistic Digital Art"
	DefaultLocationImageStyle  = "Concept Art (Environment)"
	DefaultItemImageStyle      = "Concept Art (Item/Prop)"
)

var PlotStructures = []PlotStructure{
	{ID: "Hero's Journey", Name: "Hero's Journey"},
	{ID: "Save the Cat", Name: "Save the Cat"},
	{ID: "Three-Act Structure", Name: "Three-Act Structure"},
	{ID: "Fichtean Curve", Name: "Fichtean Curve"},
	{ID: "Seven Point Story Structure", Name: "Seven Point Story Structure"},
	{ID: "Dan Harmon's Story Circle", Name: "Dan Harmon's Story Circle"},
	{ID: "Kishōtenketsu", Name: "Kishōtenketsu (East Asian)"},
}

// Catalog 前端选择器使用的全部选项
type Catalog struct {
	Genres          []GenreDefinition `json:"genres"`
	Tones           []string          `json:"tones"`
	Styles          []string          `json:"styles"`
	ImageStyles     []string          `json:"imageStyles"`
	WorldCategories []WorldCategory   `json:"worldCategories"`
	PlotStructures  []PlotStructure   `json:"plotStructures"`
	Languages       []Language        `json:"languages"`
}

// DefaultCatalog 返回内置选项集合
func DefaultCatalog() Catalog {
	return Catalog{
		Genres:          GenreOptions,
		Tones:           ToneOptions,
		Styles:          StyleOptions,
		ImageStyles:     ImageStyles,
		WorldCategories: WorldCategories,
		PlotStructures:  PlotStructures,
		Languages:       []Language{LanguageEnglish, LanguageIndonesian},
	}
}
