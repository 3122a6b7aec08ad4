// internal/models/character.go
package models

// Character 表示小说中的一个角色档案
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"` // Protagonist, Antagonist, Support...
	Age         string `json:"age"`
	Appearance  string `json:"appearance"`
	Personality string `json:"personality"`
	Voice       string `json:"voice"` // 说话方式
	Strengths   string `json:"strengths"`
	Weaknesses  string `json:"weaknesses"`
	Backstory   string `json:"backstory"`

	AvatarBase64 string `json:"avatarBase64,omitempty"`
	ImageStyle   string `json:"imageStyle,omitempty"`
}

// ChatRole 对话消息的发送方
type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

// ChatMessage 写作助手对话中的一条消息
type ChatMessage struct {
	Role      ChatRole `json:"role"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
}
