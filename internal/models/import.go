// internal/models/import.go
package models

// StoryDNA 从导入文本中提取出的故事要素
type StoryDNA struct {
	Title        string      `json:"title"`
	Premise      string      `json:"premise"`
	Tone         string      `json:"tone"`
	WritingStyle string      `json:"writingStyle"`
	PlotOutline  string      `json:"plotOutline"`
	Characters   []Character `json:"characters"`
	WorldItems   []WorldItem `json:"worldItems"`
}

// Empty 模型返回了空对象时视为提取失败
func (d *StoryDNA) Empty() bool {
	return d == nil || (d.Title == "" && d.Premise == "" && d.PlotOutline == "" &&
		len(d.Characters) == 0 && len(d.WorldItems) == 0)
}

// StorySetup 自动生成的故事基础设定
type StorySetup struct {
	Title        string `json:"title"`
	Premise      string `json:"premise"`
	Tone         string `json:"tone"`
	WritingStyle string `json:"writingStyle"`
}

// ImportResult 导入流程的结果
type ImportResult struct {
	Story        Story  `json:"story"`
	ChapterCount int    `json:"chapterCount"`
	TaskID       string `json:"taskId,omitempty"`
}

// GenesisResult 创世模式生成的内容
type GenesisResult struct {
	WorldItems  []WorldItem `json:"worldItems"`
	Characters  []Character `json:"characters"`
	PlotOutline string      `json:"plotOutline"`
}

// PanicResult 冲刺写作的结果，失败时保留已生成的部分。
// Error 为第一个失败节拍的错误，Skipped 列出所有被跳过的节拍
type PanicResult struct {
	Beats     []string      `json:"beats"`
	Text      string        `json:"text"`
	Completed int           `json:"completed"`
	Error     string        `json:"error,omitempty"`
	Skipped   []SkippedBeat `json:"skipped,omitempty"`
}

// SkippedBeat Index 为 Beats 中的下标
type SkippedBeat struct {
	Index int    `json:"index"`
	Beat  string `json:"beat"`
	Error string `json:"error"`
}
