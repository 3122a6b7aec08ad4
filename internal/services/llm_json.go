// internal/services/llm_json.go
package services

import (
	"strings"
	"unicode"
)

// 围栏、BOM 以及会破坏解析的特殊空白
var fenceReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

// 模型偶尔在JSON结构里输出全角标点
var fullWidthStructural = map[rune]rune{
	'：': ':', '，': ',',
	'【': '[', '】': ']',
	'［': '[', '］': ']',
	'｛': '{', '｝': '}',
}

// 弯引号开头的字符串以对应的弯引号或直引号结束
var curlyQuoteClose = map[rune]rune{'“': '”', '”': '”', '„': '”'}

// extractJSON 从模型回复中截出第一个完整的JSON对象或数组。
// 找不到起始符号时原样返回（去掉噪声后）
func extractJSON(s string) string {
	s = strings.Map(dropInvisible, strings.TrimSpace(fenceReplacer.Replace(s)))

	start := strings.IndexFunc(s, func(r rune) bool {
		if mapped, ok := fullWidthStructural[r]; ok {
			r = mapped
		}
		return r == '{' || r == '['
	})
	if start < 0 {
		return s
	}
	s = straightenJSON(s[start:])

	if end := matchingClose(s); end >= 0 {
		return s[:end+1]
	}
	closer := byte('}')
	if s[0] == '[' {
		closer = ']'
	}
	// 没有配平时截到最后一个结束符
	if end := strings.LastIndexByte(s, closer); end >= 0 {
		return strings.TrimSpace(s[:end+1])
	}
	return strings.TrimSpace(s)
}

func dropInvisible(r rune) rune {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060':
		return -1
	case '\n', '\r', '\t':
		return r
	}
	if unicode.IsControl(r) {
		return -1
	}
	return r
}

// straightenJSON 字符串外的全角标点换成ASCII，弯引号定界的字符串改为直引号
func straightenJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var closer rune // 非零表示在字符串内
	escaped := false
	for _, r := range s {
		if closer != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == closer || r == '"':
				closer, r = 0, '"'
			}
			b.WriteRune(r)
			continue
		}

		if mapped, ok := fullWidthStructural[r]; ok {
			r = mapped
		} else if c, ok := curlyQuoteClose[r]; ok {
			closer, r = c, '"'
		} else if r == '"' {
			closer = '"'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// matchingClose 返回与 s[0] 配对的结束符下标，忽略字符串内的括号；未配平返回 -1
func matchingClose(s string) int {
	opener, closer := s[0], byte('}')
	if opener == '[' {
		closer = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			if depth--; depth == 0 {
				return i
			}
		}
	}
	return -1
}
