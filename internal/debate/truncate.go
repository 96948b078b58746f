package debate

import "strings"

// Placeholder 是生成失敗時代替的發言
const Placeholder = "Error generating a response. Please try again."

// Truncate 超過 maxWords 個字時只保留前 maxWords 個字並加上 "..."
// 未超過時原文不變
func Truncate(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
