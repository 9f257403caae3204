package llm

import (
	"context"
	"fmt"
	"strings"
)

// Client 定义了调用大模型的统一接口。
type Client interface {
	CompleteChat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// CompleteChat implements Client.
func (f Func) CompleteChat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// 编排器使用的系统提示词。
const (
	RiskAnalystPrompt = "You are a risk analyst for Hedera wallets. " +
		"Rewrite the scan report below for the user in at most six short sentences. " +
		"Keep every number exactly as given and do not invent data."
	NewsAnalystPrompt = "You are a crypto market analyst. " +
		"Summarize the headlines and sentiment below in three sentences for a retail holder of Hedera tokens."
)

// Section is one titled block of a user prompt.
type Section struct {
	Title string
	Lines []string
}

// BuildPrompt renders sections as a markdown-ish prompt. Empty sections are
// skipped and overly long lines are truncated.
func BuildPrompt(sections ...Section) string {
	var builder strings.Builder
	for _, s := range sections {
		if len(s.Lines) == 0 {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("## %s\n", strings.TrimSpace(s.Title)))
		for _, line := range s.Lines {
			builder.WriteString(Truncate(line, 160))
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

// Truncate cuts text to at most limit runes, appending "..." when it did.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
