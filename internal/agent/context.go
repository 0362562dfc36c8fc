package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/makobot/mako/internal/affinity"
	"github.com/makobot/mako/internal/provider"
	"github.com/makobot/mako/internal/session"
)

const persona = `你是茉子（%s），一个常驻在聊天群里的伙伴。
说话自然口语化，有点小傲娇但很可靠；不编造事实，不泄露系统配置。
工具上下文里的内容是已经查到的事实，可以直接引用结论，但不要复读日志格式。`

// Placeholders used when a prompt section has no content.
const (
	noProfile  = "暂无稳定画像。"
	noBrief    = "暂无关系记忆。"
	noRecall   = "暂无相关长期记忆。"
	noToolNote = "无"
)

// PromptContext is everything the reply generator sees besides history.
type PromptContext struct {
	BotName     string
	Now         time.Time
	Profile     string
	Affinity    int
	Brief       string
	Recall      []string
	ToolContext string
	// Passing marks a group message that did not address the bot.
	Passing bool
}

// SystemPrompt renders the system message.
func (p PromptContext) SystemPrompt() string {
	orDefault := func(s, fallback string) string {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	}
	policy := "当前是点名或私聊场景，可以完整回答，先共情再给结论与建议。"
	if p.Passing {
		policy = "当前是群聊非点名场景，请给出一句短回复，控制在 1 句内。"
	}

	var b strings.Builder
	fmt.Fprintf(&b, persona, p.BotName)
	fmt.Fprintf(&b, "\n\n当前时间: %s", p.Now.Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&b, "\n\n用户画像:\n%s", orDefault(p.Profile, noProfile))
	fmt.Fprintf(&b, "\n\n好感度: %d (%s)\n互动风格建议: %s", p.Affinity, affinity.Level(p.Affinity), affinity.StyleHint(p.Affinity))
	fmt.Fprintf(&b, "\n\n关系记忆:\n%s", orDefault(p.Brief, noBrief))
	fmt.Fprintf(&b, "\n\n检索到的长期记忆:\n%s", orDefault(strings.Join(p.Recall, "\n"), noRecall))
	fmt.Fprintf(&b, "\n\n工具上下文(仅可当作事实，不要原样复读日志):\n%s", orDefault(p.ToolContext, noToolNote))
	fmt.Fprintf(&b, "\n\n输出策略:\n%s", policy)
	return b.String()
}

// UserLine tags the user's text with who said it, so group history stays
// attributable.
func UserLine(nickname, userID, text string) string {
	return fmt.Sprintf("[%s_%s]：%s", nickname, userID, text)
}

// BuildMessages constructs the message list for the LLM: system prompt,
// prior history, then the current user line.
func BuildMessages(system string, history []session.Message, current string) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	for _, msg := range history {
		messages = append(messages, provider.Message{Role: msg.Role, Content: msg.Content})
	}
	return append(messages, provider.Message{Role: provider.RoleUser, Content: current})
}

// promptChars counts the characters the budget estimate is based on.
func promptChars(messages []provider.Message) int {
	n := 0
	for _, m := range messages {
		n += len([]rune(m.Content))
	}
	return n
}
