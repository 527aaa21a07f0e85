package telegram

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tu "github.com/mymmrac/telego/telegoutil"
)

// Telegram rejects messages longer than this.
const maxMessageLen = 4096

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// chunkMessage splits text into pieces of at most maxLen bytes, preferring
// to break after a newline in the second half of a chunk.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := runeCut(text, maxLen)
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// runeCut returns the largest offset <= n that does not split a UTF-8
// sequence in s.
func runeCut(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return n
	}
	return cut
}
