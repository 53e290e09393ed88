// Команда /pic2: управление пер-чатовыми правилами auto-reply на фотографии.
// Подкоманды: on (создать/заменить правило), off (удалить), list (перечислить).
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"transaction-userbot/internal/domain/match"
	"transaction-userbot/internal/domain/settings"
	"transaction-userbot/internal/infra/logger"

	"github.com/gotd/td/tg"
)

const pic2Usage = "❗ Sử dụng:\n" +
	"/pic2 on <chatId> <@user|userId> <message> - Bật auto-reply ảnh\n" +
	"/pic2 off <chatId> - Tắt auto-reply ảnh\n" +
	"/pic2 list - Xem danh sách rule"

// handlePic2 диспетчеризует подкоманды; всё нераспознанное отвечает подсказкой.
func (e *Executor) handlePic2(ctx context.Context, msg *tg.Message, cmd match.Command) error {
	if len(cmd.Args) == 0 {
		return e.replier.Reply(ctx, msg, pic2Usage)
	}

	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		return e.pic2On(ctx, msg, cmd.Args[1:])
	case "off":
		return e.pic2Off(ctx, msg, cmd.Args[1:])
	case "list":
		return e.pic2List(ctx, msg)
	default:
		return e.replier.Reply(ctx, msg, pic2Usage)
	}
}

// pic2On валидирует аргументы и создаёт (или заменяет) правило чата.
// Формат: <chatId> <@user|userId> <message...>; текст ответа собирается из
// оставшихся аргументов через одиночные пробелы.
func (e *Executor) pic2On(ctx context.Context, msg *tg.Message, args []string) error {
	if len(args) < 3 {
		return e.replier.Reply(ctx, msg, pic2Usage)
	}

	chatID, err := parseChatID(args[0])
	if err != nil {
		return e.replier.Reply(ctx, msg, fmt.Sprintf("❌ Chat ID không hợp lệ: %s", args[0]))
	}
	userRef := args[1]
	if !validUserRef(userRef) {
		return e.replier.Reply(ctx, msg, fmt.Sprintf("❌ User không hợp lệ: %s", userRef))
	}
	replyText := strings.Join(args[2:], " ")

	e.engine.UpsertPic2(chatID, settings.Pic2Rule{
		Enabled:      true,
		TargetUser:   userRef,
		ReplyMessage: replyText,
	})
	logger.Infof("Commands: pic2 rule set chat=%d user=%s", chatID, userRef)

	text := fmt.Sprintf("✅ Đã bật auto-reply ảnh cho chat `%d`\n👤 User: %s\n💬 Tin nhắn: \"%s\"", chatID, userRef, replyText)
	return e.replier.Reply(ctx, msg, text)
}

// pic2Off удаляет правило чата; отсутствие правила — пользовательская ошибка,
// настройки при этом не перезаписываются.
func (e *Executor) pic2Off(ctx context.Context, msg *tg.Message, args []string) error {
	if len(args) != 1 {
		return e.replier.Reply(ctx, msg, pic2Usage)
	}

	chatID, err := parseChatID(args[0])
	if err != nil {
		return e.replier.Reply(ctx, msg, fmt.Sprintf("❌ Chat ID không hợp lệ: %s", args[0]))
	}

	if !e.engine.DeletePic2(chatID) {
		return e.replier.Reply(ctx, msg, fmt.Sprintf("❌ Không có rule nào cho chat `%d`", chatID))
	}
	logger.Infof("Commands: pic2 rule removed chat=%d", chatID)

	return e.replier.Reply(ctx, msg, fmt.Sprintf("✅ Đã tắt auto-reply ảnh cho chat `%d`", chatID))
}

// pic2List перечисляет правила в детерминированном порядке (по chatId).
func (e *Executor) pic2List(ctx context.Context, msg *tg.Message) error {
	rules := e.engine.Snapshot().Pic2
	if len(rules) == 0 {
		return e.replier.Reply(ctx, msg, "📭 Chưa có rule auto-reply ảnh nào")
	}

	chatIDs := make([]int64, 0, len(rules))
	for chatID := range rules {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })

	var b strings.Builder
	b.WriteString("📸 **Danh sách Pic2 rules**\n")
	for _, chatID := range chatIDs {
		rule := rules[chatID]
		status := "🔴 TẮT"
		if rule.Enabled {
			status = "🟢 BẬT"
		}
		fmt.Fprintf(&b, "\n📋 Chat `%d`: %s\n👤 User: %s\n💬 Tin nhắn: \"%s\"\n",
			chatID, status, rule.TargetUser, rule.ReplyMessage)
	}

	return e.replier.Reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

// parseChatID принимает знаковую десятичную строку идентификатора чата.
func parseChatID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// validUserRef принимает либо "@"+непустой username, либо строку из одних цифр
// (числовой user-id).
func validUserRef(ref string) bool {
	if username, ok := strings.CutPrefix(ref, "@"); ok {
		return username != ""
	}
	if ref == "" {
		return false
	}
	for _, r := range ref {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
