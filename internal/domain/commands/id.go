// Команда /id: диагностика идентификаторов. Ответ на reply показывает профиль
// автора процитированного сообщения (дочитывается через API), без reply —
// сведения о текущем чате из сущностей апдейта.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"transaction-userbot/internal/domain/tgutil"
	"transaction-userbot/internal/infra/logger"

	"github.com/gotd/td/tg"
)

// handleID выбирает ветку по наличию reply-заголовка. Любая внутренняя ошибка
// конвертируется в пользовательский ответ, чтобы команда не оставалась без ответа.
func (e *Executor) handleID(ctx context.Context, entities tg.Entities, msg *tg.Message) error {
	if replyTo, ok := tgutil.ReplyToMsgID(msg); ok {
		return e.replyUserInfo(ctx, msg, replyTo)
	}
	return e.replyChatInfo(ctx, entities, msg)
}

// replyUserInfo дочитывает процитированное сообщение и отвечает профилем его автора.
func (e *Executor) replyUserInfo(ctx context.Context, msg *tg.Message, replyTo int) error {
	if e.fetcher == nil {
		return errors.New("commands: fetcher is not configured")
	}

	fetched, err := e.fetcher.FetchMessage(ctx, msg, replyTo)
	if err != nil {
		logger.Errorf("Commands: /id fetch message %d failed: %v", replyTo, err)
		return e.replier.Reply(ctx, msg, "❌ Không thể lấy thông tin user được reply")
	}
	if fetched == nil || fetched.Msg == nil {
		return e.replier.Reply(ctx, msg, "❌ Không tìm thấy tin nhắn được reply")
	}

	sender, ok := fetched.SenderUser()
	if !ok || sender == nil {
		return e.replier.Reply(ctx, msg, "❌ Không thể lấy thông tin người gửi tin nhắn được reply")
	}

	return e.replier.Reply(ctx, msg, formatUserInfo(sender))
}

// formatUserInfo собирает карточку пользователя; опциональные поля добавляются
// только при наличии.
func formatUserInfo(user *tg.User) string {
	var b strings.Builder
	b.WriteString("👤 **Thông tin User**\n\n")
	fmt.Fprintf(&b, "🆔 User ID: `%d`\n", user.ID)

	if first, ok := user.GetFirstName(); ok && first != "" {
		fullName := first
		if last, okLast := user.GetLastName(); okLast && last != "" {
			fullName += " " + last
		}
		fmt.Fprintf(&b, "📝 Tên: %s\n", fullName)
	}
	if username, ok := user.GetUsername(); ok && username != "" {
		fmt.Fprintf(&b, "🔗 Username: @%s\n", username)
	}
	if phone, ok := user.GetPhone(); ok && phone != "" {
		fmt.Fprintf(&b, "📞 Phone: +%s\n", phone)
	}
	if user.Bot {
		b.WriteString("🤖 Bot: Có\n")
	}
	if user.Verified {
		b.WriteString("✅ Verified: Có\n")
	}
	if user.Premium {
		b.WriteString("⭐ Premium: Có\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// replyChatInfo отвечает сведениями о текущем чате. Сущности берутся из апдейта;
// если чата в них нет, деградируем до голого идентификатора.
func (e *Executor) replyChatInfo(ctx context.Context, entities tg.Entities, msg *tg.Message) error {
	chatID := tgutil.PeerID(msg.PeerID)

	var b strings.Builder
	b.WriteString("🆔 **ID Chat hiện tại**\n\n")
	fmt.Fprintf(&b, "📋 Chat ID: `%d`\n", chatID)

	switch peer := msg.PeerID.(type) {
	case *tg.PeerUser:
		if user, ok := entities.Users[peer.UserID]; ok && user != nil {
			if first, okName := user.GetFirstName(); okName && first != "" {
				fmt.Fprintf(&b, "📝 Tên: %s\n", first)
			}
			if username, okUser := user.GetUsername(); okUser && username != "" {
				fmt.Fprintf(&b, "🔗 Username: @%s\n", username)
			}
		}
		b.WriteString("📂 Loại: Chat cá nhân")
	case *tg.PeerChat:
		if chat, ok := entities.Chats[peer.ChatID]; ok && chat != nil && chat.Title != "" {
			fmt.Fprintf(&b, "📝 Tên nhóm: %s\n", chat.Title)
		}
		b.WriteString("📂 Loại: Nhóm thường")
	case *tg.PeerChannel:
		kind := "Kênh (Channel)"
		if channel, ok := entities.Channels[peer.ChannelID]; ok && channel != nil {
			if channel.Title != "" {
				fmt.Fprintf(&b, "📝 Tên nhóm: %s\n", channel.Title)
			}
			if username, okUser := channel.GetUsername(); okUser && username != "" {
				fmt.Fprintf(&b, "🔗 Username: @%s\n", username)
			}
			if channel.Megagroup {
				kind = "Siêu nhóm (Supergroup)"
			}
		}
		b.WriteString("📂 Loại: " + kind)
	default:
		b.WriteString("📂 Loại: không rõ")
	}

	return e.replier.Reply(ctx, msg, b.String())
}
