// Package commands реализует административную поверхность userbot: текстовые
// команды /1, /status, /help, /id и /pic2. Команды приходят обычными сообщениями
// в любой чат аккаунта; каждая распознанная команда отвечает ровно одним
// сообщением, нераспознанные игнорируются молча.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transaction-userbot/internal/adapters/telegram/sender"
	"transaction-userbot/internal/domain/match"
	"transaction-userbot/internal/domain/settings"
	"transaction-userbot/internal/infra/logger"

	"github.com/gotd/td/tg"
)

// internalErrorReply отправляется при сбое внутри обработчика команды,
// чтобы команда всегда завершалась ровно одним ответом.
const internalErrorReply = "❌ Có lỗi xảy ra khi xử lý lệnh"

// Replier отправляет текстовый ответ на сообщение. Реализуется telegram-сендером;
// в тестах подменяется фейком.
type Replier interface {
	Reply(ctx context.Context, msg *tg.Message, text string) error
}

// Fetcher дочитывает сообщение чата по идентификатору (для /id по reply).
type Fetcher interface {
	FetchMessage(ctx context.Context, msg *tg.Message, id int) (*sender.FetchResult, error)
}

// Executor хранит зависимости командной поверхности и время старта процесса
// для вычисления uptime.
type Executor struct {
	replier Replier
	fetcher Fetcher
	engine  *settings.Engine
	started time.Time
}

// NewExecutor создаёт Executor. started фиксирует момент запуска процесса.
func NewExecutor(replier Replier, fetcher Fetcher, engine *settings.Engine, started time.Time) *Executor {
	if replier == nil {
		panic("commands: replier must not be nil")
	}
	if engine == nil {
		panic("commands: settings engine must not be nil")
	}
	return &Executor{
		replier: replier,
		fetcher: fetcher,
		engine:  engine,
		started: started,
	}
}

// Run диспетчеризует распознанную команду. Возвращает true, если имя команды
// известно (даже если обработка завершилась ошибкой): вызывающей стороне этого
// достаточно, чтобы не передавать сообщение дальше по конвейеру.
func (e *Executor) Run(ctx context.Context, entities tg.Entities, msg *tg.Message, cmd match.Command) bool {
	switch cmd.Name {
	case "/1":
		e.runGuarded(ctx, msg, cmd, e.handleToggle)
	case "/status":
		e.runGuarded(ctx, msg, cmd, e.handleStatus)
	case "/help":
		e.runGuarded(ctx, msg, cmd, e.handleHelp)
	case "/id":
		e.runGuardedEntities(ctx, entities, msg, cmd, e.handleID)
	case "/pic2":
		e.runGuarded(ctx, msg, cmd, e.handlePic2)
	default:
		// Неизвестная команда: молчим, это может быть команда другого бота.
		return false
	}
	return true
}

// runGuarded выполняет обработчик с паник-барьером. Упавший обработчик не
// роняет цикл апдейтов, а пользователь получает общий ответ об ошибке.
func (e *Executor) runGuarded(
	ctx context.Context,
	msg *tg.Message,
	cmd match.Command,
	handle func(ctx context.Context, msg *tg.Message, cmd match.Command) error,
) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Commands: panic in %s handler: %v", cmd.Name, r)
			e.apologize(ctx, msg)
		}
	}()
	if err := handle(ctx, msg, cmd); err != nil {
		logger.Errorf("Commands: %s failed: %v", cmd.Name, err)
	}
}

// runGuardedEntities — вариант runGuarded для обработчиков, которым нужны
// сущности апдейта (/id читает профили из них).
func (e *Executor) runGuardedEntities(
	ctx context.Context,
	entities tg.Entities,
	msg *tg.Message,
	cmd match.Command,
	handle func(ctx context.Context, entities tg.Entities, msg *tg.Message) error,
) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Commands: panic in %s handler: %v", cmd.Name, r)
			e.apologize(ctx, msg)
		}
	}()
	if err := handle(ctx, entities, msg); err != nil {
		logger.Errorf("Commands: %s failed: %v", cmd.Name, err)
	}
}

// apologize отправляет общий ответ об ошибке; сбой самой отправки только логируется.
func (e *Executor) apologize(ctx context.Context, msg *tg.Message) {
	if err := e.replier.Reply(ctx, msg, internalErrorReply); err != nil {
		logger.Errorf("Commands: apology reply failed: %v", err)
	}
}

// handleToggle реализует /1: без аргументов — показать состояние, on/off —
// переключить и сохранить, всё остальное — подсказка по использованию.
func (e *Executor) handleToggle(ctx context.Context, msg *tg.Message, cmd match.Command) error {
	if len(cmd.Args) == 0 {
		status := "TẮT"
		if e.engine.ReplyEnabled() {
			status = "BẬT"
		}
		text := fmt.Sprintf("⚙️ Trạng thái hiện tại: %s\nDùng /1 on để bật, /1 off để tắt", status)
		return e.replier.Reply(ctx, msg, text)
	}

	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		e.engine.SetReplyEnabled(true)
		logger.Info("Commands: авто-reply включён")
		return e.replier.Reply(ctx, msg, "✅ Đã BẬT chức năng reply giao dịch")
	case "off":
		e.engine.SetReplyEnabled(false)
		logger.Info("Commands: авто-reply выключен")
		return e.replier.Reply(ctx, msg, "❌ Đã TẮT chức năng reply giao dịch")
	default:
		return e.replier.Reply(ctx, msg, "❗ Sử dụng: /1 on hoặc /1 off")
	}
}

// handleStatus собирает сводку: состояние тумблера, текст ответа, число pic2-правил
// и uptime процесса с точностью до минут.
func (e *Executor) handleStatus(ctx context.Context, msg *tg.Message, _ match.Command) error {
	status := "🔴 TẮT"
	if e.engine.ReplyEnabled() {
		status = "🟢 BẬT"
	}

	uptime := time.Since(e.started)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	text := strings.TrimSpace(fmt.Sprintf(`
📊 **Trạng thái UserBot**

🤖 Bot: Đang hoạt động
⚙️ Reply giao dịch: %s
💬 Tin nhắn reply: "%s"
📸 Pic2 rules: %d
⏱️ Uptime: %dh %dm

📝 Commands:
/1 on - Bật reply
/1 off - Tắt reply
/status - Xem trạng thái
/id - Xem ID chat/user
/help - Hướng dẫn
`, status, e.engine.ReplyMessage(), e.engine.Pic2Count(), hours, minutes))

	return e.replier.Reply(ctx, msg, text)
}

// handleHelp отвечает статической справкой по всем командам.
func (e *Executor) handleHelp(ctx context.Context, msg *tg.Message, _ match.Command) error {
	text := strings.TrimSpace(`
🤖 **Bank Transaction UserBot**

**Chức năng:**
Bot sẽ tự động phát hiện tin nhắn giao dịch ngân hàng và reply bằng số "1"

**Định dạng tin nhắn được phát hiện:**
- Tiền vào: +2,000 đ
- Tài khoản: 20918031 tại ACB
- Lúc: 2025-07-20 11:10:22
- Nội dung CK: ...

**Commands:**
/1 on - Bật chức năng reply
/1 off - Tắt chức năng reply
/1 - Xem trạng thái hiện tại
/status - Xem thông tin chi tiết
/id - Xem ID nhóm hiện tại
/id (reply) - Xem ID của user được reply
/pic2 on <chatId> <user> <message> - Bật auto-reply ảnh
/pic2 off <chatId> - Tắt auto-reply ảnh
/pic2 list - Xem danh sách rule
/help - Hiển thị hướng dẫn này

⚠️ **Lưu ý:** Bot chỉ reply tin nhắn có đầy đủ thông tin giao dịch
`)

	return e.replier.Reply(ctx, msg, text)
}
