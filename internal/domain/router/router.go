// Package router — классификатор входящих событий Telegram. Для каждого нового
// сообщения выполняется фиксированная цепочка проверок: дедупликация, команды,
// фото-триггер, глобальный тумблер, распознавание банковской транзакции.
// Порядок шагов — поведенческий контракт: команды живут всегда (даже от самого
// аккаунта при выключенном тумблере), фото-триггер не зависит от тумблера,
// транзакционный ответ срабатывает и на собственные исходящие уведомления.
package router

import (
	"context"
	"time"

	"transaction-userbot/internal/domain/match"
	"transaction-userbot/internal/domain/settings"
	"transaction-userbot/internal/domain/tgutil"
	"transaction-userbot/internal/infra/dedup"
	"transaction-userbot/internal/infra/logger"

	"github.com/gotd/td/tg"
)

// Replier отправляет ответ-цитату на сообщение.
type Replier interface {
	Reply(ctx context.Context, msg *tg.Message, text string) error
}

// CommandRunner исполняет распознанную команду. Возвращает true для известных команд.
type CommandRunner interface {
	Run(ctx context.Context, entities tg.Entities, msg *tg.Message, cmd match.Command) bool
}

// EntityWarmer прогревает кэш пиров сущностями апдейта. Необязательная зависимость.
type EntityWarmer interface {
	ApplyEntities(ctx context.Context, entities tg.Entities) error
}

// Router связывает дедупликацию, настройки и исполнителей реакций.
type Router struct {
	dedup   *dedup.Store
	engine  *settings.Engine
	replier Replier
	cmds    CommandRunner
	warmer  EntityWarmer
}

// New создаёт Router. warmer может быть nil.
func New(store *dedup.Store, engine *settings.Engine, replier Replier, cmds CommandRunner, warmer EntityWarmer) *Router {
	if store == nil {
		panic("router: dedup store must not be nil")
	}
	if engine == nil {
		panic("router: settings engine must not be nil")
	}
	if replier == nil {
		panic("router: replier must not be nil")
	}
	if cmds == nil {
		panic("router: command runner must not be nil")
	}
	return &Router{
		dedup:   store,
		engine:  engine,
		replier: replier,
		cmds:    cmds,
		warmer:  warmer,
	}
}

// Attach подписывает Router на новые сообщения личных чатов, групп и каналов.
func (r *Router) Attach(dispatcher *tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateNewMessage) error {
		if msg, ok := update.Message.(*tg.Message); ok {
			r.Handle(ctx, entities, msg)
		}
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateNewChannelMessage) error {
		if msg, ok := update.Message.(*tg.Message); ok {
			r.Handle(ctx, entities, msg)
		}
		return nil
	})
}

// Handle прогоняет одно сообщение через конвейер классификации. Порядок шагов
// фиксирован; паника внутри обработчика гасится барьером и не роняет цикл апдейтов.
func (r *Router) Handle(ctx context.Context, entities tg.Entities, msg *tg.Message) {
	identity := dedup.Ident{ChatID: tgutil.PeerID(msg.PeerID), MsgID: msg.ID}
	eventKey := dedup.EventKey(identity.ChatID, identity.MsgID)

	// Шаг 1: повторная доставка уже обработанного события.
	if r.dedup.ShouldSkip(eventKey) {
		logger.Debugf("Router: skip duplicate %s", identity)
		return
	}

	// Шаг 2: атомарный захват in-flight. Проигравшая конкурентная доставка
	// той же identity отбрасывается, не ставится в очередь.
	if !r.dedup.MarkInFlight(identity) {
		logger.Debugf("Router: skip in-flight %s", identity)
		return
	}
	defer func() {
		r.dedup.ClearInFlight(identity)
		r.dedup.EvictIfOversize()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("Router: panic while handling %s: %v", identity, rec)
		}
	}()

	r.warmEntities(ctx, entities)

	// Шаг 3: команды. Всегда живые: и от самого аккаунта, и при выключенном тумблере.
	if cmd, ok := match.ParseCommand(msg.Message); ok {
		r.dedup.MarkHandled(eventKey, time.Now())
		r.cmds.Run(ctx, entities, msg, cmd)
		return
	}

	// Шаг 4: фото-триггер. Независим от глобального тумблера.
	r.evalPhotoTrigger(ctx, entities, msg, identity)

	// Шаг 5: глобальный тумблер транзакционных ответов.
	if !r.engine.ReplyEnabled() {
		return
	}

	// Шаг 6: банковская транзакция. Срабатывает и на собственные исходящие
	// уведомления: self-sent транзакции тоже требуют подтверждения.
	if match.IsTransactionMessage(msg.Message) {
		r.dedup.MarkHandled(eventKey, time.Now())
		r.replyTransaction(ctx, msg, identity)
		return
	}

	// Шаги 7-8: собственная нетранзакционная болтовня и обычный входящий текст
	// отбрасываются без действий.
}

// warmEntities прогревает персистентный кэш пиров сущностями апдейта,
// чтобы последующие отправки не требовали сетевого резолва.
func (r *Router) warmEntities(ctx context.Context, entities tg.Entities) {
	if r.warmer == nil {
		return
	}
	if err := r.warmer.ApplyEntities(ctx, entities); err != nil {
		logger.Debugf("Router: warm entities failed: %v", err)
	}
}

// evalPhotoTrigger проверяет пер-чатовое правило auto-reply на фотографии.
// Каждое условие отсекает молча; ответ защищён отдельным dedup-ключом,
// чтобы повторная доставка не породила второй ответ.
func (r *Router) evalPhotoTrigger(ctx context.Context, entities tg.Entities, msg *tg.Message, identity dedup.Ident) {
	rule, ok := r.engine.Pic2Rule(identity.ChatID)
	if !ok || !rule.Enabled {
		return
	}
	if !match.HasPhoto(msg) {
		return
	}
	sender := tgutil.SenderUser(msg, entities)
	if sender == nil {
		return
	}
	if !match.IsTargetUser(sender, rule.TargetUser) {
		return
	}
	if !r.dedup.MarkOnce(dedup.Pic2Key(identity.ChatID, identity.MsgID), time.Now()) {
		return
	}

	logger.Infof("Router: pic2 trigger chat=%d msg=%d user=%s", identity.ChatID, identity.MsgID, rule.TargetUser)
	if err := r.replier.Reply(ctx, msg, rule.ReplyMessage); err != nil {
		// Доставка at-most-once: ошибку логируем, ретраев нет.
		logger.Errorf("Router: pic2 reply failed for %s: %v", identity, err)
	}
}

// replyTransaction отправляет подтверждение на распознанную банковскую транзакцию.
// Отдельный dedup-ключ гарантирует не более одного ответа на сообщение.
func (r *Router) replyTransaction(ctx context.Context, msg *tg.Message, identity dedup.Ident) {
	if !r.dedup.MarkOnce(dedup.ReplyKey(identity.ChatID, identity.MsgID), time.Now()) {
		logger.Debugf("Router: transaction reply already sent for %s", identity)
		return
	}

	amount := match.ExtractAmount(msg.Message)
	info := match.ExtractAccountInfo(msg.Message)
	logger.Infof("Router: транзакция chat=%d msg=%d сумма=%s банк=%s счёт=%s",
		identity.ChatID, identity.MsgID, amount, info.Bank, info.Account)

	if err := r.replier.Reply(ctx, msg, r.engine.ReplyMessage()); err != nil {
		// Доставка at-most-once: ошибку логируем, ретраев нет.
		logger.Errorf("Router: transaction reply failed for %s: %v", identity, err)
	}
}
