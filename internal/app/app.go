// Package app — верхний уровень сборки и инициализации userbot. Здесь связываются
// конфигурация, сетевой слой (gotd/telegram), диспетчер апдейтов, настройки,
// дедупликация и маршрутизация событий. Отсюда стартует цикл обработки и
// обеспечивается корректный shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transaction-userbot/internal/adapters/telegram/sender"
	"transaction-userbot/internal/domain/commands"
	"transaction-userbot/internal/domain/router"
	"transaction-userbot/internal/domain/settings"
	"transaction-userbot/internal/infra/config"
	"transaction-userbot/internal/infra/dedup"
	"transaction-userbot/internal/infra/logger"
	"transaction-userbot/internal/infra/storage"
	"transaction-userbot/internal/infra/telegram/connection"
	"transaction-userbot/internal/infra/telegram/peersmgr"
	"transaction-userbot/internal/infra/telegram/session"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

// Version отправляется Telegram как версия приложения в паспорте устройства.
const Version = "1.0.0"

const stateFilePerm = 0o600

// lazyUpdateHandler — обёртка, которая позволяет отложить установку реального
// обработчика апдейтов, разрывая цикл инициализации client ↔ updates.Manager.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// App агрегирует зависимости userbot и управляет их связью.
// Отвечает за:
//   - телеграм-клиента (сессия, авторизация, middlewares),
//   - настройки с файловой персистенцией и движок дедупликации,
//   - маршрутизацию апдейтов на классификатор,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.
	dedup      *dedup.Store       // Дедупликация событий: окно, in-flight, вытеснение.
	engine     *settings.Engine   // Настройки с персистенцией на каждую мутацию.
	peers      *peersmgr.Service  // Менеджер пиров + persist storage.
	updMgr     *tgupdates.Manager // Менеджер апдейтов gotd: поток событий и локальное состояние.
	waiter     *floodwait.Waiter  // Middleware для обработки FLOOD_WAIT.
	runner     *Runner            // Оркестратор жизненного цикла.
}

// NewApp создаёт каркас приложения. Фактическая инициализация выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run собирает зависимости и запускает основной цикл: клиента, менеджер апдейтов
// и Runner. Блокируется до остановки приложения.
func (a *App) Run() error {
	logger.Info("Userbot initializing...")

	env := config.Env()

	dispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	a.waiter = floodwait.NewWaiter()

	// Опции MTProto-клиента: сессия, хуки апдейтов, поведение при dead-соединении
	// и паспорт устройства.
	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			a.waiter,
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		// При сообщении от gotd о «мёртвом» соединении отмечаем отключение для зависимых узлов.
		OnDead: func() {
			connection.MarkDisconnected()
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    Version,
		},
	}

	// Для тестовых окружений используем DC тестового стенда Telegram.
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(env.APIID, env.APIHash, options)

	peersSvc, peersErr := peersmgr.New(client.API(), env.PeersFile)
	if peersErr != nil {
		return fmt.Errorf("init peers manager: %w", peersErr)
	}
	if err := peersSvc.LoadFromStorage(a.mainCtx); err != nil {
		return fmt.Errorf("load peers storage: %w", err)
	}
	a.peers = peersSvc

	// Хранилище состояния апдейтов (pts/qts/seq) на bbolt.
	if err := storage.EnsureDir(env.StateFile); err != nil {
		return fmt.Errorf("ensure state file dir: %w", err)
	}
	stateDB, err := bbolt.Open(env.StateFile, stateFilePerm, nil)
	if err != nil {
		return errors.Wrap(err, "create bolt storage")
	}
	stateStorage := boltstor.NewStateStorage(stateDB)

	a.updMgr = tgupdates.New(tgupdates.Config{
		Handler:      dispatcher,
		Storage:      stateStorage,
		AccessHasher: peersSvc.Mgr,
	})

	// Реальный обработчик: hook персистентного хранилища пиров поверх менеджера апдейтов.
	realHandler := contribstorage.UpdateHook(peersSvc.Mgr.UpdateHook(a.updMgr), peersSvc.Store())
	lazyHandler.set(realHandler)

	// Настройки: файл самовосстанавливается при отсутствии или порче.
	settingsStore, err := settings.NewFileStore(env.SettingsFile)
	if err != nil {
		return fmt.Errorf("init settings store: %w", err)
	}
	a.engine = settings.NewEngine(settingsStore)

	// Дедупликация с настраиваемым окном.
	a.dedup = dedup.NewStore(time.Duration(env.DedupWindowMS) * time.Millisecond)

	// Исходящая сторона и командная поверхность.
	snd := sender.New(client.API(), peersSvc)
	executor := commands.NewExecutor(snd, snd, a.engine, time.Now())

	// Классификатор входящих событий.
	rtr := router.New(a.dedup, a.engine, snd, executor, peersSvc)
	rtr.Attach(&dispatcher)

	a.runner = NewRunner(a.mainCtx, a.mainCancel, client, a.dedup, a.peers)

	return a.runner.Run(a.waiter, a.updMgr)
}
