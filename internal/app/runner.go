// Файл runner.go — точка оркестрации: запуск сервисов в правильном порядке,
// авторизация, старт менеджера обновлений и корректный graceful shutdown.
// Назначение: гарантировать стабильный запуск и предсказуемое завершение так,
// чтобы in-flight обработчики доработали до гашения сетевого уровня.
package app

import (
	"context"
	"sync"

	tgauth "transaction-userbot/internal/adapters/telegram/auth"
	"transaction-userbot/internal/infra/config"
	"transaction-userbot/internal/infra/dedup"
	"transaction-userbot/internal/infra/logger"
	"transaction-userbot/internal/infra/telegram/connection"
	"transaction-userbot/internal/infra/telegram/peersmgr"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Runner инкапсулирует сценарий запуска и остановки Telegram-клиента и подсистем.
// Отвечает за:
//   - авторизацию и идентификацию текущего пользователя (self),
//   - линейный запуск сервисов в правильном порядке,
//   - корректное завершение: сначала сервисы, затем MTProto-движок.
type Runner struct {
	client        *telegram.Client   // Обёртка над MTProto-клиентом и API: логин, Self(), API-интерфейс.
	dedup         *dedup.Store       // Дедупликация событий: фоновая очистка просроченных записей.
	peers         *peersmgr.Service  // Сервис пиров (peers.Manager + persist storage).
	mainCtx       context.Context    // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel    context.CancelFunc // Функция, инициирующая общий shutdown.
	updatesWG     sync.WaitGroup     // WaitGroup для updates_manager.
	updatesCancel context.CancelFunc // Отмена контекста updates_manager.
}

// NewRunner подготавливает Runner с переданными зависимостями.
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	client *telegram.Client,
	dedupStore *dedup.Store,
	peers *peersmgr.Service,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		client:     client,
		dedup:      dedupStore,
		peers:      peers,
	}
}

// Run — главный цикл userbot. Выполняет логин, запуск узлов и updates.Manager,
// блокируется до завершения клиентского контекста. Для MTProto-движка используется
// отдельный контекст, чтобы сервисы успели остановиться до гашения сети.
func (r *Runner) Run(waiter *floodwait.Waiter, updmgr *tgupdates.Manager) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	// Отслеживание сигналов запускаем сразу, чтобы Ctrl+C работал во время инициализации.
	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-r.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	})

	return waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.client.Run(ctx, func(ctx context.Context) error {
			logger.Info("Userbot running...")

			self, loginErr := r.loginSelf(ctx)
			if loginErr != nil {
				return loginErr
			}

			if err := r.initPeers(ctx); err != nil {
				return err
			}

			if err := r.startAllServices(ctx, updmgr, self.ID); err != nil {
				r.stopAllServices()
				return err
			}

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

// loginSelf выполняет интерактивную авторизацию (при необходимости) и
// возвращает профиль текущего аккаунта.
func (r *Runner) loginSelf(ctx context.Context) (*tg.User, error) {
	flow := auth.NewFlow(
		tgauth.TerminalAuthenticator{PhoneNumber: config.Env().PhoneNumber},
		auth.SendCodeOptions{},
	)

	if err := r.client.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	self, err := r.client.Self(ctx)
	if err != nil {
		return nil, err
	}
	logger.Logger().Info("Logged in as:",
		zap.String("FirstName", self.FirstName),
		zap.String("LastName", self.LastName),
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

// initPeers инициализирует peers.Manager после логина и прогружает сохранённый кэш.
func (r *Runner) initPeers(ctx context.Context) error {
	if r.peers == nil {
		return nil
	}

	if err := r.peers.Mgr.Init(ctx); err != nil {
		logger.Errorf("failed to init peers manager: %v", err)
		return err
	}

	// Ошибка загрузки кэша не фатальна: записи восстановятся из апдейтов.
	if err := r.peers.LoadFromStorage(ctx); err != nil {
		logger.Errorf("failed to load peers from storage: %v", err)
	}

	return nil
}

func (r *Runner) startAllServices(ctx context.Context, updmgr *tgupdates.Manager, selfID int64) error {
	// connection_manager
	logger.Debug("starting service connection_manager")
	connection.Init(ctx)
	logger.Debug("service connection_manager started")

	// deduplicator
	logger.Debug("starting service deduplicator")
	r.dedup.Start(ctx)
	logger.Debug("service deduplicator started")

	// updates_manager
	logger.Debug("starting service updates_manager")
	// Отдельный контекст, чтобы останавливать менеджер апдейтов независимо.
	updatesCtx, updatesCancel := context.WithCancel(ctx)
	r.updatesCancel = updatesCancel
	r.updatesWG.Go(func() {
		logger.Debug("updates_manager service: Run started")
		mgrErr := updmgr.Run(updatesCtx, r.client.API(), selfID, tgupdates.AuthOptions{
			Forget: false,
			OnStart: func(_ context.Context) {
				connection.MarkConnected()
				logger.Debug("Updates manager started")
			},
		})
		if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
			logger.Errorf("updmgr.Run return: %v", mgrErr)
			r.mainCancel()
		}
		logger.Debugf("updates_manager service: Run finished (err=%v)", mgrErr)
	})
	logger.Debug("service updates_manager started")

	return nil
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке.

	// updates_manager
	logger.Debug("stopping service updates_manager")
	if r.updatesCancel != nil {
		r.updatesCancel()
	}
	r.updatesWG.Wait()
	logger.Debug("service updates_manager stopped")

	// deduplicator
	logger.Debug("stopping service deduplicator")
	r.dedup.Stop()
	logger.Debug("service deduplicator stopped")

	// connection_manager
	logger.Debug("stopping service connection_manager")
	connection.Shutdown()
	logger.Debug("service connection_manager stopped")

	// peers_manager
	if r.peers != nil {
		logger.Debug("stopping service peers_manager")
		if err := r.peers.Close(); err != nil {
			logger.Errorf("failed to stop peers_manager: %v", err)
		}
		logger.Debug("service peers_manager stopped")
	}
}
