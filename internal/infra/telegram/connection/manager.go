// Package connection — координация состояния MTProto-соединения.
// Предоставляет глобальный слой для остального кода:
//   - WaitOnline(ctx) — блокирует до восстановления связи, если клиент офлайн;
//   - MarkConnected/MarkDisconnected — явные переходы между состояниями;
//   - HandleError — классификация сетевых сбоев в точках RPC-вызовов.
//
// Менеджер потокобезопасен: ожидатели работают со снимком «поколенческого»
// wait-канала, который закрывается при восстановлении связи.
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"transaction-userbot/internal/infra/logger"
)

var (
	// globalMu защищает глобальный экземпляр менеджера от гонок.
	globalMu sync.RWMutex
	// globalManager — единственный экземпляр, разделяемый приложением.
	globalManager *manager
)

// manager хранит признак online и «поколенческий» канал ожидания восстановления.
// При потере связи создаётся новый открытый канал; при восстановлении он
// закрывается, неблокирующим образом снимая всех ожидателей.
type manager struct {
	connected atomic.Bool

	mu     sync.Mutex
	waitCh chan struct{}
}

// Init создаёт глобальный менеджер в состоянии «подключён».
// Повторный вызов заменяет предыдущий экземпляр.
func Init(_ context.Context) {
	m := &manager{}
	m.connected.Store(true)

	globalMu.Lock()
	globalManager = m
	globalMu.Unlock()
}

// Shutdown завершает глобальный менеджер и закрывает канал ожидания,
// чтобы разблокировать все зависшие горутины.
func Shutdown() {
	globalMu.Lock()
	m := globalManager
	globalManager = nil
	globalMu.Unlock()

	if m == nil {
		return
	}
	m.mu.Lock()
	if m.waitCh != nil {
		close(m.waitCh)
		m.waitCh = nil
	}
	m.mu.Unlock()
}

func current() *manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// MarkConnected переводит менеджер в online и освобождает ожидателей.
func MarkConnected() {
	m := current()
	if m == nil {
		return
	}
	if m.connected.Swap(true) {
		return
	}
	logger.Debug("connection: marked connected")

	m.mu.Lock()
	if m.waitCh != nil {
		close(m.waitCh)
		m.waitCh = nil
	}
	m.mu.Unlock()
}

// MarkDisconnected переводит менеджер в offline и готовит новый канал ожидания.
// Вызывается из хука OnDead gotd и из HandleError.
func MarkDisconnected() {
	m := current()
	if m == nil {
		return
	}
	if !m.connected.Swap(false) {
		return
	}
	logger.Debug("connection: marked disconnected")

	m.mu.Lock()
	if m.waitCh == nil {
		m.waitCh = make(chan struct{})
	}
	m.mu.Unlock()
}

// WaitOnline блокирует, пока соединение офлайн. Возвращается немедленно в
// online-состоянии, по отмене контекста или при выключенном менеджере.
func WaitOnline(ctx context.Context) {
	m := current()
	if m == nil || m.connected.Load() {
		return
	}

	m.mu.Lock()
	ch := m.waitCh
	m.mu.Unlock()
	if ch == nil {
		return
	}

	select {
	case <-ctx.Done():
	case <-ch:
	}
}

// HandleError классифицирует ошибку RPC-вызова. true означает сетевой сбой:
// менеджер переведён в offline, вызывающему следует прекратить текущую отправку
// и не считать её постоянной ошибкой. Ошибки контекста сетевыми не считаются.
func HandleError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	isNetwork := errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)

	if isNetwork {
		MarkDisconnected()
	}
	return isNetwork
}
