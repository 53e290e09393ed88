// Package singleton — защита от запуска второго экземпляра userbot.
// Два одновременно работающих процесса на одном аккаунте отвечали бы на одни
// и те же сообщения дважды, поэтому перед подключением к Telegram проверяется
// PID-файл: живой владелец → отказ в старте, мёртвый → файл зачищается.
package singleton

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"transaction-userbot/internal/infra/logger"
	"transaction-userbot/internal/infra/storage"
)

// Lock представляет удерживаемый PID-файл. Release удаляет файл при завершении.
type Lock struct {
	path string
}

// Acquire проверяет PID-файл и занимает его текущим процессом.
// Последовательность:
//  1. если файл существует и записанный процесс жив (kill -0) — ошибка;
//  2. если процесс мёртв или файл битый — файл удаляется;
//  3. PID текущего процесса записывается атомарно.
func Acquire(path string) (*Lock, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		oldPID, parseErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if parseErr == nil && processAlive(oldPID) {
			return nil, fmt.Errorf("another instance is already running (pid %d)", oldPID)
		}
		// Процесс не существует или файл битый — зачищаем остаток.
		logger.Debugf("singleton: removing stale pid file %s", path)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove stale pid file: %w", rmErr)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read pid file: %w", err)
	}

	pid := os.Getpid()
	if err := storage.AtomicWriteFile(path, []byte(strconv.Itoa(pid))); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	logger.Debugf("singleton: pid file %s acquired (pid %d)", path, pid)
	return &Lock{path: path}, nil
}

// Release удаляет PID-файл. Безопасен при повторных вызовах и nil-ресивере.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("singleton: remove pid file: %v", err)
	}
}

// processAlive проверяет существование процесса сигналом 0.
// На Unix syscall.Kill(pid, 0) возвращает nil для живого процесса и EPERM,
// если процесс жив, но принадлежит другому пользователю.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
