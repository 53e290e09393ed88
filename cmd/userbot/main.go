package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"transaction-userbot/internal/app"
	"transaction-userbot/internal/infra/config"
	"transaction-userbot/internal/infra/logger"
	"transaction-userbot/internal/infra/pr"
	"transaction-userbot/internal/infra/singleton"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assigning stdout and stderr", zap.Error(err))
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	// config.Load загружает конфигурацию из .env и других источников.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// logger.Init задаёт уровень, SetWriters перенаправляет выводы в подсистему pr,
	// InitFile (опционально) добавляет ротируемый файловый лог.
	logger.Init(config.Env().LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if logFile := config.Env().LogFile; logFile != "" {
		logger.InitFile(logger.FileConfig{
			Path:       logFile,
			Level:      config.Env().LogFileLevel,
			MaxSizeMB:  config.Env().LogFileMaxSize,
			MaxBackups: config.Env().LogFileMaxBackups,
			MaxAgeDays: config.Env().LogFileMaxAge,
			Compress:   config.Env().LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Гарантия единственного экземпляра процесса: PID-файл с проверкой живости.
	lock, err := singleton.Acquire(config.Env().PIDFile)
	if err != nil {
		logger.Fatal("another instance is already running", zap.Error(err))
	}
	defer lock.Release()

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение и запускаем основной цикл; блокируется до shutdown.
	a := app.NewApp(ctx, stop)
	if runErr := a.Run(); runErr != nil && ctx.Err() == nil {
		stop()
		lock.Release()
		logger.Fatal("app run failed", zap.Error(runErr))
	}

	// Освобождаем обработчик сигналов и закрываем ресурсы bootstrap-уровня.
	stop()
	logger.Info("Graceful shutdown complete")
}
