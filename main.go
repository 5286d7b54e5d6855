package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"B2P/config"
	"B2P/controller"
	"B2P/dao/history"
	"B2P/dao/store"
	"B2P/logic"
	"B2P/pkg/llm"
	"B2P/pkg/logger"
	"B2P/pkg/notify"
	"B2P/pkg/publish"
	"B2P/pkg/queue"
	"B2P/pkg/sse"
	"B2P/util"
	"B2P/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "b2p: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lg, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// status store and per-task lock
	var (
		status store.StatusStore = store.NewMemoryStore()
		locker store.Locker      = store.NewMemoryLocker()
	)
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer rs.Close()
		status, locker = rs, rs
		zap.L().Info("using redis status store", zap.String("addr", cfg.RedisAddr))
	}

	// submission history
	var (
		hist     worker.History
		histRead controller.HistoryLister
	)
	if cfg.DBDSN != "" {
		hs, err := history.Open(ctx, cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		defer hs.Close()
		hist, histRead = hs, hs
		zap.L().Info("submission history enabled", zap.String("driver", cfg.DBDriver))
	}

	completer, err := llm.NewCompleter(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	publisher, err := publish.New(cfg.GitHub, publish.Options{})
	if err != nil {
		return err
	}

	hub := sse.NewHub()
	go hub.Run(ctx)

	proc := worker.NewProcessor(cfg.WorkDir, worker.Deps{
		Materializer: util.NewMaterializer(nil),
		Generator:    llm.NewGenerator(completer, cfg.LLM.Timeout),
		Publisher:    publisher,
		Notifier:     notify.New(cfg.Notify, nil, nil),
		Status:       status,
		Locker:       locker,
		History:      hist,
		Events:       hub,
	})

	var dispatcher queue.Dispatcher
	if cfg.AMQPURL != "" {
		aq, err := queue.NewAMQP(cfg.AMQPURL, proc, cfg.WorkerConcurrency)
		if err != nil {
			return fmt.Errorf("init rabbitmq: %w", err)
		}
		go func() {
			if err := aq.Consume(ctx); err != nil {
				zap.L().Error("rabbitmq consumer stopped", zap.Error(err))
			}
		}()
		dispatcher = aq
		zap.L().Info("using rabbitmq dispatcher", zap.Int("concurrency", cfg.WorkerConcurrency))
	} else {
		dispatcher = queue.NewInProcess(proc)
	}

	gin.SetMode(gin.ReleaseMode)
	h := controller.NewHandler(logic.NewSubmissions(cfg.Secret, cfg.GitHub, dispatcher, status), histRead)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: controller.SetupRouter(h, hub.ServeSSE),
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("listening", zap.String("addr", srv.Addr), zap.String("llm_provider", cfg.LLM.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	zap.L().Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("background jobs still running at exit", zap.Error(err))
	}
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		zap.L().Warn("event hub did not stop in time")
	}
	zap.L().Info("server exiting")
	return nil
}
