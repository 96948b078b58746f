package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"debate_live/internal/api"
	"debate_live/internal/models"
	"debate_live/internal/repository"
	"debate_live/internal/service"
	"debate_live/internal/storage"
	"debate_live/internal/store"
	"debate_live/internal/utils"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("store", "memory", "room store: memory, badger or postgres")
	flags.String("badger-path", "", "badger directory (default under the XDG data home)")
	bindFlags(flags, map[string]string{
		"addr":        "server.address",
		"store":       "store.driver",
		"badger-path": "store.badger_path",
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// 初始化房間存儲
	st, repos, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	// 確保在程序結束時關閉存儲
	defer cleanup()

	secret := cfg.Auth.Secret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("No auth secret configured, tokens will not survive a restart")
	}

	// 初始化 services
	services := service.NewServices(st, repos, utils.NewTokenManager(secret, cfg.Auth.TTL), logger)

	// 設置 Gin 路由
	r := gin.Default()
	api.SetupRoutes(r, services, api.Options{
		PublicURL:    cfg.Server.PublicURL,
		AllowOrigins: cfg.Server.AllowOrigin,
	}, logger)

	srv := &http.Server{Addr: cfg.Server.Address, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.Server.Address, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to run server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore 依設定建立房間存儲，postgres 另外回傳帳號功能用的 repositories
func openStore(ctx context.Context) (store.Store, *repository.Repositories, func(), error) {
	switch cfg.Store.Driver {
	case "", "memory":
		st := store.NewMemory(logger)
		return st, nil, func() { _ = st.Close() }, nil

	case "badger":
		path := cfg.Store.BadgerPath
		if path == "" {
			path = storage.DefaultBadgerPath()
		}
		db, err := storage.NewBadgerDB(path, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		st := store.NewBadger(db, logger)
		return st, nil, func() {
			_ = st.Close()
			logger.Info("Closing BadgerDB")
			_ = db.Close()
		}, nil

	case "postgres":
		// 使用配置中的信息建立到 PostgreSQL 數據庫的連接
		db, err := storage.NewPostgresDB(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port)
		if err != nil {
			return nil, nil, nil, err
		}
		// 根據定義的模型自動創建或更新數據庫表結構
		if err := db.AutoMigrate(&models.User{}, &models.Room{}, &models.Entry{}); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("failed to auto migrate database: %w", err)
		}

		var notifier store.Notifier = store.NewLocalNotifier(logger)
		if cfg.Redis.URL != "" {
			rdb, err := storage.NewRedis(ctx, cfg.Redis.URL)
			if err != nil {
				_ = db.Close()
				return nil, nil, nil, err
			}
			notifier = store.NewRedisNotifier(rdb, logger)
		} else {
			logger.Warn("No redis configured, live updates stay within this process")
		}

		repos := repository.NewRepositories(db)
		st := store.NewPostgres(repos, notifier)
		return st, repos, func() {
			_ = st.Close()
			_ = db.Close()
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
