package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MunoLike/gameserver/internal/config"
	"github.com/MunoLike/gameserver/internal/db"
	"github.com/MunoLike/gameserver/internal/expiry"
	clog "github.com/MunoLike/gameserver/internal/log"
	"github.com/MunoLike/gameserver/internal/server"
	"github.com/MunoLike/gameserver/internal/service"
	"github.com/MunoLike/gameserver/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库，组装各组件并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	rooms := store.NewRoomStore(gdb)
	scheduler := expiry.NewScheduler(rooms, cfg.LiveTimeout)
	sweeper := expiry.NewSweeper(rooms, cfg.WaitingTTL, cfg.LiveTimeout+cfg.ResultRetention)
	if err := sweeper.Start(cfg.SweepSpec); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.SweepSpec).Msg("sweeper start")
	}

	userSvc := service.NewUserService(gdb, cfg)
	roomSvc := service.NewRoomService(rooms, scheduler, cfg)
	r := server.SetupRouter(cfg, server.NewHandler(userSvc, roomSvc), userSvc)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	sweeper.Stop()
	scheduler.Stop()
	log.Info().Msg("server stopped")
}
