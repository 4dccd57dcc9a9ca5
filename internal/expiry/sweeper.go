package expiry

import (
	"context"
	"time"

	"github.com/MunoLike/gameserver/internal/metrics"
	"github.com/MunoLike/gameserver/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// RoomSource 列出陈旧房间并拆除它们。DeleteStaleRoom 必须在删除前重新校验状态与更新时间。
type RoomSource interface {
	StaleRooms(ctx context.Context, status models.WaitRoomStatus, before time.Time) ([]uint, error)
	DeleteStaleRoom(ctx context.Context, roomID uint, status models.WaitRoomStatus, before time.Time) (bool, error)
}

// Sweeper 周期性清理两类房间：从未开始且长时间无变化的房间，
// 以及已开始但定时器随进程重启丢失的房间。
type Sweeper struct {
	src        RoomSource
	waitingTTL time.Duration
	liveTTL    time.Duration
	now        func() time.Time
	cron       *cron.Cron
}

func NewSweeper(src RoomSource, waitingTTL, liveTTL time.Duration) *Sweeper {
	return &Sweeper{
		src:        src,
		waitingTTL: waitingTTL,
		liveTTL:    liveTTL,
		now:        time.Now,
	}
}

// Start 按 cron 表达式启动清理任务。
func (sw *Sweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := sw.Sweep(ctx); err != nil {
			log.Error().Err(err).Int("deleted", n).Msg("room sweep")
		} else if n > 0 {
			log.Info().Int("deleted", n).Msg("room sweep")
		}
	}); err != nil {
		return err
	}
	sw.cron = c
	c.Start()
	return nil
}

// Stop 停止调度并等待正在执行的清理结束。
func (sw *Sweeper) Stop() {
	if sw.cron == nil {
		return
	}
	<-sw.cron.Stop().Done()
}

// Sweep 执行一轮清理，返回删除的房间数。
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := sw.now()
	deleted := 0
	for _, pass := range []struct {
		status models.WaitRoomStatus
		ttl    time.Duration
		reason string
	}{
		{models.StatusWaiting, sw.waitingTTL, "idle"},
		{models.StatusLiveStart, sw.liveTTL, "orphaned"},
	} {
		before := now.Add(-pass.ttl)
		ids, err := sw.src.StaleRooms(ctx, pass.status, before)
		if err != nil {
			return deleted, err
		}
		for _, id := range ids {
			ok, err := sw.src.DeleteStaleRoom(ctx, id, pass.status, before)
			if err != nil {
				return deleted, err
			}
			if ok {
				deleted++
				metrics.RoomsExpiredTotal.WithLabelValues(pass.reason).Inc()
				log.Debug().Uint("room_id", id).Str("reason", pass.reason).Msg("stale room deleted")
			}
		}
	}
	return deleted, nil
}
