// Package expiry 负责回收已开始但被遗弃的房间，以及从未开始的陈旧房间。
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/MunoLike/gameserver/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Reaper 拆除房间；房间已不存在时必须是无害的空操作。
type Reaper interface {
	DeleteRoom(ctx context.Context, roomID uint) (bool, error)
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler 为每个房间维护一个可取消的延迟拆除任务，以 room id 为键。
type Scheduler struct {
	mu      sync.Mutex
	timers  map[uint]*entry
	gen     uint64
	delay   time.Duration
	reaper  Reaper
	timeout time.Duration
	stopped bool
}

func NewScheduler(reaper Reaper, delay time.Duration) *Scheduler {
	return &Scheduler{
		timers:  make(map[uint]*entry),
		delay:   delay,
		reaper:  reaper,
		timeout: 10 * time.Second,
	}
}

// Schedule 以默认延迟为房间布置拆除任务。
func (s *Scheduler) Schedule(roomID uint) {
	s.ScheduleAfter(roomID, s.delay)
}

// ScheduleAfter 布置拆除任务，替换该房间已有的任务。
func (s *Scheduler) ScheduleAfter(roomID uint, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[roomID]; ok {
		old.timer.Stop()
	} else {
		metrics.ExpiryTimersPending.Inc()
	}
	s.gen++
	gen := s.gen
	s.timers[roomID] = &entry{
		gen:   gen,
		timer: time.AfterFunc(d, func() { s.fire(roomID, gen) }),
	}
	log.Debug().Uint("room_id", roomID).Dur("delay", d).Msg("room expiry scheduled")
}

// Cancel 取消房间的拆除任务，返回是否确有任务被取消。
func (s *Scheduler) Cancel(roomID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[roomID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, roomID)
	metrics.ExpiryTimersPending.Dec()
	return true
}

// Pending 返回当前已布置的任务数。
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop 取消全部任务，之后的 Schedule 调用被忽略。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
		metrics.ExpiryTimersPending.Dec()
	}
}

func (s *Scheduler) fire(roomID uint, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[roomID]
	if !ok || e.gen != gen {
		// 已被取消或替换
		s.mu.Unlock()
		return
	}
	delete(s.timers, roomID)
	metrics.ExpiryTimersPending.Dec()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	deleted, err := s.reaper.DeleteRoom(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("room expiry teardown")
		return
	}
	if deleted {
		metrics.RoomsExpiredTotal.WithLabelValues("timer").Inc()
	}
	log.Info().Uint("room_id", roomID).Bool("deleted", deleted).Msg("room expired")
}
