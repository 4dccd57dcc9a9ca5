package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MunoLike/gameserver/internal/auth"
	"github.com/MunoLike/gameserver/internal/config"
	"github.com/MunoLike/gameserver/internal/db"
	"github.com/MunoLike/gameserver/internal/expiry"
	"github.com/MunoLike/gameserver/internal/models"
	"github.com/MunoLike/gameserver/internal/store"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type recordingExpiry struct {
	mu        sync.Mutex
	scheduled []uint
	after     map[uint]time.Duration
}

func (r *recordingExpiry) Schedule(roomID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, roomID)
}

func (r *recordingExpiry) ScheduleAfter(roomID uint, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.after == nil {
		r.after = make(map[uint]time.Duration)
	}
	r.after[roomID] = d
}

var (
	hostA = auth.Identity{ID: 1, Name: "hostA", LeaderCardID: 100}
	userB = auth.Identity{ID: 2, Name: "userB", LeaderCardID: 200}
	userC = auth.Identity{ID: 3, Name: "userC", LeaderCardID: 300}
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite://:memory:")
	if err != nil {
		t.Fatalf("db.Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("db.Migrate() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func newTestRoomServiceWithDB(gdb *gorm.DB) (*RoomService, *store.RoomStore, *recordingExpiry) {
	st := store.NewRoomStore(gdb)
	exp := &recordingExpiry{}
	return NewRoomService(st, exp, config.Config{}), st, exp
}

func newTestRoomService(t *testing.T, cfg config.Config) (*RoomService, *store.RoomStore, *recordingExpiry) {
	t.Helper()
	st := store.NewRoomStore(newTestDB(t))
	exp := &recordingExpiry{}
	return NewRoomService(st, exp, cfg), st, exp
}

func joinedCount(t *testing.T, st *store.RoomStore, roomID uint) int {
	t.Helper()
	room, err := st.Room(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Room() error = %v", err)
	}
	return room.JoinedUserCount
}

func TestRoomService_CreateJoinWaitScenario(t *testing.T) {
	svc, st, _ := newTestRoomService(t, config.Config{MaxUserCount: 4})
	ctx := context.Background()

	roomID, err := svc.Create(ctx, 5, models.DifficultyHard, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := joinedCount(t, st, roomID); got != 1 {
		t.Errorf("JoinedUserCount after create = %d, want 1", got)
	}

	if got := svc.Join(ctx, roomID, models.DifficultyNormal, userB); got != JoinOk {
		t.Fatalf("Join() = %v, want ok", got)
	}
	if got := joinedCount(t, st, roomID); got != 2 {
		t.Errorf("JoinedUserCount after join = %d, want 2", got)
	}

	status, members, err := svc.Wait(ctx, roomID, hostA)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if status != models.StatusWaiting {
		t.Errorf("Wait() status = %v, want Waiting", status)
	}
	if len(members) != 2 {
		t.Fatalf("Wait() members = %d, want 2", len(members))
	}
	for _, m := range members {
		switch m.UserID {
		case hostA.ID:
			if !m.IsHost || !m.IsMe {
				t.Errorf("host view = %+v, want is_host and is_me", m)
			}
			if m.SelectDifficulty != models.DifficultyHard || m.Name != "hostA" || m.LeaderCardID != 100 {
				t.Errorf("host view = %+v, want snapshot of hostA with Hard", m)
			}
		case userB.ID:
			if m.IsHost || m.IsMe {
				t.Errorf("userB view from host = %+v, want neither host nor me", m)
			}
		default:
			t.Errorf("unexpected member %+v", m)
		}
	}

	rooms, err := svc.List(ctx, 5)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != roomID || rooms[0].JoinedUserCount != 2 || rooms[0].MaxUserCount != 4 {
		t.Errorf("List() = %+v", rooms)
	}
}

func TestRoomService_CreateRejectsBadDifficulty(t *testing.T) {
	svc, _, _ := newTestRoomService(t, config.Config{})
	if _, err := svc.Create(context.Background(), 1, models.LiveDifficulty(7), hostA); !errors.Is(err, ErrInvalidDifficulty) {
		t.Errorf("Create() error = %v, want ErrInvalidDifficulty", err)
	}
}

func TestRoomService_JoinOutcomes(t *testing.T) {
	svc, st, _ := newTestRoomService(t, config.Config{MaxUserCount: 4})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := uint(2); i <= 4; i++ {
		if got := svc.Join(ctx, roomID, models.DifficultyNormal, auth.Identity{ID: i, Name: "p"}); got != JoinOk {
			t.Fatalf("Join(%d) = %v, want ok", i, got)
		}
	}

	tests := []struct {
		name   string
		roomID uint
		user   auth.Identity
		diff   models.LiveDifficulty
		want   JoinRoomResult
	}{
		{"fifth player", roomID, auth.Identity{ID: 5, Name: "p5"}, models.DifficultyNormal, JoinRoomFull},
		{"existing member", roomID, userB, models.DifficultyHard, JoinOk},
		{"missing room", roomID + 1000, userC, models.DifficultyNormal, JoinDisbanded},
		{"bad difficulty", roomID, userC, models.LiveDifficulty(0), JoinOtherError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.Join(ctx, tt.roomID, tt.diff, tt.user); got != tt.want {
				t.Errorf("Join() = %v, want %v", got, tt.want)
			}
			if got := joinedCount(t, st, roomID); got != 4 {
				t.Errorf("JoinedUserCount = %d, want 4", got)
			}
		})
	}
}

func TestRoomService_ConcurrentJoinLastSeat(t *testing.T) {
	svc, st, _ := newTestRoomService(t, config.Config{MaxUserCount: 2})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const n = 10
	results := make([]JoinRoomResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = svc.Join(ctx, roomID, models.DifficultyNormal, auth.Identity{ID: uint(10 + i), Name: "p"})
			return nil
		})
	}
	_ = g.Wait()

	counts := map[JoinRoomResult]int{}
	for _, r := range results {
		counts[r]++
	}
	if counts[JoinOk] != 1 || counts[JoinRoomFull] != n-1 {
		t.Errorf("outcomes = %v, want 1 ok and %d room_full", counts, n-1)
	}
	if got := joinedCount(t, st, roomID); got != 2 {
		t.Errorf("JoinedUserCount = %d, want 2", got)
	}
}

func TestRoomService_WaitDisbanded(t *testing.T) {
	svc, _, _ := newTestRoomService(t, config.Config{})
	status, members, err := svc.Wait(context.Background(), 12345, hostA)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if status != models.StatusDissolution {
		t.Errorf("Wait() status = %v, want Dissolution", status)
	}
	if members == nil || len(members) != 0 {
		t.Errorf("Wait() members = %v, want empty non-nil list", members)
	}
}

func TestRoomService_StartSchedulesOnce(t *testing.T) {
	svc, _, exp := newTestRoomService(t, config.Config{})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.Start(ctx, roomID, userB); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Start(ctx, roomID, hostA); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if len(exp.scheduled) != 1 || exp.scheduled[0] != roomID {
		t.Errorf("scheduled = %v, want [%d]", exp.scheduled, roomID)
	}
	status, _, err := svc.Wait(ctx, roomID, hostA)
	if err != nil || status != models.StatusLiveStart {
		t.Errorf("Wait() = %v, %v, want LiveStart", status, err)
	}

	if err := svc.Start(ctx, roomID+1000, hostA); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Start() on missing room error = %v, want ErrRoomNotFound", err)
	}
}

func TestRoomService_StartHostOnly(t *testing.T) {
	svc, _, exp := newTestRoomService(t, config.Config{HostOnlyStart: true})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := svc.Join(ctx, roomID, models.DifficultyNormal, userB); got != JoinOk {
		t.Fatalf("Join() = %v, want ok", got)
	}

	if err := svc.Start(ctx, roomID, userB); !errors.Is(err, ErrNotHost) {
		t.Errorf("Start() by guest error = %v, want ErrNotHost", err)
	}
	if len(exp.scheduled) != 0 {
		t.Errorf("scheduled = %v, want none", exp.scheduled)
	}
	if err := svc.Start(ctx, roomID, hostA); err != nil {
		t.Errorf("Start() by host error = %v", err)
	}
}

func TestRoomService_ResultReadiness(t *testing.T) {
	svc, _, exp := newTestRoomService(t, config.Config{ResultRetention: time.Minute})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := svc.Join(ctx, roomID, models.DifficultyHard, userB); got != JoinOk {
		t.Fatalf("Join() = %v, want ok", got)
	}
	if err := svc.Start(ctx, roomID, hostA); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := svc.End(ctx, roomID, []int{10, 5, 2}, 98765, userB); err != nil {
		t.Fatalf("End(userB) error = %v", err)
	}
	results, err := svc.Result(ctx, roomID, userB)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Result() before all submitted = %v, want empty list", results)
	}
	if _, ok := exp.after[roomID]; ok {
		t.Error("retention scheduled before all members submitted")
	}

	if err := svc.End(ctx, roomID, []int{1, 1, 1}, 500, hostA); err != nil {
		t.Fatalf("End(hostA) error = %v", err)
	}
	if err := svc.End(ctx, roomID, []int{20, 0, 0}, 1000, hostA); err != nil {
		t.Fatalf("resubmit End(hostA) error = %v", err)
	}
	results, err = svc.Result(ctx, roomID, userB)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Result() = %v, want 2 entries", results)
	}
	for _, r := range results {
		switch r.UserID {
		case userB.ID:
			if r.Score != 98765 || len(r.JudgeCountList) != 3 || r.JudgeCountList[0] != 10 || r.JudgeCountList[1] != 5 || r.JudgeCountList[2] != 2 {
				t.Errorf("userB result = %+v, want [10 5 2] 98765", r)
			}
		case hostA.ID:
			if r.Score != 1000 || r.JudgeCountList[0] != 20 {
				t.Errorf("hostA result = %+v, want overwritten submission", r)
			}
		default:
			t.Errorf("unexpected result %+v", r)
		}
	}
	if got := exp.after[roomID]; got != time.Minute {
		t.Errorf("retention delay = %v, want 1m", got)
	}
}

func TestRoomService_EndValidation(t *testing.T) {
	svc, _, _ := newTestRoomService(t, config.Config{})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := svc.End(ctx, roomID, []int{1}, -1, hostA); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("End() with -1 error = %v, want ErrInvalidScore", err)
	}
	if err := svc.End(ctx, roomID, []int{1}, 10, userC); err != nil {
		t.Errorf("End() by non-member error = %v, want nil", err)
	}
	if err := svc.End(ctx, roomID, nil, 10, hostA); err != nil {
		t.Fatalf("End() without judge counts error = %v", err)
	}
	results, err := svc.Result(ctx, roomID, hostA)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if len(results) != 1 || results[0].JudgeCountList == nil || len(results[0].JudgeCountList) != 0 {
		t.Errorf("Result() = %+v, want one entry with empty judge counts", results)
	}
}

func TestRoomService_EndBeforeStartArmsNoTimer(t *testing.T) {
	svc, _, exp := newTestRoomService(t, config.Config{ResultRetention: time.Minute})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := svc.End(ctx, roomID, []int{1, 2}, 100, hostA); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if len(exp.after) != 0 || len(exp.scheduled) != 0 {
		t.Errorf("timers armed for a waiting room: after=%v scheduled=%v", exp.after, exp.scheduled)
	}
	status, _, err := svc.Wait(ctx, roomID, hostA)
	if err != nil || status != models.StatusWaiting {
		t.Errorf("Wait() = %v, %v, want Waiting", status, err)
	}
}

func TestRoomService_LeaveIdempotent(t *testing.T) {
	svc, st, _ := newTestRoomService(t, config.Config{})
	ctx := context.Background()
	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other, err := svc.Create(ctx, 1, models.DifficultyNormal, userC)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := svc.Join(ctx, roomID, models.DifficultyNormal, userB); got != JoinOk {
		t.Fatalf("Join() = %v, want ok", got)
	}
	if got := svc.Join(ctx, other, models.DifficultyNormal, userB); got != JoinOk {
		t.Fatalf("Join(other) = %v, want ok", got)
	}

	for i := 0; i < 2; i++ {
		if err := svc.Leave(ctx, roomID, userB); err != nil {
			t.Fatalf("Leave() #%d error = %v", i+1, err)
		}
		if got := joinedCount(t, st, roomID); got != 1 {
			t.Errorf("JoinedUserCount after leave #%d = %d, want 1", i+1, got)
		}
	}
	if got := joinedCount(t, st, other); got != 2 {
		t.Errorf("leaving one room changed another: JoinedUserCount = %d, want 2", got)
	}

	if err := svc.Leave(ctx, roomID, hostA); err != nil {
		t.Fatalf("Leave(host) error = %v", err)
	}
	if got := joinedCount(t, st, roomID); got != 0 {
		t.Errorf("JoinedUserCount after last leave = %d, want 0", got)
	}
	if err := svc.Leave(ctx, roomID+1000, hostA); err != nil {
		t.Errorf("Leave() on missing room error = %v, want nil", err)
	}
}

func TestRoomService_TimeoutDissolvesRoom(t *testing.T) {
	st := store.NewRoomStore(newTestDB(t))
	sched := expiry.NewScheduler(st, 20*time.Millisecond)
	defer sched.Stop()
	svc := NewRoomService(st, sched, config.Config{})
	ctx := context.Background()

	roomID, err := svc.Create(ctx, 1, models.DifficultyNormal, hostA)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := svc.Join(ctx, roomID, models.DifficultyNormal, userB); got != JoinOk {
		t.Fatalf("Join() = %v, want ok", got)
	}
	if err := svc.Start(ctx, roomID, hostA); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, members, err := svc.Wait(ctx, roomID, hostA)
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if status == models.StatusDissolution {
			if len(members) != 0 {
				t.Errorf("Wait() members after dissolution = %v, want empty", members)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room was not dissolved after the live timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}

	left, err := st.Members(ctx, roomID)
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(left) != 0 {
		t.Errorf("memberships after timeout = %d, want 0", len(left))
	}
	if got := svc.Join(ctx, roomID, models.DifficultyNormal, userC); got != JoinDisbanded {
		t.Errorf("Join() after timeout = %v, want disbanded", got)
	}
}
