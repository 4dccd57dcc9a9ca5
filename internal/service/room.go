package service

import (
	"context"
	"errors"
	"time"

	"github.com/MunoLike/gameserver/internal/auth"
	"github.com/MunoLike/gameserver/internal/config"
	"github.com/MunoLike/gameserver/internal/metrics"
	"github.com/MunoLike/gameserver/internal/models"
	"github.com/MunoLike/gameserver/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// JoinRoomResult 加入房间的结果，数值即线上协议值。
type JoinRoomResult int

const (
	JoinOk         JoinRoomResult = 1
	JoinRoomFull   JoinRoomResult = 2
	JoinDisbanded  JoinRoomResult = 3
	JoinOtherError JoinRoomResult = 4
)

func (r JoinRoomResult) String() string {
	switch r {
	case JoinOk:
		return "ok"
	case JoinRoomFull:
		return "room_full"
	case JoinDisbanded:
		return "disbanded"
	default:
		return "other_error"
	}
}

// Expiry 是开始后的房间拆除调度。
type Expiry interface {
	Schedule(roomID uint)
	ScheduleAfter(roomID uint, d time.Duration)
}

// RoomService 是房间生命周期状态机。它不缓存任何状态，每次调用都重新读取存储，
// 并发正确性完全依赖 RoomStore 的事务。
type RoomService struct {
	store  *store.RoomStore
	expiry Expiry
	cfg    config.Config
}

func NewRoomService(st *store.RoomStore, expiry Expiry, cfg config.Config) *RoomService {
	return &RoomService{store: st, expiry: expiry, cfg: cfg}
}

// RoomSummary 是房间列表中的一项。
type RoomSummary struct {
	RoomID          uint `json:"room_id"`
	LiveID          int  `json:"live_id"`
	JoinedUserCount int  `json:"joined_user_count"`
	MaxUserCount    int  `json:"max_user_count"`
}

// MemberView 是等待室里看到的一名成员。
type MemberView struct {
	UserID           uint                  `json:"user_id"`
	Name             string                `json:"name"`
	LeaderCardID     int                   `json:"leader_card_id"`
	SelectDifficulty models.LiveDifficulty `json:"select_difficulty"`
	IsMe             bool                  `json:"is_me"`
	IsHost           bool                  `json:"is_host"`
}

func (s *RoomService) maxUserCount() int {
	if s.cfg.MaxUserCount > 0 {
		return s.cfg.MaxUserCount
	}
	return models.DefaultMaxUserCount
}

func membership(roomID uint, difficulty models.LiveDifficulty, user auth.Identity) models.RoomUser {
	return models.RoomUser{
		RoomID:           roomID,
		UserID:           user.ID,
		Name:             user.Name,
		LeaderCardID:     user.LeaderCardID,
		SelectDifficulty: difficulty,
		Score:            models.ScoreUnset,
	}
}

// Create 创建房间，房主在同一事务内入座，返回新房间 id。
func (s *RoomService) Create(ctx context.Context, liveID int, difficulty models.LiveDifficulty, host auth.Identity) (uint, error) {
	if !difficulty.Valid() {
		return 0, ErrInvalidDifficulty
	}
	room := models.Room{
		LiveID:       liveID,
		HostID:       host.ID,
		MaxUserCount: s.maxUserCount(),
		Token:        uuid.NewString(),
	}
	if err := s.store.CreateRoom(ctx, &room, membership(0, difficulty, host)); err != nil {
		return 0, err
	}
	metrics.RoomsCreatedTotal.Inc()
	log.Info().Uint("room_id", room.ID).Int("live_id", liveID).Uint("user_id", host.ID).Msg("room created")
	return room.ID, nil
}

// List 列出房间，liveID 为 0 表示全部。
func (s *RoomService) List(ctx context.Context, liveID int) ([]RoomSummary, error) {
	rooms, err := s.store.ListRooms(ctx, liveID)
	if err != nil {
		return nil, err
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomSummary{RoomID: r.ID, LiveID: r.LiveID, JoinedUserCount: r.JoinedUserCount, MaxUserCount: r.MaxUserCount})
	}
	return out, nil
}

// Join 尝试加入房间。容量与解散以结果值返回，意外错误折叠为 JoinOtherError。
func (s *RoomService) Join(ctx context.Context, roomID uint, difficulty models.LiveDifficulty, user auth.Identity) JoinRoomResult {
	result := s.join(ctx, roomID, difficulty, user)
	metrics.RoomJoinsTotal.WithLabelValues(result.String()).Inc()
	return result
}

func (s *RoomService) join(ctx context.Context, roomID uint, difficulty models.LiveDifficulty, user auth.Identity) JoinRoomResult {
	if !difficulty.Valid() {
		return JoinOtherError
	}
	joined, err := s.store.Join(ctx, membership(roomID, difficulty, user))
	switch {
	case err == nil:
		if joined {
			log.Info().Uint("room_id", roomID).Uint("user_id", user.ID).Msg("room joined")
		}
		return JoinOk
	case errors.Is(err, store.ErrRoomNotFound):
		return JoinDisbanded
	case errors.Is(err, store.ErrRoomFull):
		return JoinRoomFull
	default:
		log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", user.ID).Msg("join room")
		return JoinOtherError
	}
}

// Wait 返回房间状态与成员列表。房间已不存在时返回 (Dissolution, 空列表)，这不是错误。
func (s *RoomService) Wait(ctx context.Context, roomID uint, user auth.Identity) (models.WaitRoomStatus, []MemberView, error) {
	room, members, err := s.store.RoomWithMembers(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return models.StatusDissolution, []MemberView{}, nil
		}
		return 0, nil, err
	}
	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		out = append(out, MemberView{
			UserID:           m.UserID,
			Name:             m.Name,
			LeaderCardID:     m.LeaderCardID,
			SelectDifficulty: m.SelectDifficulty,
			IsMe:             m.UserID == user.ID,
			IsHost:           m.UserID == room.HostID,
		})
	}
	return room.WaitStatus, out, nil
}

// Start 把房间切换到 LiveStart 并布置超时拆除。重复开始不会重置定时器。
func (s *RoomService) Start(ctx context.Context, roomID uint, user auth.Identity) error {
	if s.cfg.HostOnlyStart {
		room, err := s.store.Room(ctx, roomID)
		if err != nil {
			return err
		}
		if room.HostID != user.ID {
			return ErrNotHost
		}
	}
	_, started, err := s.store.MarkStarted(ctx, roomID)
	if err != nil {
		return err
	}
	if started {
		s.expiry.Schedule(roomID)
		log.Info().Uint("room_id", roomID).Uint("user_id", user.ID).Msg("room started")
	}
	return nil
}

// End 写入调用者的判定计数与分数，重复提交即覆盖。
// 不是房间成员时静默忽略。已开始的房间全员提交后，把拆除时间提前到结果保留期；
// 未开始的房间没有拆除任务，这里也不会布置。
func (s *RoomService) End(ctx context.Context, roomID uint, judgeCounts []int, score int, user auth.Identity) error {
	if score < 0 {
		return ErrInvalidScore
	}
	if judgeCounts == nil {
		judgeCounts = []int{}
	}
	finished, err := s.store.SubmitResult(ctx, roomID, user.ID, judgeCounts, score)
	if err != nil {
		if errors.Is(err, store.ErrNotMember) {
			log.Debug().Uint("room_id", roomID).Uint("user_id", user.ID).Msg("result from non-member ignored")
			return nil
		}
		return err
	}
	if finished && s.cfg.ResultRetention > 0 {
		s.expiry.ScheduleAfter(roomID, s.cfg.ResultRetention)
	}
	return nil
}

// Result 返回房间成绩；未全部提交时返回空列表。
func (s *RoomService) Result(ctx context.Context, roomID uint, user auth.Identity) ([]ResultView, error) {
	members, err := s.store.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return Aggregate(members), nil
}

// Leave 退出房间。重复退出、房间已解散都是空操作；最后一人退出时房间保留，由超时或清理回收。
func (s *RoomService) Leave(ctx context.Context, roomID uint, user auth.Identity) error {
	removed, err := s.store.RemoveMember(ctx, roomID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil
		}
		return err
	}
	if removed {
		log.Info().Uint("room_id", roomID).Uint("user_id", user.ID).Msg("room left")
	}
	return nil
}
