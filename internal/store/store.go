// Package store 是房间与成员记录的唯一持久化入口，每个操作在一个 gorm 事务内完成。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MunoLike/gameserver/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrNotMember    = errors.New("not a member of the room")
)

type RoomStore struct {
	db *gorm.DB
}

func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{db: db}
}

// lockRoom 在事务内读取并锁定房间行（SQLite 方言会忽略 FOR UPDATE，由单写者保证串行）。
func lockRoom(tx *gorm.DB, roomID uint) (*models.Room, error) {
	var room models.Room
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("room_id = ?", roomID).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// CreateRoom 在同一事务中插入房间并让房主入座，房间不会以“无人”状态被观察到。
func (s *RoomStore) CreateRoom(ctx context.Context, room *models.Room, host models.RoomUser) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room.JoinedUserCount = 1
		room.WaitStatus = models.StatusWaiting
		if err := tx.Create(room).Error; err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		host.RoomID = room.ID
		host.Score = models.ScoreUnset
		host.JudgeCountList = nil
		if err := tx.Create(&host).Error; err != nil {
			return fmt.Errorf("insert host membership: %w", err)
		}
		return nil
	})
}

func (s *RoomStore) Room(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListRooms 按 live_id 过滤房间，liveID 为 0 时返回全部房间。满员房间同样返回。
func (s *RoomStore) ListRooms(ctx context.Context, liveID int) ([]models.Room, error) {
	q := s.db.WithContext(ctx).Model(&models.Room{})
	if liveID != 0 {
		q = q.Where("live_id = ?", liveID)
	}
	var rooms []models.Room
	if err := q.Order("room_id").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// Join 原子地完成容量检查、计数加一与成员插入，两者要么同时提交要么都不提交。
// 已在房间内的用户再次加入时直接返回 joined=false 且不修改计数。
func (s *RoomStore) Join(ctx context.Context, member models.RoomUser) (joined bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, member.RoomID)
		if err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&models.RoomUser{}).
			Where("room_id = ? AND user_id = ?", member.RoomID, member.UserID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		if room.JoinedUserCount >= room.MaxUserCount {
			return ErrRoomFull
		}
		if err := claimSeat(tx, member.RoomID); err != nil {
			return err
		}
		member.Score = models.ScoreUnset
		member.JudgeCountList = nil
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		joined = true
		return nil
	})
	return joined, err
}

// claimSeat 以条件更新占一个座位：即使行锁不可用，read committed 下也不会越过容量上限。
func claimSeat(tx *gorm.DB, roomID uint) error {
	res := tx.Model(&models.Room{}).
		Where("room_id = ? AND joined_user_count < max_user_count", roomID).
		Update("joined_user_count", gorm.Expr("joined_user_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomFull
	}
	return nil
}

func (s *RoomStore) Members(ctx context.Context, roomID uint) ([]models.RoomUser, error) {
	var members []models.RoomUser
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at, user_id").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// RoomWithMembers 在一个只读事务里同时读取房间和成员，避免两次读取之间房间被拆除。
func (s *RoomStore) RoomWithMembers(ctx context.Context, roomID uint) (*models.Room, []models.RoomUser, error) {
	var (
		room    models.Room
		members []models.RoomUser
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).First(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		return tx.Where("room_id = ?", roomID).Order("created_at, user_id").Find(&members).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &room, members, nil
}

// MarkStarted 只执行 Waiting -> LiveStart。返回的 started 为 false 表示房间已经开始过。
func (s *RoomStore) MarkStarted(ctx context.Context, roomID uint) (room *models.Room, started bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		room = r
		if r.WaitStatus != models.StatusWaiting {
			return nil
		}
		res := tx.Model(&models.Room{}).
			Where("room_id = ? AND wait_status = ?", roomID, models.StatusWaiting).
			Update("wait_status", models.StatusLiveStart)
		if res.Error != nil {
			return res.Error
		}
		started = res.RowsAffected > 0
		if started {
			room.WaitStatus = models.StatusLiveStart
		}
		return nil
	})
	return room, started, err
}

// SubmitResult 覆盖写入调用者自己的成绩，重复提交即覆盖。
// finished 表示房间已开始且提交后所有成员都已有成绩；未开始的房间永远不是 finished。
func (s *RoomStore) SubmitResult(ctx context.Context, roomID, userID uint, judgeCounts []int, score int) (finished bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RoomUser{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Updates(map[string]interface{}{
				"judge_count_list": models.JudgeCounts(judgeCounts),
				"score":            score,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotMember
		}
		var pending int64
		if err := tx.Model(&models.RoomUser{}).
			Where("room_id = ? AND score = ?", roomID, models.ScoreUnset).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		var room models.Room
		if err := tx.Select("room_id", "wait_status").Where("room_id = ?", roomID).First(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		finished = room.WaitStatus == models.StatusLiveStart
		return nil
	})
	return finished, err
}

// RemoveMember 删除成员并在同一事务内按实际成员数重算 joined_user_count，
// 并发退出也不会让计数漂移。不在房间内时 removed 为 false。
func (s *RoomStore) RemoveMember(ctx context.Context, roomID, userID uint) (removed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, roomID); err != nil {
			return err
		}
		res := tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.RoomUser{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		var count int64
		if err := tx.Model(&models.RoomUser{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
			return err
		}
		return tx.Model(&models.Room{}).Where("room_id = ?", roomID).Update("joined_user_count", count).Error
	})
	return removed, err
}

// DeleteRoom 以一个事务删除房间及其全部成员；房间已不存在时是无害的空操作。
// 删除前先锁住房间行，与持锁的 Join 串行，不会留下没有房间的成员行。
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID uint) (deleted bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, roomID); err != nil {
			if errors.Is(err, ErrRoomNotFound) {
				return nil
			}
			return err
		}
		var err error
		deleted, err = removeRoom(tx, roomID)
		return err
	})
	return deleted, err
}

// DeleteStaleRoom 仅当房间仍处于 status 且 updated_at 早于 before 时删除它。
// 在 StaleRooms 之后被加入或开始的房间会被保留。
func (s *RoomStore) DeleteStaleRoom(ctx context.Context, roomID uint, status models.WaitRoomStatus, before time.Time) (deleted bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			if errors.Is(err, ErrRoomNotFound) {
				return nil
			}
			return err
		}
		if room.WaitStatus != status || !room.UpdatedAt.Before(before) {
			return nil
		}
		deleted, err = removeRoom(tx, roomID)
		return err
	})
	return deleted, err
}

// removeRoom 在已持有房间锁的事务内删除成员与房间。
func removeRoom(tx *gorm.DB, roomID uint) (bool, error) {
	if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomUser{}).Error; err != nil {
		return false, err
	}
	res := tx.Where("room_id = ?", roomID).Delete(&models.Room{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// StaleRooms 返回处于指定状态且 updated_at 早于 before 的房间 id。
func (s *RoomStore) StaleRooms(ctx context.Context, status models.WaitRoomStatus, before time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("wait_status = ? AND updated_at < ?", status, before).
		Order("room_id").
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
