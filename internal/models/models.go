package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LiveDifficulty 与客户端约定的谱面难度，数值即线上协议值。
type LiveDifficulty int

const (
	DifficultyNormal LiveDifficulty = 1
	DifficultyHard   LiveDifficulty = 2
)

func (d LiveDifficulty) Valid() bool {
	return d == DifficultyNormal || d == DifficultyHard
}

// WaitRoomStatus 是房间的粗粒度生命周期阶段。
type WaitRoomStatus int

const (
	StatusWaiting     WaitRoomStatus = 1
	StatusLiveStart   WaitRoomStatus = 2
	StatusDissolution WaitRoomStatus = 3
)

const (
	// ScoreUnset 表示成员尚未提交成绩，是结果是否就绪的唯一依据。
	ScoreUnset = -1
	// DefaultMaxUserCount 房间默认容量。
	DefaultMaxUserCount = 4
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:64;not null"`
	LeaderCardID int    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string { return "user" }

type Room struct {
	ID              uint           `gorm:"column:room_id;primaryKey"`
	LiveID          int            `gorm:"index;not null"`
	HostID          uint           `gorm:"not null"`
	JoinedUserCount int            `gorm:"not null;default:0"`
	MaxUserCount    int            `gorm:"not null;default:4"`
	WaitStatus      WaitRoomStatus `gorm:"index;not null;default:1"`
	Token           string         `gorm:"uniqueIndex;size:36;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Room) TableName() string { return "room" }

// RoomUser 是一个用户在一个房间内的参与记录，昵称与卡片在加入时快照。
type RoomUser struct {
	RoomID           uint           `gorm:"primaryKey;autoIncrement:false"`
	UserID           uint           `gorm:"primaryKey;autoIncrement:false"`
	Name             string         `gorm:"size:64;not null"`
	LeaderCardID     int            `gorm:"not null"`
	SelectDifficulty LiveDifficulty `gorm:"not null"`
	JudgeCountList   JudgeCounts    `gorm:"type:text"`
	Score            int            `gorm:"not null;default:-1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (RoomUser) TableName() string { return "room_user" }

// Scored 判断成员是否已提交成绩。
func (ru RoomUser) Scored() bool { return ru.Score != ScoreUnset }

// JudgeCounts 是按判定档位排列的计数，以 JSON 文本存储；未提交时为 NULL。
type JudgeCounts []int

func (jc JudgeCounts) Value() (driver.Value, error) {
	if jc == nil {
		return nil, nil
	}
	b, err := json.Marshal([]int(jc))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (jc *JudgeCounts) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*jc = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("judge counts: unsupported type %T", src)
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("judge counts: %w", err)
	}
	*jc = out
	return nil
}
