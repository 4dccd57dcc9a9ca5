package service

import (
	"errors"

	"github.com/MunoLike/gameserver/internal/store"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrRoomNotFound      = store.ErrRoomNotFound
	ErrNotHost           = errors.New("only the host can start the room")
	ErrInvalidScore      = errors.New("score must not be negative")
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)
