package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/MunoLike/gameserver/internal/auth"
	"github.com/MunoLike/gameserver/internal/config"
	"github.com/MunoLike/gameserver/internal/models"

	"gorm.io/gorm"
)

// UserService 是账号侧的实现，对房间逻辑只暴露 auth.Identity。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// Create 创建新用户并返回其令牌。
func (s *UserService) Create(ctx context.Context, name string, leaderCardID int) (string, error) {
	user := models.User{Name: name, LeaderCardID: leaderCardID}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	token, err := auth.GenerateToken(user.ID, s.cfg.JWTSecret, s.cfg.TokenTTLMinutes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ByToken 校验令牌并读取当前用户资料。
func (s *UserService) ByToken(ctx context.Context, token string) (*auth.Identity, error) {
	claims, err := auth.ParseToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	return &auth.Identity{ID: user.ID, Name: user.Name, LeaderCardID: user.LeaderCardID}, nil
}

// Update 修改用户昵称与队长卡。已加入房间的成员快照不受影响。
func (s *UserService) Update(ctx context.Context, userID uint, name string, leaderCardID int) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"name": name, "leader_card_id": leaderCardID})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
