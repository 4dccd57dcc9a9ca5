package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MunoLike/gameserver/internal/auth"
	"github.com/MunoLike/gameserver/internal/models"
	"github.com/MunoLike/gameserver/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc}
}

type userRequest struct {
	UserName     string `json:"user_name"`
	LeaderCardID int    `json:"leader_card_id"`
}

func (r *userRequest) valid() bool {
	r.UserName = strings.TrimSpace(r.UserName)
	return r.UserName != "" && len(r.UserName) <= 64
}

type roomRequest struct {
	RoomID uint `json:"room_id"`
}

// CreateUser 处理新用户注册，返回用户令牌。
func (h *Handler) CreateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	token, err := h.userSvc.Create(c.Request.Context(), req.UserName, req.LeaderCardID)
	if err != nil {
		log.Error().Err(err).Str("name", req.UserName).Msg("create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_token": token})
}

// Me 返回当前用户资料。
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, auth.GetIdentity(c))
}

// UpdateUser 修改当前用户资料。
func (h *Handler) UpdateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ident := auth.GetIdentity(c)
	if err := h.userSvc.Update(c.Request.Context(), ident.ID, req.UserName, req.LeaderCardID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Uint("user_id", ident.ID).Msg("update user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		LiveID           int                   `json:"live_id"`
		SelectDifficulty models.LiveDifficulty `json:"select_difficulty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.SelectDifficulty.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ident := auth.GetIdentity(c)
	roomID, err := h.roomSvc.Create(c.Request.Context(), req.LiveID, req.SelectDifficulty, ident)
	if err != nil {
		log.Error().Err(err).Uint("user_id", ident.ID).Int("live_id", req.LiveID).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// ListRooms 处理房间列表请求，live_id 为 0 时返回全部房间。
func (h *Handler) ListRooms(c *gin.Context) {
	var req struct {
		LiveID int `json:"live_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	rooms, err := h.roomSvc.List(c.Request.Context(), req.LiveID)
	if err != nil {
		log.Error().Err(err).Int("live_id", req.LiveID).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_info_list": rooms})
}

// JoinRoom 处理加入房间请求，满员与解散作为结果值返回而不是错误。
func (h *Handler) JoinRoom(c *gin.Context) {
	var req struct {
		RoomID           uint                  `json:"room_id"`
		SelectDifficulty models.LiveDifficulty `json:"select_difficulty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.SelectDifficulty.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result := h.roomSvc.Join(c.Request.Context(), req.RoomID, req.SelectDifficulty, auth.GetIdentity(c))
	c.JSON(http.StatusOK, gin.H{"join_room_result": result})
}

// WaitRoom 返回房间状态与成员列表，客户端轮询此接口。
func (h *Handler) WaitRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	status, members, err := h.roomSvc.Wait(c.Request.Context(), req.RoomID, auth.GetIdentity(c))
	if err != nil {
		log.Error().Err(err).Uint("room_id", req.RoomID).Msg("wait room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "room_user_list": members})
}

// StartRoom 开始房间。
func (h *Handler) StartRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.roomSvc.Start(c.Request.Context(), req.RoomID, auth.GetIdentity(c)); err != nil {
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		case errors.Is(err, service.ErrNotHost):
			c.JSON(http.StatusForbidden, gin.H{"error": "only the host can start the room"})
		default:
			log.Error().Err(err).Uint("room_id", req.RoomID).Msg("start room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start room"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// EndRoom 提交调用者的成绩。
func (h *Handler) EndRoom(c *gin.Context) {
	var req struct {
		RoomID         uint  `json:"room_id"`
		JudgeCountList []int `json:"judge_count_list"`
		Score          int   `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ident := auth.GetIdentity(c)
	if err := h.roomSvc.End(c.Request.Context(), req.RoomID, req.JudgeCountList, req.Score, ident); err != nil {
		if errors.Is(err, service.ErrInvalidScore) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid score"})
			return
		}
		log.Error().Err(err).Uint("room_id", req.RoomID).Uint("user_id", ident.ID).Msg("end room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit result"})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ResultRoom 返回房间成绩；有人未提交时列表为空。
func (h *Handler) ResultRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	results, err := h.roomSvc.Result(c.Request.Context(), req.RoomID, auth.GetIdentity(c))
	if err != nil {
		log.Error().Err(err).Uint("room_id", req.RoomID).Msg("result room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read results"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result_user_list": results})
}

// LeaveRoom 退出房间。
func (h *Handler) LeaveRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ident := auth.GetIdentity(c)
	if err := h.roomSvc.Leave(c.Request.Context(), req.RoomID, ident); err != nil {
		log.Error().Err(err).Uint("room_id", req.RoomID).Uint("user_id", ident.ID).Msg("leave room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
