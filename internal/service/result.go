package service

import "github.com/MunoLike/gameserver/internal/models"

// ResultView 是一个成员的最终成绩。
type ResultView struct {
	UserID         uint  `json:"user_id"`
	JudgeCountList []int `json:"judge_count_list"`
	Score          int   `json:"score"`
}

// Aggregate 汇总房间成绩。只要有一名成员尚未提交，就返回空列表，
// 调用方据此继续轮询；绝不返回部分结果。
func Aggregate(members []models.RoomUser) []ResultView {
	for _, m := range members {
		if !m.Scored() {
			return []ResultView{}
		}
	}
	out := make([]ResultView, 0, len(members))
	for _, m := range members {
		judge := []int(m.JudgeCountList)
		if judge == nil {
			judge = []int{}
		}
		out = append(out, ResultView{UserID: m.UserID, JudgeCountList: judge, Score: m.Score})
	}
	return out
}
