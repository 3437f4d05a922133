package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	midsec "PShop/middleware/security"
	chatmodel "PShop/module/chat/model"
	chatstore "PShop/module/chat/store"
	usermodel "PShop/module/user/model"
	"PShop/tools/errs"
)

type pageReq struct {
	Before time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int64     `form:"limit" binding:"gte=0"`
}

func (s *Server) chatMessages(c *gin.Context) error {
	if s.d.History == nil {
		return unavailable("chat history")
	}
	var req pageReq
	if err := c.ShouldBindQuery(&req); err != nil {
		return errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	chatID := c.Param("chatId")
	msgs, err := s.d.History.List(c.Request.Context(), chatstore.ListQuery{
		ChatID: chatID,
		Before: req.Before,
		Limit:  req.Limit,
	})
	if err != nil {
		return err
	}
	if uid := midsec.UserID(c); uid != "" && !participant(msgs, uid) {
		return errs.ErrForbidden.WrapMsg("not a participant", "chatId", chatID)
	}
	if msgs == nil {
		msgs = []*chatmodel.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"items": msgs})
	return nil
}

// participant 空页放行，否则至少要出现在一条消息的两端
func participant(msgs []*chatmodel.Message, uid string) bool {
	if len(msgs) == 0 {
		return true
	}
	for _, m := range msgs {
		if m.SenderID == uid || m.RecipientID == uid {
			return true
		}
	}
	return false
}

func (s *Server) userChats(c *gin.Context) error {
	if s.d.History == nil {
		return unavailable("chat history")
	}
	var req pageReq
	if err := c.ShouldBindQuery(&req); err != nil {
		return errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	userID := c.Param("id")
	if uid := midsec.UserID(c); uid != "" && uid != userID && midsec.Role(c) != usermodel.RoleVendor {
		return errs.ErrForbidden.WrapMsg("not your chats")
	}
	sessions, err := s.d.History.SessionsOf(c.Request.Context(), userID, req.Limit)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []*chatmodel.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"items": sessions})
	return nil
}
