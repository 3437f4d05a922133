package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	midsec "PShop/middleware/security"
	usermodel "PShop/module/user/model"
	"PShop/tools/errs"
)

type userReq struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
	Role string `json:"role" binding:"required,oneof=vendor client"`
}

// upsertUser 写用户目录；网关 join-user 时用它补全 name/role
func (s *Server) upsertUser(c *gin.Context) error {
	if s.d.Users == nil {
		return unavailable("user directory")
	}
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	if uid := midsec.UserID(c); uid != "" && uid != req.ID && midsec.Role(c) != usermodel.RoleVendor {
		return errs.ErrForbidden.WrapMsg("cannot edit another user")
	}
	u := &usermodel.User{UserID: req.ID, Name: req.Name, Role: req.Role}
	if err := s.d.Users.Upsert(c.Request.Context(), u); err != nil {
		return err
	}
	c.JSON(http.StatusOK, u)
	return nil
}
