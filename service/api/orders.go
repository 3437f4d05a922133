package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"PShop/logger"
	midsec "PShop/middleware/security"
	ordermodel "PShop/module/order/model"
	usermodel "PShop/module/user/model"
	"PShop/tools/errs"
)

type createOrderReq struct {
	OrderID  string  `json:"orderId"`
	UserID   string  `json:"userId"`
	VendorID string  `json:"vendorId"`
	Amount   float64 `json:"amount" binding:"gte=0"`
}

type statusReq struct {
	Status string `json:"status" binding:"required,oneof=pending paid shipped delivered cancelled"`
}

func (s *Server) createOrder(c *gin.Context) error {
	if s.d.Orders == nil {
		return unavailable("order store")
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	// 登录用户只能给自己下单
	if uid := midsec.UserID(c); uid != "" {
		if req.UserID == "" {
			req.UserID = uid
		} else if req.UserID != uid && midsec.Role(c) != usermodel.RoleVendor {
			return errs.ErrForbidden.WrapMsg("userId does not match token")
		}
	}
	if req.UserID == "" {
		return errs.ErrInvalidPayload.WrapMsg("userId is required")
	}
	if req.OrderID == "" && s.d.NewID != nil {
		req.OrderID = s.d.NewID()
	}

	o, err := s.d.Orders.Create(c.Request.Context(), &ordermodel.Order{
		ID:       req.OrderID,
		UserID:   req.UserID,
		VendorID: req.VendorID,
		Amount:   req.Amount,
	})
	if err != nil {
		return err
	}
	s.announce(c, o, true)
	c.JSON(http.StatusCreated, o)
	return nil
}

func (s *Server) getOrder(c *gin.Context) error {
	if s.d.Orders == nil {
		return unavailable("order store")
	}
	o, err := s.d.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if uid := midsec.UserID(c); uid != "" && uid != o.UserID && midsec.Role(c) != usermodel.RoleVendor {
		return errs.ErrForbidden.WrapMsg("not your order")
	}
	c.JSON(http.StatusOK, o)
	return nil
}

func (s *Server) updateOrderStatus(c *gin.Context) error {
	if s.d.Orders == nil {
		return unavailable("order store")
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	if uid := midsec.UserID(c); uid != "" && midsec.Role(c) != usermodel.RoleVendor {
		return errs.ErrForbidden.WrapMsg("only vendors update order status")
	}
	o, err := s.d.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	s.announce(c, o, false)
	c.JSON(http.StatusOK, o)
	return nil
}

// announce 通知失败不影响下单结果
func (s *Server) announce(c *gin.Context, o *ordermodel.Order, created bool) {
	if s.d.Events == nil {
		return
	}
	var err error
	if created {
		err = s.d.Events.OrderCreated(c.Request.Context(), o)
	} else {
		err = s.d.Events.OrderUpdated(c.Request.Context(), o)
	}
	if err != nil {
		logger.Warn("order event not announced", zap.String("order", o.ID), zap.Bool("created", created), zap.Error(err))
	}
}
