package model

import "time"

// Order status
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

var statuses = map[string]struct{}{
	StatusPending:   {},
	StatusPaid:      {},
	StatusShipped:   {},
	StatusDelivered: {},
	StatusCancelled: {},
}

func ValidStatus(s string) bool {
	_, ok := statuses[s]
	return ok
}

type Order struct {
	ID        string    `json:"orderId"`
	UserID    string    `json:"userId"`   // 下单用户
	VendorID  string    `json:"vendorId"` // 商家
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
