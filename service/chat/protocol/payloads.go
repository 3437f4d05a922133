package protocol

import "time"

// ---- client -> server ----

// JoinUser role/name may be omitted when the user directory can supply them.
type JoinUser struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"omitempty,oneof=vendor client"`
	Name   string `json:"name"`
}

type JoinChat struct {
	ChatID string `json:"chatId" validate:"required"`
}

type SendMessage struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chatId" validate:"required"`
	Message     string    `json:"message" validate:"required"`
	RecipientID string    `json:"recipientId" validate:"required"`
	SenderID    string    `json:"senderId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Typing is shared by typing and stop-typing.
type Typing struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type MarkRead struct {
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId"`
}

type OrderPaid struct {
	OrderID       string  `json:"orderId" validate:"required"`
	UserID        string  `json:"userId"`
	VendorID      string  `json:"vendorId"`
	Amount        float64 `json:"amount" validate:"gte=0"`
	PaymentMethod string  `json:"paymentMethod"`
}

type OrderStatusUpdated struct {
	OrderID  string `json:"orderId" validate:"required"`
	Status   string `json:"status" validate:"required,oneof=pending paid shipped delivered cancelled"`
	VendorID string `json:"vendorId"`
	ClientID string `json:"clientId" validate:"required"`
}

// ---- server -> client ----

type UserTyping struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

type MessageRead struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type NewOrderPayment struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	Timestamp     time.Time `json:"timestamp"`
}

type PaymentConfirmed struct {
	OrderID string `json:"orderId"`
}

type OrderStatusChanged struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is the payload of order-created / order-updated.
type OrderEvent struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	VendorID  string    `json:"vendorId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence is the payload of user-online / user-offline.
type Presence struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Online bool   `json:"online"`
}

// OnlineUser is one element of the get-online-users reply.
type OnlineUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Online bool   `json:"online"`
}

type Superseded struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// ErrorBody is the data of an error frame.
type ErrorBody struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK is the ack body for handlers with nothing to return.
type OK struct {
	OK bool `json:"ok"`
}
