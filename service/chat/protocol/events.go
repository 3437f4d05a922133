// Package protocol holds the wire contract shared by the gateway and the client adapter.
// Event names and payload field names must not change.
package protocol

// 客户端 -> 服务端
const (
	EvJoinUser           = "join-user"
	EvJoinChat           = "join-chat"
	EvLeaveChat          = "leave-chat"
	EvSendMessage        = "send-message"
	EvTyping             = "typing"
	EvStopTyping         = "stop-typing"
	EvMarkRead           = "mark-read"
	EvOrderPaid          = "order-paid"
	EvOrderStatusUpdated = "order-status-updated"
	EvGetOnlineUsers     = "get-online-users"
)

// 服务端 -> 客户端
const (
	EvAck                = "ack"
	EvError              = "error"
	EvReceiveMessage     = "receive-message"
	EvMessageSent        = "message-sent"
	EvUserTyping         = "user-typing"
	EvUserStopTyping     = "user-stop-typing"
	EvMessageRead        = "message-read"
	EvNewOrderPayment    = "new-order-payment"
	EvPaymentConfirmed   = "payment-confirmed"
	EvOrderStatusChanged = "order-status-changed"
	EvOrderCreated       = "order-created"
	EvOrderUpdated       = "order-updated"
	EvOnlineUsers        = "online-users"
	EvUserOnline         = "user-online"
	EvUserOffline        = "user-offline"
	EvSessionSuperseded  = "session-superseded"
)

// Channel names
const (
	PersonalPrefix = "user-"
	RoleVendor     = "vendor"
	RoleClient     = "client"
)

func PersonalChannel(userID string) string { return PersonalPrefix + userID }
