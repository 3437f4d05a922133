package model

import "time"

const (
	MsgTableName     = "chat_messages" // 集合名
	SessionTableName = "chat_sessions"
)

// Message 一条聊天消息。json 字段名即线上协议字段名，不能改。
type Message struct {
	ID          string    `json:"id" bson:"_id"`
	ChatID      string    `json:"chatId" bson:"chat_id"`           // 会话ID
	SenderID    string    `json:"senderId" bson:"sender_id"`       // 发送者
	RecipientID string    `json:"recipientId" bson:"recipient_id"` // 接收者
	Message     string    `json:"message" bson:"message"`          // 文本内容
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
}

// Session 会话（买家 <-> 商家）。
type Session struct {
	ID            string    `json:"id" bson:"_id"`
	Participants  []string  `json:"participants" bson:"participants"`
	LastMessageID string    `json:"lastMessageId,omitempty" bson:"last_message_id,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt" bson:"last_message_at"`
	CreatedAt     time.Time `json:"createdAt" bson:"created_at"`
}
