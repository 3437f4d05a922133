package client

import "time"

// Config controls how the adapter connects and reconnects.
type Config struct {
	URL   string // ws://host/ws
	Token string // 鉴权开启时作为 ?token= 发送

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration // Request 未带 deadline 时使用
	PongWait         time.Duration // 超过这个时间没收到服务端 ping 视为断线

	Reconnect   bool
	MaxAttempts uint64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		RequestTimeout:   10 * time.Second,
		PongWait:         60 * time.Second,
		Reconnect:        true,
		MaxAttempts:      8,
		MinDelay:         time.Second,
		MaxDelay:         5 * time.Second,
	}
}

// Identity is re-announced with join-user after every successful connect.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
}

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Local events fired by the adapter itself; handlers get nil data.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
)
