package protocol

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
)

// ChatMessage is one entry of a channel's conversation log.
type ChatMessage struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Channel groups the messages of one conversation within a session.
type Channel struct {
	ID        string    `json:"channel_id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"channel_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatCompleted is broadcast once a reply has been persisted.
type ChatCompleted struct {
	SessionID  string    `json:"session_id"`
	ChannelID  string    `json:"channel_id"`
	RequestID  string    `json:"request_id"`
	Model      string    `json:"model"`
	AudioURL   string    `json:"audio_url,omitempty"`
	Characters int       `json:"characters"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChannelDeleted is broadcast when a channel's history is removed.
type ChannelDeleted struct {
	SessionID string    `json:"session_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	All       bool      `json:"all,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectChatCompleted  = "chat.reply.completed"
	SubjectChannelDeleted = "chat.channel.deleted"
)
