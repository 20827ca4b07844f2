package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// UserModel maps table users.
type UserModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	SenderKey   string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName string    `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

// ConversationModel maps table conversations.
type ConversationModel struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement"`
	UserID             int64     `gorm:"not null;index:idx_conversations_lookup,priority:1"`
	Status             string    `gorm:"type:varchar(32);not null;default:open;index:idx_conversations_lookup,priority:2"`
	Confidence         *float64
	LastMessagePreview string    `gorm:"type:varchar(2000)"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null;index:idx_conversations_lookup,priority:3"`
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageLogModel maps table message_logs.
type MessageLogModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	ConversationID int64          `gorm:"not null;index"`
	Role           string         `gorm:"type:varchar(32);not null"`
	Content        string         `gorm:"type:text;not null"`
	Metadata       datatypes.JSON `gorm:"column:metadata_json"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (MessageLogModel) TableName() string { return "message_logs" }

// EscalationTicketModel maps table escalation_tickets.
type EscalationTicketModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	ConversationID int64          `gorm:"not null;index"`
	Reason         string         `gorm:"type:varchar(255);not null"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (EscalationTicketModel) TableName() string { return "escalation_tickets" }
