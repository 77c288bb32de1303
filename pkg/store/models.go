package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID            string `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex;not null"`
	PasswordHash  string
	Name          string
	Image         string
	CreatedAt     time.Time           `gorm:"not null"`
	UpdatedAt     time.Time           `gorm:"not null"`
	Folders       []FolderModel       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Conversations []ConversationModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (UserModel) TableName() string { return "users" }

type FolderModel struct {
	ID            string              `gorm:"primaryKey"`
	Name          string              `gorm:"not null"`
	UserID        string              `gorm:"not null;index"`
	CreatedAt     time.Time           `gorm:"not null;index"`
	UpdatedAt     time.Time           `gorm:"not null"`
	Conversations []ConversationModel `gorm:"foreignKey:FolderID;constraint:OnDelete:SET NULL"`
}

func (FolderModel) TableName() string { return "folders" }

type ConversationModel struct {
	ID        string         `gorm:"primaryKey"`
	Title     string         `gorm:"not null"`
	UserID    string         `gorm:"not null;index"`
	FolderID  *string        `gorm:"index"`
	IsPinned  bool           `gorm:"not null;default:false"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null;index"`
	Messages  []MessageModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index:idx_messages_order,priority:1"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	Seq            int64          `gorm:"not null;index:idx_messages_order,priority:3"`
	Usage          datatypes.JSON
	CreatedAt      time.Time      `gorm:"not null;index:idx_messages_order,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }
