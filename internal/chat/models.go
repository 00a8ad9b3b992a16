package chat

import (
	"time"
)

type Kind string

const (
	KindDirect Kind = "direct"
	KindSelf   Kind = "self"
	KindGroup  Kind = "group"
)

// System message types. Clients render these from the structured payload so
// the text can be localized; the free-form text column is a legacy fallback.
const (
	SystemUserAdded       = "user_added"
	SystemUserRemoved     = "user_removed"
	SystemAdminAdded      = "admin_added"
	SystemAdminRemoved    = "admin_removed"
	SystemMemberLeft      = "member_left"
	SystemSettingsChanged = "settings_changed"
)

type Conversation struct {
	ID          int64     `json:"id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsVerified  bool      `json:"isVerified"`
	Secret      string    `json:"secret"`
	PairKey     string    `json:"-"`
	LastTime    time.Time `json:"lastTime"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (c *Conversation) IsGroup() bool {
	return c.Kind == KindGroup
}

type Message struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversationId"`
	UserID         int64             `json:"userId"`
	Author         string            `json:"author"`
	Text           string            `json:"text"`
	SendTime       time.Time         `json:"sendTime"`
	IsDeleted      bool              `json:"isDeleted"`
	IsEdited       bool              `json:"isEdited"`
	IsSystem       bool              `json:"isSystem"`
	SystemType     string            `json:"systemType,omitempty"`
	SystemParams   map[string]string `json:"systemParams,omitempty"`
	ReplyTo        *int64            `json:"replyTo,omitempty"`
	IsForwarded    bool              `json:"isForwarded"`
}

// newSystemMessage builds the structured entry appended alongside a ledger
// change. fallback carries the client-supplied prose for old clients.
func newSystemMessage(conversationID int64, authorID int64, authorName, systemType, fallback string, params map[string]string) *Message {
	if params == nil {
		params = map[string]string{}
	}
	params["actor"] = authorName
	return &Message{
		ConversationID: conversationID,
		UserID:         authorID,
		Author:         authorName,
		Text:           fallback,
		SendTime:       time.Now(),
		IsSystem:       true,
		SystemType:     systemType,
		SystemParams:   params,
	}
}
