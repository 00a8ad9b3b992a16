package chat

import (
	"strconv"
	"time"

	"whisker/internal/user"
)

// Client-facing projections. Blocks feed the conversation list, details feed
// an opened conversation.

type LastMessageView struct {
	Text     string `json:"text"`
	Author   string `json:"author"`
	IsSystem bool   `json:"isSystem"`
}

type ChatBlock struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Secret      string          `json:"secret"`
	IsVerified  bool            `json:"isVerified"`
	IsAdmin     bool            `json:"isAdmin"`
	IsTester    bool            `json:"isTester"`
	LastMessage LastMessageView `json:"lastMessage"`
	URL         string          `json:"url"`
	Type        string          `json:"type"`
	IsGroup     bool            `json:"isGroup"`
	LastUpdate  int64           `json:"lastUpdate"`
	IsUnread    bool            `json:"isUnread"`
}

type ChatDetail struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Desc       string       `json:"desc"`
	Secret     string       `json:"secret"`
	IsVerified bool         `json:"isVerified"`
	IsAdmin    bool         `json:"isAdmin"`
	IsTester   bool         `json:"isTester"`
	Users      []*user.User `json:"users"`
	Admins     []string     `json:"admins"`
	IsGroup    bool         `json:"isGroup"`
	LastUpdate int64        `json:"lastUpdate"`
	IsUnread   bool         `json:"isUnread"`
}

type MessageView struct {
	ID           int64             `json:"id"`
	Text         string            `json:"text"`
	Author       string            `json:"author"`
	Time         int64             `json:"time"`
	IsDeleted    bool              `json:"isDeleted"`
	IsEdited     bool              `json:"isEdited"`
	IsSystem     bool              `json:"isSystem"`
	SystemType   string            `json:"systemType,omitempty"`
	SystemParams map[string]string `json:"systemParams,omitempty"`
	ReplyTo      *int64            `json:"replyTo,omitempty"`
	IsForwarded  bool              `json:"isForwarded"`
}

type ChatListView struct {
	Chats []*ChatBlock
	Time  int64
}

type ChatPageView struct {
	Chat     *ChatDetail
	Messages []*MessageView
	HasMore  bool
	Total    int
	Last     int64
}

type MessagePageView struct {
	Messages []*MessageView
	HasMore  bool
	Total    int
}

func unixMS(t time.Time) int64 {
	return t.UnixMilli()
}

// identity resolves the display identity of a conversation for a viewer: the
// group's own name, or the other party of a direct chat. A conversation that
// only holds the viewer (self chat, abandoned direct chat) falls back to the
// viewer's own identity.
func identity(conv *Conversation, viewer *user.User, members []*user.User) (string, *user.User) {
	if conv.IsGroup() {
		return conv.Name, nil
	}
	for _, m := range members {
		if m.ID != viewer.ID {
			return m.Username, m
		}
	}
	return viewer.Username, nil
}

func projectBlock(conv *Conversation, viewer *user.User, members []*user.User, last *Message, unread bool) *ChatBlock {
	name, target := identity(conv, viewer, members)

	block := &ChatBlock{
		ID:         conv.ID,
		Name:       name,
		Secret:     conv.Secret,
		IsGroup:    conv.IsGroup(),
		LastUpdate: unixMS(conv.LastTime),
		IsUnread:   unread,
		LastMessage: LastMessageView{
			Text: "no messages",
		},
	}
	if conv.IsGroup() {
		block.IsVerified = conv.IsVerified
		block.URL = strconv.FormatInt(conv.ID, 10)
		block.Type = "g"
	} else {
		block.URL = name
		block.Type = "u"
		if target != nil {
			block.IsVerified = target.IsVerified
			block.IsAdmin = target.IsAdmin
			block.IsTester = target.IsTester
		}
	}
	if last != nil {
		block.LastMessage = LastMessageView{
			Text:     last.Text,
			Author:   last.Author,
			IsSystem: last.IsSystem,
		}
	}
	return block
}

func projectDetail(conv *Conversation, viewer *user.User, members []*user.User, admins []string, unread bool) *ChatDetail {
	name, target := identity(conv, viewer, members)

	detail := &ChatDetail{
		ID:         conv.ID,
		Name:       name,
		Desc:       conv.Description,
		Secret:     conv.Secret,
		IsGroup:    conv.IsGroup(),
		LastUpdate: unixMS(conv.LastTime),
		IsUnread:   unread,
		Admins:     []string{},
		Users:      members,
	}
	if conv.IsGroup() {
		detail.IsVerified = conv.IsVerified
		detail.Admins = admins
	} else {
		if target != nil {
			detail.IsVerified = target.IsVerified
			detail.IsAdmin = target.IsAdmin
			detail.IsTester = target.IsTester
			// The viewer knows their own profile; show the other party only.
			detail.Users = []*user.User{target}
		} else {
			detail.Users = []*user.User{viewer}
		}
	}
	return detail
}

func projectMessage(m *Message) *MessageView {
	return &MessageView{
		ID:           m.ID,
		Text:         m.Text,
		Author:       m.Author,
		Time:         unixMS(m.SendTime),
		IsDeleted:    m.IsDeleted,
		IsEdited:     m.IsEdited,
		IsSystem:     m.IsSystem,
		SystemType:   m.SystemType,
		SystemParams: m.SystemParams,
		ReplyTo:      m.ReplyTo,
		IsForwarded:  m.IsForwarded,
	}
}

func projectMessages(messages []*Message) []*MessageView {
	views := make([]*MessageView, len(messages))
	for i, m := range messages {
		views[i] = projectMessage(m)
	}
	return views
}
