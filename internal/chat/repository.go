package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"whisker/infrastructure"
	"whisker/internal/user"
)

// Repository exposes the conversation aggregate's persistent operations. Each
// mutating method is one commit/rollback unit: the ledger change, the system
// message, the unread fan-out and the last-activity bump land together or not
// at all.
type Repository interface {
	FindOrCreateDirect(ctx context.Context, a, b *user.User) (*Conversation, bool, error)
	CreateGroup(ctx context.Context, name string, creator *user.User, members []*user.User) (*Conversation, error)
	ConversationByID(ctx context.Context, id int64) (*Conversation, error)
	UserConversations(ctx context.Context, userID int64) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error

	Members(ctx context.Context, conversationID int64) ([]*user.User, error)
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID int64) (bool, error)
	FirstAdminID(ctx context.Context, conversationID int64) (int64, error)
	AdminUsernames(ctx context.Context, conversationID int64) ([]string, error)

	AddMember(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) error
	RemoveMember(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) (bool, error)
	Leave(ctx context.Context, conv *Conversation, actor *user.User, fallback string) (bool, error)
	PromoteAdmin(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) error
	DemoteAdmin(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) error
	UpdateSettings(ctx context.Context, conv *Conversation, actor *user.User, name, description, fallback string) error

	AppendMessage(ctx context.Context, conv *Conversation, author *user.User, text string, replyTo *int64, isForwarded bool) (*Message, error)
	MessageByID(ctx context.Context, id int64) (*Message, error)
	EditMessage(ctx context.Context, id int64, text string) error
	SoftDeleteMessage(ctx context.Context, id int64) error
	LatestNonDeleted(ctx context.Context, conversationID int64) (*Message, error)
	Page(ctx context.Context, conversationID, beforeID int64, limit int) ([]*Message, int, error)

	MarkAllRead(ctx context.Context, conversationID, userID int64) error
	HasUnread(ctx context.Context, conversationID, userID int64) (bool, error)
}

type repository struct {
	tx    infrastructure.Transactor
	store Storage
}

func NewRepository(tx infrastructure.Transactor, store Storage) Repository {
	return &repository{tx: tx, store: store}
}

// pairKey canonicalizes an unordered user pair (or singleton) into the unique
// key that serializes direct-chat creation.
func pairKey(a, b int64) string {
	if a == b {
		return fmt.Sprintf("s:%d", a)
	}
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("d:%d:%d", a, b)
}

func (r *repository) FindOrCreateDirect(ctx context.Context, a, b *user.User) (*Conversation, bool, error) {
	key := pairKey(a.ID, b.ID)

	conv, err := r.store.ConversationByPairKey(key)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	kind := KindDirect
	if a.ID == b.ID {
		kind = KindSelf
	}
	now := time.Now()
	conv = &Conversation{
		Kind:      kind,
		Secret:    uuid.New().String(),
		PairKey:   key,
		LastTime:  now,
		CreatedAt: now,
	}

	var inserted bool
	err = r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = r.store.SaveConversation(tx, conv)
		if err != nil || !inserted {
			return err
		}
		if err := r.store.AddMember(tx, conv.ID, a.ID, now); err != nil {
			return err
		}
		if a.ID != b.ID {
			if err := r.store.AddMember(tx, conv.ID, b.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !inserted {
		// Lost the creation race; the survivor is already fully populated.
		conv, err = r.store.ConversationByPairKey(key)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	return conv, true, nil
}

func (r *repository) CreateGroup(ctx context.Context, name string, creator *user.User, members []*user.User) (*Conversation, error) {
	now := time.Now()
	conv := &Conversation{
		Kind:      KindGroup,
		Name:      name,
		Secret:    uuid.New().String(),
		LastTime:  now,
		CreatedAt: now,
	}

	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := r.store.SaveConversation(tx, conv); err != nil {
			return err
		}
		if err := r.store.AddMember(tx, conv.ID, creator.ID, now); err != nil {
			return err
		}
		if err := r.store.AddAdmin(tx, conv.ID, creator.ID); err != nil {
			return err
		}
		// Each initial member is a separate addition: membership first, then
		// its own system message fanned out to everyone but the creator.
		for _, m := range members {
			if err := r.store.AddMember(tx, conv.ID, m.ID, time.Now()); err != nil {
				return err
			}
			msg := newSystemMessage(conv.ID, creator.ID, creator.Username, SystemUserAdded,
				"", map[string]string{"target": m.Username})
			if err := r.appendEvent(tx, conv.ID, msg); err != nil {
				return err
			}
			conv.LastTime = msg.SendTime
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *repository) ConversationByID(ctx context.Context, id int64) (*Conversation, error) {
	conv, err := r.store.ConversationByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrChatNotFound
	}
	return conv, err
}

func (r *repository) UserConversations(ctx context.Context, userID int64) ([]*Conversation, error) {
	return r.store.UserConversations(userID)
}

func (r *repository) DeleteConversation(ctx context.Context, id int64) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.store.DeleteConversation(tx, id)
	})
}

func (r *repository) Members(ctx context.Context, conversationID int64) ([]*user.User, error) {
	return r.store.Members(conversationID)
}

func (r *repository) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	return r.store.IsMember(conversationID, userID)
}

func (r *repository) IsAdmin(ctx context.Context, conversationID, userID int64) (bool, error) {
	return r.store.IsAdmin(conversationID, userID)
}

func (r *repository) FirstAdminID(ctx context.Context, conversationID int64) (int64, error) {
	id, err := r.store.FirstAdminID(conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, infrastructure.ErrChatNotFound
	}
	return id, err
}

func (r *repository) AdminUsernames(ctx context.Context, conversationID int64) ([]string, error) {
	return r.store.AdminUsernames(conversationID)
}

// appendEvent saves a system message, fans it out unread to everyone except
// its author and bumps the conversation's last activity to its send time.
func (r *repository) appendEvent(tx *sql.Tx, conversationID int64, msg *Message) error {
	if err := r.store.SaveMessage(tx, msg); err != nil {
		return err
	}
	if err := r.store.InsertUnreadMarks(tx, conversationID, msg.ID, msg.UserID); err != nil {
		return err
	}
	return r.store.TouchConversation(tx, conversationID, msg.SendTime)
}

func (r *repository) AddMember(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) error {
	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		if err := r.store.AddMember(tx, conv.ID, target.ID, time.Now()); err != nil {
			return err
		}
		msg := newSystemMessage(conv.ID, actor.ID, actor.Username, SystemUserAdded,
			fallback, map[string]string{"target": target.Username})
		return r.appendEvent(tx, conv.ID, msg)
	})
	if infrastructure.IsUniqueViolation(err) {
		return infrastructure.ErrConflict
	}
	return err
}

func (r *repository) RemoveMember(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) (bool, error) {
	var tornDown bool
	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		remaining, err := r.store.RemoveMember(tx, conv.ID, target.ID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			tornDown = true
			return r.store.DeleteConversation(tx, conv.ID)
		}
		if err := r.store.RemoveAdmin(tx, conv.ID, target.ID); err != nil {
			return err
		}
		if err := r.store.EnsureAdmin(tx, conv.ID); err != nil {
			return err
		}
		msg := newSystemMessage(conv.ID, actor.ID, actor.Username, SystemUserRemoved,
			fallback, map[string]string{"target": target.Username})
		return r.appendEvent(tx, conv.ID, msg)
	})
	return tornDown, err
}

func (r *repository) Leave(ctx context.Context, conv *Conversation, actor *user.User, fallback string) (bool, error) {
	var tornDown bool
	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		remaining, err := r.store.RemoveMember(tx, conv.ID, actor.ID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			tornDown = true
			return r.store.DeleteConversation(tx, conv.ID)
		}
		if err := r.store.RemoveAdmin(tx, conv.ID, actor.ID); err != nil {
			return err
		}
		if err := r.store.EnsureAdmin(tx, conv.ID); err != nil {
			return err
		}
		msg := newSystemMessage(conv.ID, actor.ID, actor.Username, SystemMemberLeft, fallback, nil)
		return r.appendEvent(tx, conv.ID, msg)
	})
	return tornDown, err
}

func (r *repository) PromoteAdmin(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) error {
	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		if err := r.store.AddAdmin(tx, conv.ID, target.ID); err != nil {
			return err
		}
		msg := newSystemMessage(conv.ID, actor.ID, actor.Username, SystemAdminAdded,
			fallback, map[string]string{"target": target.Username})
		return r.appendEvent(tx, conv.ID, msg)
	})
	if infrastructure.IsUniqueViolation(err) {
		return infrastructure.ErrConflict
	}
	return err
}

func (r *repository) DemoteAdmin(ctx context.Context, conv *Conversation, actor, target *user.User, fallback string) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		if err := r.store.RemoveAdmin(tx, conv.ID, target.ID); err != nil {
			return err
		}
		msg := newSystemMessage(conv.ID, actor.ID, actor.Username, SystemAdminRemoved,
			fallback, map[string]string{"target": target.Username})
		return r.appendEvent(tx, conv.ID, msg)
	})
}

func (r *repository) UpdateSettings(ctx context.Context, conv *Conversation, actor *user.User, name, description, fallback string) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		if err := r.store.UpdateConversationSettings(tx, conv.ID, name, description); err != nil {
			return err
		}
		msg := newSystemMessage(conv.ID, actor.ID, actor.Username, SystemSettingsChanged,
			fallback, map[string]string{"name": name})
		return r.appendEvent(tx, conv.ID, msg)
	})
}

func (r *repository) AppendMessage(ctx context.Context, conv *Conversation, author *user.User, text string, replyTo *int64, isForwarded bool) (*Message, error) {
	msg := &Message{
		ConversationID: conv.ID,
		UserID:         author.ID,
		Author:         author.Username,
		Text:           text,
		SendTime:       time.Now(),
		ReplyTo:        replyTo,
		IsForwarded:    isForwarded,
	}
	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.appendEvent(tx, conv.ID, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *repository) MessageByID(ctx context.Context, id int64) (*Message, error) {
	msg, err := r.store.MessageByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrMessageNotFound
	}
	return msg, err
}

func (r *repository) EditMessage(ctx context.Context, id int64, text string) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.store.UpdateMessageText(tx, id, text)
	})
}

func (r *repository) SoftDeleteMessage(ctx context.Context, id int64) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.store.MarkMessageDeleted(tx, id)
	})
}

func (r *repository) LatestNonDeleted(ctx context.Context, conversationID int64) (*Message, error) {
	msg, err := r.store.LatestNonDeleted(conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // empty conversation is a valid state, not an error
	}
	return msg, err
}

// Page returns messages below beforeID in chronological order plus the
// conversation's total message count.
func (r *repository) Page(ctx context.Context, conversationID, beforeID int64, limit int) ([]*Message, int, error) {
	messages, err := r.store.MessagesBefore(conversationID, beforeID, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.store.MessageCount(conversationID)
	if err != nil {
		return nil, 0, err
	}
	// Newest-first from the store, oldest-first for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

func (r *repository) MarkAllRead(ctx context.Context, conversationID, userID int64) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.store.ClearUnread(tx, conversationID, userID)
	})
}

func (r *repository) HasUnread(ctx context.Context, conversationID, userID int64) (bool, error) {
	return r.store.HasUnread(conversationID, userID)
}
