package chat

import (
	"context"
	"fmt"

	"whisker/infrastructure"
	"whisker/internal/notify"
	"whisker/internal/user"
)

const (
	defaultPageSize = 30
	maxPageSize     = 100
)

// UseCase is the conversation aggregate: every command of the chat surface
// enters here, gets authorized against the membership ledger and leaves as a
// client-facing view.
type UseCase interface {
	GetChats(ctx context.Context, viewer *user.User, knownCount int, knownLastUpdate int64) (*ChatListView, error)
	GetChat(ctx context.Context, viewer *user.User, peerUsername string, limit int, beforeID int64) (*ChatPageView, error)
	GetGroup(ctx context.Context, viewer *user.User, chatID int64, limit int, beforeID int64) (*ChatPageView, error)
	CreateGroup(ctx context.Context, actor *user.User, name string, memberNames []string) (*Conversation, error)
	RemoveGroup(ctx context.Context, actor *user.User, chatID int64, password string) error
	LeaveGroup(ctx context.Context, actor *user.User, chatID int64, fallback string) error
	AddMember(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error
	RemoveMember(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error
	AddAdmin(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error
	RemoveAdmin(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error
	SaveSettings(ctx context.Context, actor *user.User, chatID int64, name, description *string, fallback string) error
	OlderMessages(ctx context.Context, viewer *user.User, chatID, beforeID int64, limit int) (*MessagePageView, error)
	SendMessage(ctx context.Context, actor *user.User, chatID int64, text string, replyTo *int64, isForwarded bool) (*MessageView, error)
	EditMessage(ctx context.Context, actor *user.User, messageID int64, text string) error
	DeleteMessage(ctx context.Context, actor *user.User, messageID int64) error
}

type Service struct {
	repo     Repository
	users    user.UseCase
	notifier notify.Notifier
}

func NewService(repo Repository, users user.UseCase, notifier notify.Notifier) *Service {
	return &Service{repo: repo, users: users, notifier: notifier}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// hasMore implements the pager contract: a supplied cursor always assumes
// more may exist above the window.
func hasMore(beforeID int64, total, limit int) bool {
	return beforeID != 0 || total > limit
}

func (s *Service) emit(ctx context.Context, conv *Conversation, actor, target *user.User, kind string) {
	event := notify.Event{
		ConversationID: conv.ID,
		ActorID:        actor.ID,
		ActorUsername:  actor.Username,
		Kind:           kind,
	}
	if target != nil {
		event.TargetID = target.ID
		event.TargetUsername = target.Username
	}
	s.notifier.Notify(ctx, event)
}

// GetChats returns the viewer's conversation list, or nil when nothing
// changed since the snapshot the caller already holds.
func (s *Service) GetChats(ctx context.Context, viewer *user.User, knownCount int, knownLastUpdate int64) (*ChatListView, error) {
	convs, err := s.repo.UserConversations(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	var liveLast int64
	if len(convs) > 0 {
		liveLast = unixMS(convs[0].LastTime)
	}
	if len(convs) == knownCount && liveLast == knownLastUpdate {
		return nil, nil
	}

	blocks := make([]*ChatBlock, 0, len(convs))
	for _, conv := range convs {
		members, err := s.repo.Members(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		last, err := s.repo.LatestNonDeleted(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		unread, err := s.repo.HasUnread(ctx, conv.ID, viewer.ID)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, projectBlock(conv, viewer, members, last, unread))
	}
	return &ChatListView{Chats: blocks, Time: liveLast}, nil
}

func (s *Service) GetChat(ctx context.Context, viewer *user.User, peerUsername string, limit int, beforeID int64) (*ChatPageView, error) {
	if peerUsername == "" {
		return nil, infrastructure.ErrInvalidInput
	}
	peer, err := s.users.Resolve(ctx, peerUsername)
	if err != nil {
		return nil, err
	}

	conv, created, err := s.repo.FindOrCreateDirect(ctx, viewer, peer)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkAllRead(ctx, conv.ID, viewer.ID); err != nil {
		return nil, err
	}
	if created {
		s.emit(ctx, conv, viewer, peer, "chat_created")
	}
	return s.pageView(ctx, conv, viewer, limit, beforeID)
}

func (s *Service) GetGroup(ctx context.Context, viewer *user.User, chatID int64, limit int, beforeID int64) (*ChatPageView, error) {
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, infrastructure.ErrChatNotFound
	}
	if err := s.requireMember(ctx, conv, viewer); err != nil {
		return nil, err
	}
	if err := s.repo.MarkAllRead(ctx, conv.ID, viewer.ID); err != nil {
		return nil, err
	}
	return s.pageView(ctx, conv, viewer, limit, beforeID)
}

func (s *Service) pageView(ctx context.Context, conv *Conversation, viewer *user.User, limit int, beforeID int64) (*ChatPageView, error) {
	limit = normalizeLimit(limit)

	members, err := s.repo.Members(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	var admins []string
	if conv.IsGroup() {
		if admins, err = s.repo.AdminUsernames(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	unread, err := s.repo.HasUnread(ctx, conv.ID, viewer.ID)
	if err != nil {
		return nil, err
	}
	messages, total, err := s.repo.Page(ctx, conv.ID, beforeID, limit)
	if err != nil {
		return nil, err
	}

	return &ChatPageView{
		Chat:     projectDetail(conv, viewer, members, admins, unread),
		Messages: projectMessages(messages),
		HasMore:  hasMore(beforeID, total, limit),
		Total:    total,
		Last:     unixMS(conv.LastTime),
	}, nil
}

func (s *Service) CreateGroup(ctx context.Context, actor *user.User, name string, memberNames []string) (*Conversation, error) {
	if name == "" {
		return nil, infrastructure.ErrInvalidInput
	}

	// Unknown usernames are skipped, not errors; so are the creator and
	// duplicates.
	seen := map[int64]bool{actor.ID: true}
	var members []*user.User
	for _, username := range memberNames {
		u, err := s.users.Resolve(ctx, username)
		if err != nil {
			continue
		}
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		members = append(members, u)
	}

	conv, err := s.repo.CreateGroup(ctx, name, actor, members)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, conv, actor, nil, "group_created")
	return conv, nil
}

func (s *Service) RemoveGroup(ctx context.Context, actor *user.User, chatID int64, password string) error {
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return err
	}
	isAdmin, err := s.repo.IsAdmin(ctx, conv.ID, actor.ID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return infrastructure.ErrForbidden
	}
	// Destructive teardown demands the actor re-enter their password.
	if !s.users.VerifyPassword(actor, password) {
		return infrastructure.ErrWrongPassword
	}

	if err := s.repo.DeleteConversation(ctx, conv.ID); err != nil {
		return err
	}
	s.emit(ctx, conv, actor, nil, "group_removed")
	return nil
}

func (s *Service) LeaveGroup(ctx context.Context, actor *user.User, chatID int64, fallback string) error {
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, conv, actor); err != nil {
		return err
	}

	if _, err := s.repo.Leave(ctx, conv, actor, fallback); err != nil {
		return err
	}
	s.emit(ctx, conv, actor, nil, "member_left")
	return nil
}

func (s *Service) AddMember(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error {
	conv, target, err := s.requireAdminAndTarget(ctx, chatID, actor, username)
	if err != nil {
		return err
	}
	isMember, err := s.repo.IsMember(ctx, conv.ID, target.ID)
	if err != nil {
		return err
	}
	if isMember {
		return infrastructure.ErrConflict
	}

	if err := s.repo.AddMember(ctx, conv, actor, target, fallback); err != nil {
		return err
	}
	s.emit(ctx, conv, actor, target, SystemUserAdded)
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error {
	conv, target, err := s.requireAdminAndTarget(ctx, chatID, actor, username)
	if err != nil {
		return err
	}
	isMember, err := s.repo.IsMember(ctx, conv.ID, target.ID)
	if err != nil {
		return err
	}
	if !isMember {
		return infrastructure.ErrConflict
	}

	tornDown, err := s.repo.RemoveMember(ctx, conv, actor, target, fallback)
	if err != nil {
		return err
	}
	if tornDown {
		s.emit(ctx, conv, actor, target, "group_removed")
	} else {
		s.emit(ctx, conv, actor, target, SystemUserRemoved)
	}
	return nil
}

func (s *Service) AddAdmin(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error {
	conv, target, err := s.requireFirstAdminAndTarget(ctx, chatID, actor, username)
	if err != nil {
		return err
	}
	isMember, err := s.repo.IsMember(ctx, conv.ID, target.ID)
	if err != nil {
		return err
	}
	if !isMember {
		return infrastructure.ErrConflict
	}
	isAdmin, err := s.repo.IsAdmin(ctx, conv.ID, target.ID)
	if err != nil {
		return err
	}
	if isAdmin {
		return infrastructure.ErrConflict
	}

	if err := s.repo.PromoteAdmin(ctx, conv, actor, target, fallback); err != nil {
		return err
	}
	s.emit(ctx, conv, actor, target, SystemAdminAdded)
	return nil
}

func (s *Service) RemoveAdmin(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error {
	conv, target, err := s.requireFirstAdminAndTarget(ctx, chatID, actor, username)
	if err != nil {
		return err
	}
	if target.ID == actor.ID {
		// The senior admin cannot demote themself.
		return infrastructure.ErrForbidden
	}
	isAdmin, err := s.repo.IsAdmin(ctx, conv.ID, target.ID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return infrastructure.ErrConflict
	}

	if err := s.repo.DemoteAdmin(ctx, conv, actor, target, fallback); err != nil {
		return err
	}
	s.emit(ctx, conv, actor, target, SystemAdminRemoved)
	return nil
}

func (s *Service) SaveSettings(ctx context.Context, actor *user.User, chatID int64, name, description *string, fallback string) error {
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !conv.IsGroup() {
		return infrastructure.ErrForbidden
	}
	if err := s.requireMember(ctx, conv, actor); err != nil {
		return err
	}

	newName := conv.Name
	if name != nil && *name != "" {
		newName = *name
	}
	newDescription := conv.Description
	if description != nil {
		newDescription = *description
	}

	if err := s.repo.UpdateSettings(ctx, conv, actor, newName, newDescription, fallback); err != nil {
		return err
	}
	s.emit(ctx, conv, actor, nil, SystemSettingsChanged)
	return nil
}

func (s *Service) OlderMessages(ctx context.Context, viewer *user.User, chatID, beforeID int64, limit int) (*MessagePageView, error) {
	if chatID == 0 || beforeID <= 0 {
		return nil, infrastructure.ErrInvalidInput
	}
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conv, viewer); err != nil {
		return nil, err
	}

	limit = normalizeLimit(limit)
	messages, total, err := s.repo.Page(ctx, conv.ID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	return &MessagePageView{
		Messages: projectMessages(messages),
		HasMore:  hasMore(beforeID, total, limit),
		Total:    total,
	}, nil
}

func (s *Service) SendMessage(ctx context.Context, actor *user.User, chatID int64, text string, replyTo *int64, isForwarded bool) (*MessageView, error) {
	if text == "" {
		return nil, infrastructure.ErrInvalidInput
	}
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conv, actor); err != nil {
		return nil, err
	}

	msg, err := s.repo.AppendMessage(ctx, conv, actor, text, replyTo, isForwarded)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, conv, actor, nil, "message")
	return projectMessage(msg), nil
}

func (s *Service) EditMessage(ctx context.Context, actor *user.User, messageID int64, text string) error {
	if text == "" {
		return infrastructure.ErrInvalidInput
	}
	msg, err := s.repo.MessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsSystem || msg.UserID != actor.ID {
		return infrastructure.ErrForbidden
	}

	if err := s.repo.EditMessage(ctx, msg.ID, text); err != nil {
		return err
	}
	conv, err := s.repo.ConversationByID(ctx, msg.ConversationID)
	if err == nil {
		s.emit(ctx, conv, actor, nil, "message_edited")
	}
	return nil
}

func (s *Service) DeleteMessage(ctx context.Context, actor *user.User, messageID int64) error {
	msg, err := s.repo.MessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.UserID != actor.ID {
		// Conversation admins may also remove messages.
		isAdmin, err := s.repo.IsAdmin(ctx, msg.ConversationID, actor.ID)
		if err != nil {
			return err
		}
		if !isAdmin {
			return infrastructure.ErrForbidden
		}
	}

	if err := s.repo.SoftDeleteMessage(ctx, msg.ID); err != nil {
		return err
	}
	conv, err := s.repo.ConversationByID(ctx, msg.ConversationID)
	if err == nil {
		s.emit(ctx, conv, actor, nil, "message_deleted")
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, conv *Conversation, u *user.User) error {
	isMember, err := s.repo.IsMember(ctx, conv.ID, u.ID)
	if err != nil {
		return err
	}
	if !isMember {
		return infrastructure.ErrForbidden
	}
	return nil
}

// requireAdminAndTarget gates member mutation: group conversation, acting
// admin, existing target user.
func (s *Service) requireAdminAndTarget(ctx context.Context, chatID int64, actor *user.User, username string) (*Conversation, *user.User, error) {
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsGroup() {
		return nil, nil, infrastructure.ErrForbidden
	}
	isAdmin, err := s.repo.IsAdmin(ctx, conv.ID, actor.ID)
	if err != nil {
		return nil, nil, err
	}
	if !isAdmin {
		return nil, nil, infrastructure.ErrForbidden
	}
	target, err := s.users.Resolve(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	return conv, target, nil
}

// requireFirstAdminAndTarget gates admin mutation: only the earliest-granted
// admin may promote or demote.
func (s *Service) requireFirstAdminAndTarget(ctx context.Context, chatID int64, actor *user.User, username string) (*Conversation, *user.User, error) {
	conv, err := s.repo.ConversationByID(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsGroup() {
		return nil, nil, infrastructure.ErrForbidden
	}
	firstAdmin, err := s.repo.FirstAdminID(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	if firstAdmin != actor.ID {
		return nil, nil, infrastructure.ErrForbidden
	}
	target, err := s.users.Resolve(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	return conv, target, nil
}
