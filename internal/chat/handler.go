package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"whisker/infrastructure"
	"whisker/internal/user"
)

type Handler struct {
	chats UseCase
}

func NewHandler(chats UseCase) *Handler {
	return &Handler{chats: chats}
}

// intArg coerces a loosely-typed JSON field (number, numeric string, absent)
// to an int64, defaulting to 0. Clients of the old API send both shapes.
func intArg(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// respondError maps the domain taxonomy onto the wire: not-found is 404,
// everything the caller could have known better is a status:false envelope.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, infrastructure.ErrChatNotFound),
		errors.Is(err, infrastructure.ErrUserNotFound),
		errors.Is(err, infrastructure.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": false})
	case errors.Is(err, infrastructure.ErrForbidden),
		errors.Is(err, infrastructure.ErrConflict),
		errors.Is(err, infrastructure.ErrWrongPassword):
		c.JSON(http.StatusOK, gin.H{"status": false})
	case errors.Is(err, infrastructure.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": false})
	}
}

func (h *Handler) GetChats(c *gin.Context) {
	var input struct {
		Chats      int `json:"chats"`
		LastUpdate any `json:"lastUpdate"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	list, err := h.chats.GetChats(c.Request.Context(), user.CurrentUser(c), input.Chats, intArg(input.LastUpdate))
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		// Nothing changed since the snapshot the client already has.
		c.JSON(http.StatusOK, gin.H{"status": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "data": list.Chats, "time": list.Time})
}

func (h *Handler) GetChat(c *gin.Context) {
	var input struct {
		From     string `json:"from"`
		Limit    any    `json:"limit"`
		BeforeID any    `json:"before_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	page, err := h.chats.GetChat(c.Request.Context(), user.CurrentUser(c), input.From,
		int(intArg(input.Limit)), intArg(input.BeforeID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, page)
}

func (h *Handler) GetGroup(c *gin.Context) {
	var input struct {
		From     any `json:"from"`
		Limit    any `json:"limit"`
		BeforeID any `json:"before_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	page, err := h.chats.GetGroup(c.Request.Context(), user.CurrentUser(c), intArg(input.From),
		int(intArg(input.Limit)), intArg(input.BeforeID))
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, page)
}

func respondPage(c *gin.Context, page *ChatPageView) {
	c.JSON(http.StatusOK, gin.H{
		"status":   true,
		"chat":     page.Chat,
		"messages": page.Messages,
		"hasMore":  page.HasMore,
		"total":    page.Total,
		"last":     page.Last,
	})
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var input struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	conv, err := h.chats.CreateGroup(c.Request.Context(), user.CurrentUser(c), input.Name, input.Members)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "id": conv.ID, "secret": conv.Secret})
}

func (h *Handler) RemoveGroup(c *gin.Context) {
	var input struct {
		From     any    `json:"from"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	if err := h.chats.RemoveGroup(c.Request.Context(), user.CurrentUser(c), intArg(input.From), input.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}

func (h *Handler) LeaveGroup(c *gin.Context) {
	var input struct {
		From    any    `json:"from"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	if err := h.chats.LeaveGroup(c.Request.Context(), user.CurrentUser(c), intArg(input.From), input.Message); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}

type memberInput struct {
	From     any    `json:"from"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

func (h *Handler) AddMember(c *gin.Context) {
	h.memberCommand(c, h.chats.AddMember)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	h.memberCommand(c, h.chats.RemoveMember)
}

func (h *Handler) AddAdmin(c *gin.Context) {
	h.memberCommand(c, h.chats.AddAdmin)
}

func (h *Handler) RemoveAdmin(c *gin.Context) {
	h.memberCommand(c, h.chats.RemoveAdmin)
}

func (h *Handler) memberCommand(c *gin.Context, command func(ctx context.Context, actor *user.User, chatID int64, username, fallback string) error) {
	var input memberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	if err := command(c.Request.Context(), user.CurrentUser(c), intArg(input.From), input.Username, input.Message); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}

func (h *Handler) SaveSettings(c *gin.Context) {
	var input struct {
		ID          any     `json:"id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Message     string  `json:"message"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	if err := h.chats.SaveSettings(c.Request.Context(), user.CurrentUser(c), intArg(input.ID),
		input.Name, input.Description, input.Message); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}

func (h *Handler) GetOlderMessages(c *gin.Context) {
	var input struct {
		ChatID   any `json:"chat_id"`
		BeforeID any `json:"before_id"`
		Limit    any `json:"limit"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	page, err := h.chats.OlderMessages(c.Request.Context(), user.CurrentUser(c),
		intArg(input.ChatID), intArg(input.BeforeID), int(intArg(input.Limit)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   true,
		"messages": page.Messages,
		"hasMore":  page.HasMore,
		"total":    page.Total,
	})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var input struct {
		ChatID      any    `json:"chat_id"`
		Text        string `json:"text"`
		ReplyTo     *int64 `json:"reply_to"`
		IsForwarded bool   `json:"is_forwarded"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), user.CurrentUser(c), intArg(input.ChatID),
		input.Text, input.ReplyTo, input.IsForwarded)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "message": msg})
}

func (h *Handler) EditMessage(c *gin.Context) {
	var input struct {
		MessageID any    `json:"message_id"`
		Text      string `json:"text"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	if err := h.chats.EditMessage(c.Request.Context(), user.CurrentUser(c), intArg(input.MessageID), input.Text); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	var input struct {
		MessageID any `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	if err := h.chats.DeleteMessage(c.Request.Context(), user.CurrentUser(c), intArg(input.MessageID)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}
