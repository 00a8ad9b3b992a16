package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisker/internal/user"
)

func newTestRouter(h *Handler, actor *user.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", actor)
	})
	api := r.Group("/api/c")
	api.POST("/get_chats", h.GetChats)
	api.POST("/get_chat", h.GetChat)
	api.POST("/get_group", h.GetGroup)
	api.POST("/create_group", h.CreateGroup)
	api.POST("/remove_group", h.RemoveGroup)
	api.POST("/leave_group", h.LeaveGroup)
	api.POST("/add_member", h.AddMember)
	api.POST("/remove_member", h.RemoveMember)
	api.POST("/add_admin", h.AddAdmin)
	api.POST("/remove_admin", h.RemoveAdmin)
	api.POST("/save_settings", h.SaveSettings)
	api.POST("/get_older_messages", h.GetOlderMessages)
	api.POST("/send_message", h.SendMessage)
	api.POST("/edit_message", h.EditMessage)
	api.POST("/delete_message", h.DeleteMessage)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) (int, map[string]any) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return w.Code, decoded
}

func TestIntArg(t *testing.T) {
	assert.Equal(t, int64(5), intArg(float64(5)))
	assert.Equal(t, int64(5), intArg("5"))
	assert.Equal(t, int64(0), intArg("abc"))
	assert.Equal(t, int64(0), intArg(nil))
	assert.Equal(t, int64(0), intArg(true))
}

func TestHandlerGetChatsEnvelope(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("alice", "pw")
	env.addUser("bob", "pw")
	handler := NewHandler(env.svc)
	router := newTestRouter(handler, alice)

	_, err := env.svc.CreateGroup(context.Background(), alice, "Team", []string{"bob"})
	require.NoError(t, err)

	code, body := postJSON(t, router, "/api/c/get_chats", gin.H{"chats": 0, "lastUpdate": 0})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])
	chats := body["data"].([]any)
	require.Len(t, chats, 1)
	liveTime := body["time"].(float64)

	// Replaying the snapshot short-circuits to status:false.
	code, body = postJSON(t, router, "/api/c/get_chats",
		gin.H{"chats": len(chats), "lastUpdate": liveTime})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["status"])

	// lastUpdate arrives as a numeric string from old clients.
	code, body = postJSON(t, router, "/api/c/get_chats",
		gin.H{"chats": 0, "lastUpdate": "0"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])
}

func TestHandlerGroupLifecycle(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("alice", "pw-a")
	bob := env.addUser("bob", "pw-b")
	handler := NewHandler(env.svc)
	aliceRouter := newTestRouter(handler, alice)
	bobRouter := newTestRouter(handler, bob)

	code, body := postJSON(t, aliceRouter, "/api/c/create_group", gin.H{"name": "Team"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["status"])
	groupID := int64(body["id"].(float64))
	assert.NotEmpty(t, body["secret"])

	code, body = postJSON(t, aliceRouter, "/api/c/add_member",
		gin.H{"from": groupID, "username": "bob", "message": "alice added bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])

	// Non-admin mutation comes back as a status:false envelope, not an error
	// status code.
	code, body = postJSON(t, bobRouter, "/api/c/add_member",
		gin.H{"from": groupID, "username": "alice"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["status"])

	code, body = postJSON(t, bobRouter, "/api/c/get_group",
		gin.H{"from": groupID, "limit": 30})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["status"])
	chat := body["chat"].(map[string]any)
	assert.Equal(t, "Team", chat["name"])
	assert.Equal(t, true, chat["isGroup"])
	assert.Len(t, body["messages"], 1)
	assert.Equal(t, false, body["hasMore"])
	assert.Equal(t, float64(1), body["total"])

	// Unknown group is a 404.
	code, body = postJSON(t, bobRouter, "/api/c/get_group", gin.H{"from": 4040})
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["status"])

	code, body = postJSON(t, bobRouter, "/api/c/leave_group", gin.H{"from": groupID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])

	code, body = postJSON(t, aliceRouter, "/api/c/remove_group",
		gin.H{"from": groupID, "password": "wrong"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["status"])

	code, body = postJSON(t, aliceRouter, "/api/c/remove_group",
		gin.H{"from": groupID, "password": "pw-a"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])
}

func TestHandlerMessageFlow(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("alice", "pw")
	env.addUser("bob", "pw")
	handler := NewHandler(env.svc)
	router := newTestRouter(handler, alice)

	code, body := postJSON(t, router, "/api/c/get_chat", gin.H{"from": "bob"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["status"])
	chat := body["chat"].(map[string]any)
	chatID := int64(chat["id"].(float64))

	code, body = postJSON(t, router, "/api/c/send_message",
		gin.H{"chat_id": chatID, "text": "hello"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["status"])
	sent := body["message"].(map[string]any)
	assert.Equal(t, "hello", sent["text"])
	assert.Equal(t, "alice", sent["author"])
	messageID := int64(sent["id"].(float64))

	code, body = postJSON(t, router, "/api/c/edit_message",
		gin.H{"message_id": messageID, "text": "hello!"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])

	code, body = postJSON(t, router, "/api/c/send_message",
		gin.H{"chat_id": chatID, "text": "reply", "reply_to": messageID, "is_forwarded": true})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["status"])
	reply := body["message"].(map[string]any)
	assert.Equal(t, float64(messageID), reply["replyTo"])
	assert.Equal(t, true, reply["isForwarded"])

	// The pager tolerates numeric strings for its cursor.
	code, body = postJSON(t, router, "/api/c/get_older_messages",
		gin.H{"chat_id": chatID, "before_id": "2", "limit": "30"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["status"])
	assert.Len(t, body["messages"], 1)
	assert.Equal(t, true, body["hasMore"])

	// A missing cursor is a client error.
	code, body = postJSON(t, router, "/api/c/get_older_messages",
		gin.H{"chat_id": chatID})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["status"])

	code, body = postJSON(t, router, "/api/c/delete_message",
		gin.H{"message_id": messageID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])

	code, body = postJSON(t, router, "/api/c/delete_message",
		gin.H{"message_id": 9999})
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["status"])
}

func TestHandlerSaveSettings(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("alice", "pw")
	handler := NewHandler(env.svc)
	router := newTestRouter(handler, alice)

	conv, err := env.svc.CreateGroup(context.Background(), alice, "Team", nil)
	require.NoError(t, err)

	code, body := postJSON(t, router, "/api/c/save_settings",
		gin.H{"id": conv.ID, "name": "Renamed", "message": "alice renamed the chat"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])

	updated, err := env.store.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
}

func TestHandlerRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("alice", "pw")
	handler := NewHandler(env.svc)
	router := newTestRouter(handler, alice)

	req := httptest.NewRequest(http.MethodPost, "/api/c/get_chats", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
