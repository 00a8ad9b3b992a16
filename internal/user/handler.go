package user

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"whisker/infrastructure"
)

type Handler struct {
	users UseCase
}

func NewHandler(users UseCase) *Handler {
	return &Handler{users: users}
}

// CurrentUser returns the authenticated principal placed in the context by the
// auth middleware.
func CurrentUser(c *gin.Context) *User {
	v, exists := c.Get("user")
	if !exists {
		return nil
	}
	u, ok := v.(*User)
	if !ok {
		return nil
	}
	return u
}

func (h *Handler) Register(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, token, err := h.users.Register(c.Request.Context(), input.Username, input.Password)
	switch {
	case errors.Is(err, infrastructure.ErrUserAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
		return
	case errors.Is(err, infrastructure.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is too weak"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": created})
}

func (h *Handler) Login(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, token, err := h.users.Login(c.Request.Context(), input.Username, input.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

// Logout is a no-op server side: tokens are stateless, the client drops its copy.
func (h *Handler) Logout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetPreferences(c *gin.Context) {
	u := CurrentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "user": u})
}

func (h *Handler) SavePreferences(c *gin.Context) {
	u := CurrentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var input struct {
		Description string `json:"description"`
		ImageFile   string `json:"image_file"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Description == "" {
		input.Description = u.Description
	}
	if input.ImageFile == "" {
		input.ImageFile = u.ImageFile
	}

	if err := h.users.UpdatePreferences(c.Request.Context(), u.ID, input.Description, input.ImageFile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save preferences"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}
