package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"whisker/config"
	"whisker/internal/chat"
	"whisker/internal/user"
	"whisker/pkg/jwt"
)

type Server struct {
	router *gin.Engine
	db     *sql.DB
}

func NewServer(cfg *config.Config, db *sql.DB, tokens *jwt.JWT, users user.UseCase, userHandler *user.Handler, chatHandler *chat.Handler) *Server {
	router := gin.New()
	router.Use(Logger())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	router.Use(RateLimitMiddleware(cfg.RateLimitRPS))

	server := &Server{
		router: router,
		db:     db,
	}
	server.setupRoutes(tokens, users, userHandler, chatHandler)
	return server
}

func (s *Server) setupRoutes(tokens *jwt.JWT, users user.UseCase, userHandler *user.Handler, chatHandler *chat.Handler) {
	s.router.GET("/", s.healthCheck)

	s.router.POST("/api/auth/register/", userHandler.Register)
	s.router.POST("/api/login/", userHandler.Login)

	authRoute := s.router.Group("/api")
	authRoute.Use(AuthMiddleware(tokens, users))
	{
		authRoute.POST("/logout/", userHandler.Logout)
		authRoute.GET("/preferences/", userHandler.GetPreferences)
		authRoute.POST("/preferences/", userHandler.SavePreferences)

		c := authRoute.Group("/c")
		c.POST("/get_chats", chatHandler.GetChats)
		c.POST("/get_chat", chatHandler.GetChat)
		c.POST("/create_group", chatHandler.CreateGroup)
		c.POST("/remove_group", chatHandler.RemoveGroup)
		c.POST("/leave_group", chatHandler.LeaveGroup)
		c.POST("/get_group", chatHandler.GetGroup)
		c.POST("/add_member", chatHandler.AddMember)
		c.POST("/remove_member", chatHandler.RemoveMember)
		c.POST("/add_admin", chatHandler.AddAdmin)
		c.POST("/remove_admin", chatHandler.RemoveAdmin)
		c.POST("/save_settings", chatHandler.SaveSettings)
		c.POST("/update_group_settings", chatHandler.SaveSettings)
		c.POST("/get_older_messages", chatHandler.GetOlderMessages)
		c.POST("/send_message", chatHandler.SendMessage)
		c.POST("/edit_message", chatHandler.EditMessage)
		c.POST("/delete_message", chatHandler.DeleteMessage)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	if err := s.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
