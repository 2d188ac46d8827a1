package server

import "github.com/gin-gonic/gin"

// Routes configures and returns the gin engine with all application routes.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.log), s.cors())

	engine.GET("/health", s.health)
	engine.GET("/api", s.apiInfo)
	engine.POST("/register", s.register)
	engine.POST("/token", s.login)
	engine.GET("/files/:filename", s.serveFile)
	engine.GET("/ws", s.serveWebSocket)

	authed := engine.Group("/", s.requireAuth())
	authed.GET("/users/me", s.me)
	authed.GET("/users", s.listUsers)
	authed.POST("/messages", s.sendMessage)
	authed.GET("/messages", s.listMessages)
	authed.POST("/groups", s.createGroup)
	authed.GET("/groups", s.listGroups)
	authed.GET("/groups/:id", s.getGroup)
	authed.POST("/groups/:id/members", s.addGroupMembers)
	authed.POST("/upload", s.upload)

	admin := authed.Group("/admin", requireAdmin())
	admin.GET("/users", s.adminListUsers)
	admin.PUT("/users/:id", s.adminUpdateUser)
	admin.DELETE("/users/:id", s.adminDeleteUser)
	admin.GET("/stats", s.adminStats)
	admin.POST("/announcements", s.adminAnnounce)

	return engine
}
