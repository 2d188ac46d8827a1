package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Tyrowin/corpchat/internal/attachments"
	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/Tyrowin/corpchat/internal/identity"
	"github.com/Tyrowin/corpchat/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// userView is an account as listed to other users.
type userView struct {
	chat.Account
	Online bool `json:"online"`
}

func (s *Server) view(account chat.Account) userView {
	return userView{Account: account, Online: s.registry.Online(account.ID)}
}

// health provides a simple liveness check.
func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "corpchat server is running")
}

func (s *Server) apiInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "corpchat",
		"websocket": "/ws?token=<access_token>",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

// register creates an account and logs it in. The first account ever
// registered becomes the administrator; a role in the request body is ignored.
func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalid(err))
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		respondError(c, fmt.Errorf("hash password: %w", err))
		return
	}

	account, err := s.accounts.Create(identity.Registration{
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	s.respondToken(c, account)
}

type credentials struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// login exchanges credentials, sent as a form or as JSON, for an access token.
func (s *Server) login(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil {
		respondError(c, invalid(err))
		return
	}

	account, err := s.accounts.GetByUsername(creds.Username)
	if err != nil || !s.hasher.Verify(creds.Password, account.PasswordHash) {
		respondError(c, fmt.Errorf("%w: incorrect username or password", errUnauthenticated))
		return
	}

	s.respondToken(c, account)
}

// respondToken answers with a fresh access token for account.
func (s *Server) respondToken(c *gin.Context, account chat.Account) {
	token, err := s.tokens.Issue(account.ID, account.Username)
	if err != nil {
		respondError(c, fmt.Errorf("issue token: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user":         account,
	})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, s.view(currentAccount(c)))
}

func (s *Server) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, lo.Map(s.accounts.List(), func(a chat.Account, _ int) userView {
		return s.view(a)
	}))
}

type messageRequest struct {
	Content     string `json:"content"`
	RecipientID string `json:"recipient_id"`
	GroupID     string `json:"group_id"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalid(err))
		return
	}

	draft := router.Draft{
		Content:     req.Content,
		RecipientID: req.RecipientID,
		GroupID:     req.GroupID,
	}
	if req.FileURL != "" {
		draft.Attachment = &chat.Attachment{URL: req.FileURL, Name: req.FileName, Size: req.FileSize}
	}

	msg, err := s.router.Submit(c.Request.Context(), currentAccount(c).ID, draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) listMessages(c *gin.Context) {
	query := router.Query{
		RecipientID: c.Query("recipient_id"),
		GroupID:     c.Query("group_id"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(c, fmt.Errorf("%w: limit must be a positive integer", chat.ErrValidation))
			return
		}
		query.Limit = limit
	}

	messages, err := s.router.History(c.Request.Context(), currentAccount(c).ID, query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type groupRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"member_ids"`
}

func (s *Server) createGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalid(err))
		return
	}

	group, err := s.groups.Create(currentAccount(c).ID, req.Name, req.Description, req.MemberIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (s *Server) listGroups(c *gin.Context) {
	c.JSON(http.StatusOK, s.groups.ListFor(currentAccount(c).ID))
}

func (s *Server) getGroup(c *gin.Context) {
	group, err := s.groups.Get(c.Param("id"), currentAccount(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (s *Server) addGroupMembers(c *gin.Context) {
	var memberIDs []string
	if err := c.ShouldBindJSON(&memberIDs); err != nil {
		respondError(c, invalid(err))
		return
	}

	group, err := s.groups.AddMembers(c.Param("id"), currentAccount(c).ID, memberIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// upload stores the multipart field "file" and returns its reference.
func (s *Server) upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, fmt.Errorf("%w: no file provided", chat.ErrValidation))
		return
	}
	if header.Size > s.cfg.MaxUploadSize {
		respondError(c, fmt.Errorf("%w: %d bytes exceeds %d", attachments.ErrTooLarge, header.Size, s.cfg.MaxUploadSize))
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadSize+1))
	if err != nil {
		respondError(c, fmt.Errorf("read upload: %w", err))
		return
	}

	upload, err := s.files.Save(c.Request.Context(), header.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}

func (s *Server) serveFile(c *gin.Context) {
	path, err := s.files.Path(c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.File(path)
}

type accountUpdateRequest struct {
	FullName *string    `json:"full_name"`
	Email    *string    `json:"email"`
	Role     *chat.Role `json:"role"`
}

func (s *Server) adminListUsers(c *gin.Context) {
	s.listUsers(c)
}

func (s *Server) adminUpdateUser(c *gin.Context) {
	var req accountUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalid(err))
		return
	}

	account, err := s.accounts.Update(c.Param("id"), chat.AccountUpdate{
		FullName: req.FullName,
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	s.log.Info("account updated by administrator", "user_id", account.ID, "by", currentAccount(c).ID)
	c.JSON(http.StatusOK, s.view(account))
}

// adminDeleteUser removes an account and drops its live session first.
func (s *Server) adminDeleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == currentAccount(c).ID {
		respondError(c, fmt.Errorf("%w: administrators cannot delete themselves", chat.ErrValidation))
		return
	}
	if !s.accounts.Exists(id) {
		respondError(c, fmt.Errorf("%w: user %s", chat.ErrNotFound, id))
		return
	}

	s.registry.Disconnect(id)
	if err := s.accounts.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) adminStats(c *gin.Context) {
	stats := s.accounts.Stats()
	c.JSON(http.StatusOK, gin.H{
		"total_users":    stats.Total,
		"admin_users":    stats.Administrators,
		"regular_users":  stats.Members,
		"online_users":   s.registry.Count(),
		"total_messages": s.history.Count(),
		"total_groups":   s.groups.Count(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

type announcementRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) adminAnnounce(c *gin.Context) {
	var req announcementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalid(err))
		return
	}

	delivered, err := s.router.Announce(c.Request.Context(), currentAccount(c).ID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// serveWebSocket authenticates the caller, upgrades the connection and
// registers it as the caller's live session.
func (s *Server) serveWebSocket(c *gin.Context) {
	account, err := s.authenticate(c, true)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an error response.
		s.log.Warn("websocket upgrade failed", "user_id", account.ID, "error", err)
		return
	}

	client := NewClient(conn, s, account.ID, c.Request.RemoteAddr)
	if !s.attach(account.ID, client) {
		s.log.Info("refusing websocket connection during shutdown", "user_id", account.ID)
		deadline := time.Now().Add(s.cfg.WriteWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = conn.Close()
	}
}
