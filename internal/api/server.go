// Package api exposes the engine over HTTP: session management, sending,
// conversation reads and the websocket push channel. Handlers are thin glue
// over the orchestrator and the store; error mapping is by sentinel.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/fanout"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/orchestrator"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// maxUploadBytes caps multipart attachment uploads.
const maxUploadBytes = 64 << 20

type Server struct {
	db       *store.DB
	orch     *orchestrator.Orchestrator
	hub      *fanout.Hub
	mediaDir string
	log      *zap.Logger
}

func NewServer(db *store.DB, orch *orchestrator.Orchestrator, hub *fanout.Hub, mediaDir string, log *zap.Logger) *Server {
	return &Server{db: db, orch: orch, hub: hub, mediaDir: mediaDir, log: log.Named("api")}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/session", s.createSession)
		api.GET("/session/:id", s.getSession)
		api.GET("/sessions/:owner", s.listSessions)
		api.POST("/session/:id/reconnect", s.reconnectSession)
		api.DELETE("/session/:id", s.deleteSession)

		api.POST("/send", s.sendText)
		api.POST("/send-file", s.sendFile)
		api.POST("/send-media", s.sendMedia)

		api.GET("/messages/:id", s.listMessages)
		api.GET("/conversation/:id/:peer", s.listConversation)
		api.PUT("/conversation/:id/:peer/read", s.markConversationRead)
		api.GET("/search/:id", s.searchMessages)

		api.GET("/contacts/:id", s.listContacts)
		api.GET("/contacts/:id/:status", s.listContactsByStatus)
		api.PUT("/contact/:contactID/status", s.updateContactStatus)
		api.GET("/contact-profile/:id/:number", s.contactProfilePic)
	}

	r.GET("/ws", s.websocket)
	r.Static(media.PublicPrefix, s.mediaDir)
	return r
}

// fail maps an error to a status code and writes the JSON error body.
func (s *Server) fail(c *gin.Context, err error) {
	var dfe *orchestrator.DeleteFailedError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, orchestrator.ErrSessionUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrInvalidMedia),
		errors.Is(err, orchestrator.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &dfe):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        dfe.Error(),
			"disconnected": true,
		})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		User string `json:"user" binding:"required"`
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}

	sess, err := s.orch.CreateSession(c.Request.Context(), req.User, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.db.GetSession(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	owner, err := s.db.ResolveOwner(c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	sessions, err := s.db.ListSessionsByOwner(owner.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner, "sessions": sessions})
}

func (s *Server) reconnectSession(c *gin.Context) {
	sess, err := s.orch.ReconnectSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	hard := c.Query("hard") == "true" || c.Query("hard") == "1"
	if err := s.orch.DisconnectSession(c.Request.Context(), c.Param("id"), hard); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true, "deleted": hard})
}

func (s *Server) sendText(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		To        string `json:"to" binding:"required"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId, to and text are required"})
		return
	}

	msg, err := s.orch.SendText(c.Request.Context(), req.SessionID, req.To, req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) sendFile(c *gin.Context) {
	sessionID := c.PostForm("sessionId")
	to := c.PostForm("to")
	if sessionID == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and to are required"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, err)
		return
	}

	msg, err := s.orch.SendMedia(c.Request.Context(), sessionID, to, orchestrator.MediaInput{
		Data:     data,
		MimeType: fh.Header.Get("Content-Type"),
		Filename: fh.Filename,
		Caption:  c.PostForm("caption"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) sendMedia(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		To        string `json:"to" binding:"required"`
		MediaURL  string `json:"mediaUrl"`
		Base64    string `json:"base64"`
		MimeType  string `json:"mimeType"`
		Filename  string `json:"filename"`
		Caption   string `json:"caption"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and to are required"})
		return
	}

	msg, err := s.orch.SendMedia(c.Request.Context(), req.SessionID, req.To, orchestrator.MediaInput{
		URL:      req.MediaURL,
		Base64:   req.Base64,
		MimeType: req.MimeType,
		Filename: req.Filename,
		Caption:  req.Caption,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) listMessages(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.db.GetSession(sessionID); err != nil {
		s.fail(c, err)
		return
	}
	msgs, err := s.db.ListMessages(sessionID, queryInt(c, "limit", 100))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) listConversation(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.db.GetSession(sessionID); err != nil {
		s.fail(c, err)
		return
	}
	msgs, err := s.db.ListConversation(sessionID, c.Param("peer"), queryInt(c, "limit", 100))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) markConversationRead(c *gin.Context) {
	n, err := s.orch.MarkConversationRead(c.Request.Context(), c.Param("id"), c.Param("peer"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *Server) searchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	results, err := s.db.SearchMessages(query, c.Param("id"), queryInt(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) listContacts(c *gin.Context) {
	s.respondContacts(c, c.Param("id"), c.Query("status"))
}

func (s *Server) listContactsByStatus(c *gin.Context) {
	statusValue := c.Param("status")
	if !store.ValidConversationStatus(statusValue) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation status"})
		return
	}
	s.respondContacts(c, c.Param("id"), statusValue)
}

func (s *Server) respondContacts(c *gin.Context, sessionID, statusValue string) {
	if _, err := s.db.GetSession(sessionID); err != nil {
		s.fail(c, err)
		return
	}
	contacts, err := s.db.ListContacts(sessionID, statusValue)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (s *Server) updateContactStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	contact, err := s.orch.SetContactStatus(c.Request.Context(), c.Param("contactID"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) contactProfilePic(c *gin.Context) {
	url, err := s.orch.ContactProfilePic(c.Request.Context(), c.Param("id"), c.Param("number"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_pic_url": url})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
