package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/internal/auth"
	"github.com/teamline-app/realtime/internal/hub"
	"github.com/teamline-app/realtime/internal/proto"
	"github.com/teamline-app/realtime/internal/store"
)

// Handlers provides the REST and streaming endpoints of the realtime layer.
type Handlers struct {
	store       store.Store
	hub         *hub.Hub
	authService *auth.Service
	limiter     *publishLimiter
	iceServers  []string
	log         *zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(st store.Store, h *hub.Hub, authService *auth.Service, iceServers []string, publishRateLimit int, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		store:       st,
		hub:         h,
		authService: authService,
		limiter:     newPublishLimiter(publishRateLimit),
		iceServers:  iceServers,
		log:         logger,
	}
}

// Close releases handler resources.
func (h *Handlers) Close() {
	h.limiter.close()
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// Register handles user registration.
// POST /api/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// Login handles user login.
// POST /api/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// CreateMessageRequest is the persistence-create body.
type CreateMessageRequest struct {
	ReceiverID int64  `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
	Type       string `json:"type"`
}

// CreateMessage durably persists a message and returns the server-confirmed
// record, including the server-assigned id and timestamp. Fan-out is a
// separate call; clients forward the returned record, never their draft.
// POST /api/messages
func (h *Handlers) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	senderID := currentUserID(c)
	msg, err := h.store.CreateMessage(c.Request.Context(), senderID, req.ReceiverID, req.Content, req.Type)
	if err != nil {
		h.log.Error().Err(err).Int64("sender_id", senderID).Msg("failed to persist message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, toProtoMessage(msg))
}

// History returns the conversation with one counterpart, ascending by
// creation time.
// GET /api/messages/:peer
func (h *Handlers) History(c *gin.Context) {
	peerID, err := strconv.ParseInt(c.Param("peer"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid peer id"})
		return
	}

	userID := currentUserID(c)
	messages, err := h.store.ListConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to list conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]*proto.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, toProtoMessage(m))
	}
	c.JSON(http.StatusOK, out)
}

// MarkRead advances every message the peer sent to the caller to READ.
// POST /api/messages/:peer/read
func (h *Handlers) MarkRead(c *gin.Context) {
	peerID, err := strconv.ParseInt(c.Param("peer"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid peer id"})
		return
	}

	userID := currentUserID(c)
	if err := h.store.MarkConversationRead(c.Request.Context(), userID, peerID); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to mark conversation read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ContactsResponse carries the sorted contact list and the presence seed.
type ContactsResponse struct {
	Contacts []ContactView `json:"contacts"`
	Online   []int64       `json:"online"`
}

// ContactView is one contact-list entry.
type ContactView struct {
	UserID        int64      `json:"userId"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"displayName,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	Unread        int        `json:"unread"`
}

// Contacts returns the caller's contacts sorted by last activity, with
// unread counts, plus the ids currently online.
// GET /api/contacts
func (h *Handlers) Contacts(c *gin.Context) {
	userID := currentUserID(c)
	contacts, err := h.store.ListContacts(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to list contacts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := ContactsResponse{
		Contacts: make([]ContactView, 0, len(contacts)),
		Online:   h.hub.Online(),
	}
	for _, ct := range contacts {
		resp.Contacts = append(resp.Contacts, ContactView{
			UserID:        ct.UserID,
			Username:      ct.Username,
			DisplayName:   ct.DisplayName,
			AvatarURL:     ct.AvatarURL,
			LastMessageAt: ct.LastMessageAt,
			Unread:        ct.Unread,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Publish accepts a signaling envelope and routes it to the addressed
// receiver's open streams. The sender id is always the authenticated caller,
// whatever the body claims.
// POST /api/events
func (h *Handlers) Publish(c *gin.Context) {
	var env proto.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid envelope"})
		return
	}
	if env.Type == "" || env.ReceiverID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "type and receiverId are required"})
		return
	}

	userID := currentUserID(c)
	if !h.limiter.allow(userID) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		return
	}

	env.SenderID = userID
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	h.hub.Publish(&env)
	c.Status(http.StatusAccepted)
}

// RTCConfigResponse carries the path-discovery server list for peers.
type RTCConfigResponse struct {
	ICEServers []string `json:"iceServers"`
}

// RTCConfig returns the configured STUN/TURN server list.
// GET /api/rtc-config
func (h *Handlers) RTCConfig(c *gin.Context) {
	c.JSON(http.StatusOK, RTCConfigResponse{ICEServers: h.iceServers})
}

func toProtoMessage(m *store.Message) *proto.Message {
	return &proto.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Status:     m.Status,
		Type:       m.Type,
		CreatedAt:  m.CreatedAt,
	}
}
