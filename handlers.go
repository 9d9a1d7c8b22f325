package livechat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/httperrors"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/router"
	"github.com/real-rm/livechat/internal/storage"
	"github.com/real-rm/livechat/internal/util"
)

// sendResponse is the persisted message plus how the push went
type sendResponse struct {
	*message.Message
	Delivery router.Outcome `json:"delivery"`
}

// deleteResponse acknowledges a deleted message
type deleteResponse struct {
	event.Deleted
	Delivery router.Outcome `json:"delivery"`
}

// handleWebSocket hands the upgrade request to the WebSocket handler
func (s *Service) handleWebSocket(c *gin.Context) {
	s.ws.ServeHTTP(c.Writer, c.Request)
}

// handleHealthCheck is the liveness probe: responding at all means alive
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck pings every configured dependency
func (s *Service) handleReadyCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthCheckTimeout)
	defer cancel()

	checks := make(map[string]gin.H, len(s.checks))
	allReady := true
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warnw("Readiness check failed", "check", name, "error", err)
			checks[name] = gin.H{"status": "not ready"}
			allReady = false
			continue
		}
		checks[name] = gin.H{"status": "ready"}
	}

	status, code := "ready", constants.StatusOK
	if !allReady {
		status, code = "not ready", constants.StatusServiceUnavailable
	}
	users, conns := s.registry.Len()
	c.JSON(code, gin.H{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"checks":      checks,
		"onlineUsers": users,
		"connections": conns,
	})
}

// handleOnlineUsers serves the presence snapshot to clients without a live
// connection. scope=cluster reads every node's presence from Redis.
func (s *Service) handleOnlineUsers(c *gin.Context) {
	if c.Query("scope") == "cluster" && s.mirror != nil {
		users, err := s.mirror.OnlineUsers(c.Request.Context())
		if err != nil {
			util.LogError(s.logger, "livechat", "read cluster presence", err)
			httperrors.RespondServiceUnavailable(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"onlineUsers": users, "scope": "cluster"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"onlineUsers": s.registry.Snapshot(), "scope": "local"})
}

// handleLogout closes the caller's live connections on this node
func (s *Service) handleLogout(c *gin.Context) {
	identity := identityFrom(c)
	n := s.ws.DisconnectUser(identity.UserID)
	c.JSON(http.StatusOK, gin.H{"disconnected": n})
}

// handleListConversation returns the caller's conversation with user :id,
// oldest first. It is how clients catch up on messages pushed while they
// had no live connection.
func (s *Service) handleListConversation(c *gin.Context) {
	identity := identityFrom(c)
	otherID := c.Param("id")
	ctx := c.Request.Context()

	exists, err := s.users.Exists(ctx, otherID)
	if err != nil {
		util.LogError(s.logger, "livechat", "look up conversation partner", err,
			"user_id", otherID,
			"trace_id", util.TraceIDFromContext(ctx))
		httperrors.RespondChatError(c, chaterrors.ErrDatabaseError(err))
		return
	}
	if !exists {
		httperrors.RespondChatError(c, chaterrors.ErrNotFound("User"))
		return
	}

	msgs, err := s.messages.ListConversation(ctx, identity.UserID, otherID)
	if err != nil {
		util.LogError(s.logger, "livechat", "list conversation", err,
			"user_id", otherID,
			"trace_id", util.TraceIDFromContext(ctx))
		httperrors.RespondChatError(c, chaterrors.ErrDatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// handleSendMessage persists a message and pushes it to the receiver's live
// connections. The message is stored whether or not the receiver is online.
func (s *Service) handleSendMessage(c *gin.Context) {
	identity := identityFrom(c)
	receiverID := c.Param("id")
	ctx := c.Request.Context()

	var req message.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperrors.RespondChatError(c, chaterrors.ErrInvalidMessageFormat("Invalid request body", err))
		return
	}
	req.Sanitize()
	if err := req.Validate(identity.UserID, receiverID); err != nil {
		respondValidation(c, err)
		return
	}

	exists, err := s.users.Exists(ctx, receiverID)
	if err != nil {
		util.LogError(s.logger, "livechat", "look up receiver", err,
			"receiver_id", receiverID,
			"trace_id", util.TraceIDFromContext(ctx))
		httperrors.RespondChatError(c, chaterrors.ErrDatabaseError(err))
		return
	}
	if !exists {
		httperrors.RespondChatError(c, chaterrors.ErrNotFound("User"))
		return
	}

	msg := message.New(identity.UserID, receiverID, req, s.now())
	if err := s.messages.Create(ctx, msg); err != nil {
		util.LogError(s.logger, "livechat", "store message", err,
			"message_id", msg.ID,
			"trace_id", util.TraceIDFromContext(ctx))
		httperrors.RespondChatError(c, chaterrors.ErrDatabaseError(err))
		return
	}

	outcome := s.push(ctx, receiverID, event.NewMessage, msg)
	c.JSON(http.StatusCreated, sendResponse{Message: msg, Delivery: outcome})
}

// handleEditMessage lets the sender change a message's text and pushes the
// edited message to the receiver
func (s *Service) handleEditMessage(c *gin.Context) {
	identity := identityFrom(c)
	ctx := c.Request.Context()

	var req message.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperrors.RespondChatError(c, chaterrors.ErrInvalidMessageFormat("Invalid request body", err))
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		respondValidation(c, err)
		return
	}

	existing, ok := s.loadOwnMessage(c, identity.UserID)
	if !ok {
		return
	}

	updated, err := s.messages.UpdateText(ctx, existing.ID, req.Text, s.now())
	if err != nil {
		s.respondStoreError(c, "update message", existing.ID, err)
		return
	}

	outcome := s.push(ctx, updated.Counterpart(identity.UserID), event.MessageUpdated, updated)
	c.JSON(http.StatusOK, sendResponse{Message: updated, Delivery: outcome})
}

// handleDeleteMessage lets the sender delete a message and tells the
// receiver which message is gone
func (s *Service) handleDeleteMessage(c *gin.Context) {
	identity := identityFrom(c)
	ctx := c.Request.Context()

	existing, ok := s.loadOwnMessage(c, identity.UserID)
	if !ok {
		return
	}

	if err := s.messages.Delete(ctx, existing.ID); err != nil {
		s.respondStoreError(c, "delete message", existing.ID, err)
		return
	}

	deleted := event.Deleted{MessageID: existing.ID}
	outcome := s.push(ctx, existing.Counterpart(identity.UserID), event.MessageDeleted, deleted)
	c.JSON(http.StatusOK, deleteResponse{Deleted: deleted, Delivery: outcome})
}

// loadOwnMessage fetches the :messageId message and checks userID sent it.
// It responds and returns false otherwise.
func (s *Service) loadOwnMessage(c *gin.Context, userID string) (*message.Message, bool) {
	id := c.Param("messageId")
	msg, err := s.messages.Get(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, "load message", id, err)
		return nil, false
	}
	if msg.SenderID != userID {
		s.logger.Warnw("Message change refused, caller is not the sender",
			"message_id", id,
			"user_id", userID,
			"trace_id", util.TraceIDFromContext(c.Request.Context()))
		httperrors.RespondChatError(c, chaterrors.ErrForbidden("Only the sender can change this message"))
		return nil, false
	}
	return msg, true
}

func (s *Service) respondStoreError(c *gin.Context, operation, id string, err error) {
	if errors.Is(err, storage.ErrMessageNotFound) {
		httperrors.RespondChatError(c, chaterrors.ErrNotFound("Message"))
		return
	}
	util.LogError(s.logger, "livechat", operation, err,
		"message_id", id,
		"trace_id", util.TraceIDFromContext(c.Request.Context()))
	httperrors.RespondChatError(c, chaterrors.ErrDatabaseError(err))
}

// push delivers an event; a failure to push never fails the request
func (s *Service) push(ctx context.Context, recipientUserID string, name event.Name, payload interface{}) router.Outcome {
	outcome, err := s.router.Deliver(ctx, recipientUserID, name, payload)
	if err != nil {
		util.LogError(s.logger, "livechat", "deliver "+string(name), err,
			"recipient", recipientUserID,
			"trace_id", util.TraceIDFromContext(ctx))
	}
	return outcome
}

func respondValidation(c *gin.Context, err error) {
	var verr *message.ValidationError
	if errors.As(err, &verr) {
		httperrors.RespondBadRequest(c, verr.Message, verr.Field)
		return
	}
	httperrors.RespondBadRequest(c, "", "")
}
