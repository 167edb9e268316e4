package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/seminarhq/seminar/internal/admission"
	"github.com/seminarhq/seminar/internal/bus"
	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/discussion/participant"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/id"
	"github.com/seminarhq/seminar/internal/platform/timeouts"
	"github.com/seminarhq/seminar/internal/registry"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsIdentityContextKey struct{}

// wsClient serializes all writes to one connection. Server events and frame
// replies share the encoder, so a slow reader can only stall itself.
type wsClient struct {
	mu      sync.Mutex
	encoder *json.Encoder
	conn    *websocket.Conn
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{encoder: json.NewEncoder(conn), conn: conn}
}

// Send delivers a broadcast event. Part of the registry.Conn contract.
func (c *wsClient) Send(event registry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(event)
}

// Close tears down the underlying connection.
func (c *wsClient) Close() {
	_ = c.conn.Close()
}

func (c *wsClient) writeFrame(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(frame)
}

func writeWSError(client *wsClient, requestID string, code string, msg string) error {
	payload, err := json.Marshal(wsErrorPayload{Code: code, Message: msg})
	if err != nil {
		return err
	}
	return client.writeFrame(wsFrame{Type: "error", RequestID: requestID, Payload: payload})
}

func writeWSDomainError(client *wsClient, requestID string, err error) error {
	code := apperrors.GetCode(err)
	msg := err.Error()
	if code == apperrors.CodeUnknown {
		log.Printf("server: websocket internal error: %v", err)
		msg = "internal error"
	}
	return writeWSError(client, requestID, code.WSCode(), msg)
}

// identityFromRequest resolves the caller identity for the handshake. The
// bool reports whether a fresh anonymous session id was minted.
func identityFromRequest(r *http.Request) (participant.Identity, bool, error) {
	if userID := callerUserID(r); userID != "" {
		return participant.Identity{UserID: userID}, false, nil
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if sessionID := strings.TrimSpace(cookie.Value); sessionID != "" {
			return participant.Identity{SessionID: sessionID}, false, nil
		}
	}
	sessionID, err := id.NewID()
	if err != nil {
		return participant.Identity{}, false, err
	}
	return participant.Identity{SessionID: sessionID}, true, nil
}

func (h *handler) websocketHandler() http.Handler {
	wsHandler := websocket.Handler(h.handleWSConn)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		identity, fresh, err := identityFromRequest(r)
		if err != nil {
			http.Error(w, "session setup failed", http.StatusInternalServerError)
			return
		}
		if fresh {
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    identity.SessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})
}

// wsSession tracks what one connection has joined.
type wsSession struct {
	mu          sync.Mutex
	identity    participant.Identity
	participant participant.Participant
	joined      bool
}

func (s *wsSession) setJoined(p participant.Participant) {
	s.mu.Lock()
	s.participant = p
	s.joined = true
	s.mu.Unlock()
}

func (s *wsSession) clearJoined() (participant.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, joined := s.participant, s.joined
	s.participant = participant.Participant{}
	s.joined = false
	return p, joined
}

func (s *wsSession) current() (participant.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant, s.joined
}

func (h *handler) handleWSConn(conn *websocket.Conn) {
	client := newWSClient(conn)
	defer client.Close()

	ctx := context.Background()
	identity := participant.Identity{}
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if resolved, ok := request.Context().Value(wsIdentityContextKey{}).(participant.Identity); ok {
			identity = resolved
		}
	}
	session := &wsSession{identity: identity}

	// Keepalive detects half-open peers: when a send fails the connection
	// is closed, which also unblocks the read loop below.
	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go func() {
		ticker := time.NewTicker(timeouts.Keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-keepaliveDone:
				return
			case now := <-ticker.C:
				event := registry.Event{Type: bus.EventKeepalive, Timestamp: now.UTC()}
				if err := client.Send(event); err != nil {
					client.Close()
					return
				}
			}
		}
	}()

	defer func() {
		if p, joined := session.current(); joined {
			h.services.Registry.Unregister(p.DiscussionID, session.identity, client)
		}
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(client, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(client, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		if p, joined := session.current(); joined {
			h.services.Registry.Touch(p.DiscussionID, session.identity)
		}

		switch frame.Type {
		case "join":
			h.handleJoinFrame(ctx, client, session, frame)
		case "leave":
			h.handleLeaveFrame(ctx, client, session, frame)
		case "send":
			h.handleSendFrame(ctx, client, session, frame)
		case "edit":
			h.handleEditFrame(ctx, client, session, frame)
		case "delete":
			h.handleDeleteFrame(ctx, client, session, frame)
		case "react":
			h.handleReactFrame(ctx, client, session, frame)
		case "typing":
			h.handleTypingFrame(client, session, frame)
		case "history":
			h.handleHistoryFrame(ctx, client, session, frame)
		default:
			_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

type joinFramePayload struct {
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
	Locale      string `json:"locale,omitempty"`
}

type participantPayload struct {
	ID           string `json:"id"`
	DiscussionID string `json:"discussion_id"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	SessionID    string `json:"session_id,omitempty"`
}

type joinedFramePayload struct {
	Participant participantPayload        `json:"participant"`
	Discussion  discussionSummaryResponse `json:"discussion"`
	Messages    []messageResponse         `json:"messages"`
	ServerTime  string                    `json:"server_time"`
}

func (h *handler) handleJoinFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	var payload joinFramePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid join payload")
		return
	}

	result, err := h.services.Admission.Join(ctx, admission.JoinInput{
		Token:       payload.Token,
		Identity:    session.identity,
		DisplayName: payload.DisplayName,
		Locale:      payload.Locale,
	})
	if err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}

	// Re-joining from the same connection moves it to the new discussion.
	if previous, joined := session.current(); joined && previous.DiscussionID != result.Participant.DiscussionID {
		h.services.Registry.Unregister(previous.DiscussionID, session.identity, client)
	}
	session.setJoined(result.Participant)
	h.services.Registry.Register(result.Participant.DiscussionID, session.identity, client)

	joined := joinedFramePayload{
		Participant: participantPayload{
			ID:           result.Participant.ID,
			DiscussionID: result.Participant.DiscussionID,
			DisplayName:  result.Participant.DisplayName,
			Role:         participant.RoleLabel(result.Participant.Role),
			SessionID:    session.identity.SessionID,
		},
		Discussion: discussionSummaryResponse{
			ID:              result.Discussion.ID,
			Title:           result.Discussion.Title,
			MaxParticipants: result.Discussion.MaxParticipants,
			ActiveCount:     result.Discussion.ActiveCount,
		},
		Messages:   make([]messageResponse, 0, len(result.Messages)),
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	}
	for _, m := range result.Messages {
		joined.Messages = append(joined.Messages, messageToResponse(m))
	}
	_ = client.writeFrame(wsFrame{Type: "joined", RequestID: frame.RequestID, Payload: mustJSON(joined)})
}

type ackFramePayload struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
	Count     int    `json:"count,omitempty"`
}

func writeAck(client *wsClient, requestID string, ack ackFramePayload) {
	if ack.Status == "" {
		ack.Status = "ok"
	}
	_ = client.writeFrame(wsFrame{Type: "ack", RequestID: requestID, Payload: mustJSON(ack)})
}

func (h *handler) handleLeaveFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	p, joined := session.clearJoined()
	if !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}

	h.services.Registry.Unregister(p.DiscussionID, session.identity, client)
	if err := h.services.Admission.Leave(ctx, p.ID); err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}
	writeAck(client, frame.RequestID, ackFramePayload{})
}

type sendFramePayload struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id,omitempty"`
}

func (h *handler) handleSendFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	p, joined := session.current()
	if !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}
	var payload sendFramePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid send payload")
		return
	}

	appended, err := h.services.Bus.Append(ctx, bus.AppendInput{
		DiscussionID: p.DiscussionID,
		Author:       message.Author{UserID: session.identity.UserID, ParticipantID: p.ID},
		Content:      payload.Content,
		Type:         message.TypeForRole(p.Role),
		ParentID:     payload.ParentID,
	})
	if err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}
	writeAck(client, frame.RequestID, ackFramePayload{MessageID: appended.ID, Seq: appended.Seq})
}

type editFramePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func (h *handler) handleEditFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	p, joined := session.current()
	if !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}
	var payload editFramePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid edit payload")
		return
	}

	edited, err := h.services.Bus.Edit(ctx, payload.MessageID, message.Author{
		UserID:        session.identity.UserID,
		ParticipantID: p.ID,
	}, payload.Content)
	if err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}
	writeAck(client, frame.RequestID, ackFramePayload{MessageID: edited.ID, Seq: edited.Seq})
}

type deleteFramePayload struct {
	MessageID string `json:"message_id"`
}

func (h *handler) handleDeleteFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	p, joined := session.current()
	if !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}
	var payload deleteFramePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid delete payload")
		return
	}

	err := h.services.Bus.Delete(ctx, payload.MessageID, bus.DeleteCaller{
		Author: message.Author{UserID: session.identity.UserID, ParticipantID: p.ID},
		Role:   p.Role,
	})
	if err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}
	writeAck(client, frame.RequestID, ackFramePayload{MessageID: payload.MessageID})
}

type reactFramePayload struct {
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"`
}

func (h *handler) handleReactFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	if _, joined := session.current(); !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}
	var payload reactFramePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid react payload")
		return
	}

	count, err := h.services.Bus.React(ctx, payload.MessageID, payload.Kind)
	if err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}
	writeAck(client, frame.RequestID, ackFramePayload{MessageID: payload.MessageID, Count: count})
}

type typingFramePayload struct {
	Typing bool `json:"typing"`
}

func (h *handler) handleTypingFrame(client *wsClient, session *wsSession, frame wsFrame) {
	p, joined := session.current()
	if !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}
	var payload typingFramePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid typing payload")
		return
	}
	h.services.Bus.SetTyping(p.DiscussionID, session.identity, p.DisplayName, payload.Typing)
}

type historyFramePayload struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type historyResultPayload struct {
	Messages   []messageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

func (h *handler) handleHistoryFrame(ctx context.Context, client *wsClient, session *wsSession, frame wsFrame) {
	p, joined := session.current()
	if !joined {
		_ = writeWSError(client, frame.RequestID, "FAILED_PRECONDITION", "join a discussion first")
		return
	}
	var payload historyFramePayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = writeWSError(client, frame.RequestID, "INVALID_ARGUMENT", "invalid history payload")
			return
		}
	}

	page, err := h.services.Bus.List(ctx, p.DiscussionID, payload.Cursor, payload.Limit)
	if err != nil {
		_ = writeWSDomainError(client, frame.RequestID, err)
		return
	}

	result := historyResultPayload{
		Messages:   make([]messageResponse, 0, len(page.Messages)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, m := range page.Messages {
		result.Messages = append(result.Messages, messageToResponse(m))
	}
	_ = client.writeFrame(wsFrame{Type: "history", RequestID: frame.RequestID, Payload: mustJSON(result)})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
