package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/seminarhq/seminar/internal/token"
)

// wireMessage is the union of server frames and broadcast events, keyed by
// the shared "type" field.
type wireMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`

	DiscussionID string          `json:"discussionId"`
	Data         json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, f *fixture, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, f.server.URL)
	if err != nil {
		t.Fatalf("websocket config: %v", err)
	}
	if userID != "" {
		cfg.Header = make(http.Header)
		cfg.Header.Set(userIDHeader, userID)
	}
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, requestID string, payload any) {
	t.Helper()
	frame := wsFrame{Type: frameType, RequestID: requestID}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		frame.Payload = encoded
	}
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("send %s frame: %v", frameType, err)
	}
}

func readWire(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	var wire wireMessage
	if err := json.NewDecoder(conn).Decode(&wire); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return wire
}

// readWireOfType skips unrelated interleaved events (presence, typing) until
// the wanted type arrives.
func readWireOfType(t *testing.T, conn *websocket.Conn, wanted string) wireMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		wire := readWire(t, conn)
		if wire.Type == wanted {
			return wire
		}
	}
	t.Fatalf("no %s frame within 10 reads", wanted)
	return wireMessage{}
}

func sharedToken(t *testing.T, f *fixture, discussionID string) string {
	t.Helper()
	grant, err := f.tokens.Generate(t.Context(), discussionID, "user-creator", token.Policy{
		ExpectsHighVolume: true,
		ExpiresIn:         time.Hour,
	})
	if err != nil {
		t.Fatalf("generate shared token: %v", err)
	}
	return grant.Token
}

func joinDiscussion(t *testing.T, conn *websocket.Conn, tokenValue string, displayName string) joinedFramePayload {
	t.Helper()
	sendFrame(t, conn, "join", "req-join", joinFramePayload{Token: tokenValue, DisplayName: displayName})
	wire := readWireOfType(t, conn, "joined")
	var joined joinedFramePayload
	if err := json.Unmarshal(wire.Payload, &joined); err != nil {
		t.Fatalf("decode joined payload: %v", err)
	}
	return joined
}

func TestWSJoinSendAck(t *testing.T) {
	f := newFixture(t)
	f.putDiscussion("disc-1", nil)
	shared := sharedToken(t, f, "disc-1")

	conn := dialWS(t, f, "user-ada")
	joined := joinDiscussion(t, conn, shared, "Ada")
	if joined.Participant.DisplayName != "Ada" || joined.Discussion.ID != "disc-1" {
		t.Fatalf("joined = %+v", joined)
	}
	// The join announcement is already part of the delivered history.
	if len(joined.Messages) != 1 || joined.Messages[0].Type != "SYSTEM" {
		t.Fatalf("join history = %+v, want one system message", joined.Messages)
	}

	sendFrame(t, conn, "send", "req-1", sendFramePayload{Content: "hello all"})

	// The sender holds a live connection, so it sees its own broadcast plus
	// the ack.
	event := readWireOfType(t, conn, "new_message")
	if event.DiscussionID != "disc-1" {
		t.Errorf("event discussion = %q, want disc-1", event.DiscussionID)
	}
	ackWire := readWireOfType(t, conn, "ack")
	var ack ackFramePayload
	if err := json.Unmarshal(ackWire.Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Seq != 2 || ack.MessageID == "" {
		t.Fatalf("ack = %+v, want seq 2", ack)
	}
}

func TestWSRequiresJoinFirst(t *testing.T) {
	f := newFixture(t)
	f.putDiscussion("disc-1", nil)

	conn := dialWS(t, f, "user-ada")
	sendFrame(t, conn, "send", "req-1", sendFramePayload{Content: "too early"})

	wire := readWireOfType(t, conn, "error")
	var failure wsErrorPayload
	if err := json.Unmarshal(wire.Payload, &failure); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if failure.Code != "FAILED_PRECONDITION" {
		t.Fatalf("error code = %q, want FAILED_PRECONDITION", failure.Code)
	}
}

func TestWSAnonymousJoinGetsSessionID(t *testing.T) {
	f := newFixture(t)
	f.putDiscussion("disc-1", nil)
	shared := sharedToken(t, f, "disc-1")

	conn := dialWS(t, f, "")
	joined := joinDiscussion(t, conn, shared, "Guest")
	if joined.Participant.SessionID == "" {
		t.Fatal("anonymous join should carry the minted session id")
	}
	if joined.Participant.Role != "PARTICIPANT" {
		t.Errorf("role = %q, want PARTICIPANT", joined.Participant.Role)
	}
}

func TestWSBroadcastReachesOtherClients(t *testing.T) {
	f := newFixture(t)
	f.putDiscussion("disc-1", nil)
	shared := sharedToken(t, f, "disc-1")

	first := dialWS(t, f, "user-ada")
	joinDiscussion(t, first, shared, "Ada")

	second := dialWS(t, f, "user-grace")
	joinDiscussion(t, second, shared, "Grace")

	// The first client observes Grace's arrival.
	if wire := readWireOfType(t, first, "user_joined"); wire.DiscussionID != "disc-1" {
		t.Errorf("user_joined discussion = %q", wire.DiscussionID)
	}

	sendFrame(t, second, "send", "req-1", sendFramePayload{Content: "hi Ada"})

	wire := readWireOfType(t, first, "new_message")
	var payload struct {
		Content string `json:"content"`
		Seq     int64  `json:"seq"`
	}
	if err := json.Unmarshal(wire.Data, &payload); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if payload.Content != "hi Ada" {
		t.Errorf("content = %q, want %q", payload.Content, "hi Ada")
	}
}

func TestWSTypingIsEphemeral(t *testing.T) {
	f := newFixture(t)
	f.putDiscussion("disc-1", nil)
	shared := sharedToken(t, f, "disc-1")

	first := dialWS(t, f, "user-ada")
	joinDiscussion(t, first, shared, "Ada")
	second := dialWS(t, f, "user-grace")
	joinDiscussion(t, second, shared, "Grace")
	readWireOfType(t, first, "user_joined")

	sendFrame(t, second, "typing", "", typingFramePayload{Typing: true})

	wire := readWireOfType(t, first, "typing")
	var payload struct {
		DisplayName string `json:"displayName"`
		Typing      bool   `json:"typing"`
	}
	if err := json.Unmarshal(wire.Data, &payload); err != nil {
		t.Fatalf("decode typing data: %v", err)
	}
	if payload.DisplayName != "Grace" || !payload.Typing {
		t.Errorf("typing payload = %+v", payload)
	}

	page, err := f.bus.List(t.Context(), "disc-1", "", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	for _, m := range page.Messages {
		if m.Type.Automated() {
			t.Errorf("unexpected automated message %+v", m)
		}
	}
}

func TestWSUnsupportedFrameType(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f, "user-ada")

	sendFrame(t, conn, "dance", "req-1", map[string]string{})
	wire := readWireOfType(t, conn, "error")
	var failure wsErrorPayload
	if err := json.Unmarshal(wire.Payload, &failure); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if failure.Code != "INVALID_ARGUMENT" {
		t.Fatalf("error code = %q, want INVALID_ARGUMENT", failure.Code)
	}
}
