package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Sender pushes one named event to a connected client. Presence entries
// hold Senders so the engine never touches websocket types directly.
type Sender interface {
	Send(event string, payload any) error
}

// envelope mirrors models.Envelope but with a marshalable Data field.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Session wraps a websocket connection with a write mutex; gorilla conns
// allow only one concurrent writer.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewSession(conn *websocket.Conn) *Session { return &Session{conn: conn} }

func (s *Session) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(envelope{Event: event, Data: payload})
}

// ReadEnvelope blocks for the next inbound frame and returns its event
// name and raw payload.
func (s *Session) ReadEnvelope() (string, json.RawMessage, error) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := s.conn.ReadJSON(&env); err != nil {
		return "", nil, err
	}
	return env.Event, env.Data, nil
}

func (s *Session) Close() error { return s.conn.Close() }
