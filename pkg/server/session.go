package server

import (
	"crypto/subtle"
	"math/rand/v2"
	"sync"

	"github.com/wentianbu/sft/internal/protocol/sft"
)

// Session is one logged-in client: the control connection that carried the
// Login, the issued token, and every data connection bound by Auth since.
type Session struct {
	clientID uint16
	username string
	token    string
	clientIP string
	control  *sft.Conn

	mu   sync.Mutex
	data map[uint16]*sft.Conn // client-chosen conn id -> data connection
}

func (s *Session) ClientID() uint16 { return s.clientID }
func (s *Session) Username() string { return s.username }

// checkToken compares a presented token in constant time.
func (s *Session) checkToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// addDataConn binds an authenticated data connection under the client-chosen
// identifier. A rebind under the same id closes the old connection first.
func (s *Session) addDataConn(connID uint16, conn *sft.Conn) {
	s.mu.Lock()
	old := s.data[connID]
	s.data[connID] = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// dataConn looks up a bound data connection by its client-chosen id.
func (s *Session) dataConn(connID uint16) (*sft.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.data[connID]
	return conn, ok
}

// closeAll tears down every connection of the session, control included, and
// returns how many were closed.
func (s *Session) closeAll() int {
	s.mu.Lock()
	conns := make([]*sft.Conn, 0, len(s.data)+1)
	for _, c := range s.data {
		conns = append(conns, c)
	}
	s.data = map[uint16]*sft.Conn{}
	s.mu.Unlock()

	conns = append(conns, s.control)
	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

// registry tracks live sessions by client id. All methods are safe for
// concurrent use.
type registry struct {
	mu       sync.Mutex
	sessions map[uint16]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[uint16]*Session)}
}

// register creates a session under a fresh random non-zero client id.
func (r *registry) register(username, token, clientIP string, control *sft.Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var clientID uint16
	for {
		clientID = uint16(rand.UintN(0xFFFF)) + 1
		if _, taken := r.sessions[clientID]; !taken {
			break
		}
	}

	session := &Session{
		clientID: clientID,
		username: username,
		token:    token,
		clientIP: clientIP,
		control:  control,
		data:     make(map[uint16]*sft.Conn),
	}
	r.sessions[clientID] = session
	return session
}

func (r *registry) get(clientID uint16) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

func (r *registry) remove(clientID uint16) {
	r.mu.Lock()
	delete(r.sessions, clientID)
	r.mu.Unlock()
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
