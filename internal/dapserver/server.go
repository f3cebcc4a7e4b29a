package dapserver

import (
	"fmt"
	"net"
	"sync"

	"github.com/sssooonnnggg/luaud/internal/errs"
)

// Server accepts DAP clients on a TCP port. Sessions are served one at
// a time: a client owns the adapter until it disconnects, after which
// the next may connect and debug subsequent loads.
type Server struct {
	host *Host
	ln   net.Listener

	mu     sync.Mutex
	closed bool
	active *Session
}

// Listen binds the TCP port and starts accepting in the background. A
// bind failure is a Host error; the embedding decides whether to keep
// running undebugged.
func Listen(port int, host *Host) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errs.Hostf(err, "listen on port %d", port)
	}
	s := &Server{host: host, ln: ln}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.host.Log.Errorf("accept: %v", err)
			}
			return
		}

		sess := NewSession(conn, s.host)
		s.mu.Lock()
		s.active = sess
		s.mu.Unlock()

		if err := sess.Serve(); err != nil {
			s.host.Log.Warnf("session %s ended: %v", sess.ID(), err)
		}

		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Stop closes the listener and any active session's connection.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	active := s.active
	s.mu.Unlock()

	s.ln.Close()
	if active != nil {
		active.conn.Close()
	}
}
