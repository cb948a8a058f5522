package tcp

import (
	"errors"
	"net"
)

var (
	// ErrNilServer is returned when a nil server receiver is used.
	ErrNilServer = errors.New("tcp: nil server")
	// ErrEmptyAddress is returned when no listen address is configured.
	ErrEmptyAddress = errors.New("tcp: empty address")
	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("tcp: already listening")
	// ErrNotListening is returned when Accept is called before Listen.
	ErrNotListening = errors.New("tcp: not listening")
)

// Server listens for framed TCP connections.
type Server struct {
	addr string
	ln   net.Listener
}

// NewServer creates a server for the provided listen address.
func NewServer(addr string) (*Server, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	return &Server{addr: addr}, nil
}

// Addr returns the bound address once listening, or the configured one.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Listen starts listening on the configured address.
func (s *Server) Listen() error {
	if s == nil {
		return ErrNilServer
	}
	if s.ln != nil {
		return ErrAlreadyListening
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Accept waits for the next incoming connection.
func (s *Server) Accept() (net.Conn, error) {
	if s == nil {
		return nil, ErrNilServer
	}
	if s.ln == nil {
		return nil, ErrNotListening
	}
	return s.ln.Accept()
}

// Close stops the listener.
func (s *Server) Close() error {
	if s == nil {
		return ErrNilServer
	}
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}
