package sim

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/transport"
)

// DefaultIdleTimeout is the time a client connection may stay silent before it is dropped.
const DefaultIdleTimeout = 5 * time.Minute

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("sim: server closed")

// Server exposes an Instrument over a raw SCPI socket. Each command is one line; queries
// get one response line. A stale-session fault drops the client connection.
type Server struct {
	inst        *Instrument
	logger      logger.Logger
	idleTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a server for inst.
func NewServer(inst *Instrument, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Server{
		inst:        inst,
		logger:      l.With("component", "sim-server", "instrument", inst.Name()),
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// SetIdleTimeout sets the per-connection idle timeout. Non-positive values disable it.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.idleTimeout = d
	s.mu.Unlock()
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ListenAndServe listens on addr, e.g. ":5025", and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}

		return ErrServerClosed
	}
	if ln == nil {
		s.mu.Unlock()
		return errors.New("sim: nil listener")
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("simulated instrument listening", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Warn("failed to accept connection", "error", err)

			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}

		go s.handleConn(conn)
	}
}

// Close stops the listener and drops every client connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)

	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleConn(c net.Conn) {
	defer s.wg.Done()
	defer s.untrack(c)
	defer c.Close()

	remote := c.RemoteAddr().String()
	s.logger.Debug("client connected", "remote", remote)

	s.mu.Lock()
	idle := s.idleTimeout
	s.mu.Unlock()

	reader := bufio.NewReader(c)
	for {
		if idle > 0 {
			_ = c.SetReadDeadline(time.Now().Add(idle))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			s.logger.Debug("client disconnected", "remote", remote, "error", err)
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		header, _ := splitCommand(line)
		query := strings.HasSuffix(header, "?")

		resp, err := s.inst.handle(line, query)
		if err != nil {
			if errors.Is(err, transport.ErrSessionInvalid) {
				s.logger.Info("dropping client on injected stale fault", "remote", remote)
				return
			}
			s.logger.Debug("ignoring injected fault", "remote", remote, "error", err)

			continue
		}

		if !query {
			continue
		}

		if _, err := c.Write([]byte(resp + "\n")); err != nil {
			s.logger.Debug("failed to write response", "remote", remote, "error", err)
			return
		}
	}
}
