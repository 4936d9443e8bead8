package socket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/sanlockd/sanlockd/internal/logger"
)

// Handler processes one decoded frame and writes its reply to conn.
// It owns framing its own reply via WriteOKReply/WriteErrorReply.
type Handler func(ctx context.Context, conn net.Conn, frame Frame) error

// Server listens on a Unix domain socket and dispatches each frame it
// reads to the Handler registered for that frame's Command.
type Server struct {
	path     string
	mode     os.FileMode
	handlers map[Command]Handler

	mu       sync.Mutex
	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer constructs a Server bound to path, not yet listening.
// mode sets the socket file's permission bits once created.
func NewServer(path string, mode os.FileMode) *Server {
	return &Server{
		path:     path,
		mode:     mode,
		handlers: make(map[Command]Handler),
		shutdown: make(chan struct{}),
	}
}

// Handle registers h as the handler for cmd. Must be called before Serve.
func (s *Server) Handle(cmd Command, h Handler) {
	s.handlers[cmd] = h
}

// Serve listens on the configured socket path and accepts connections
// until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, s.mode); err != nil {
		_ = listener.Close()
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("socket server listening", slog.String("path", s.path))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// Stop closes the listener, causing Serve to return once in-flight
// connections drain.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		_ = os.Remove(s.path)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("socket: connection closed", logger.Err(err))
			}
			return
		}

		h, ok := s.handlers[frame.Header.Command]
		if !ok {
			if err := WriteFrame(conn, frame.Header.Command, 0, 0, nil); err != nil {
				return
			}
			continue
		}
		if err := h(ctx, conn, frame); err != nil {
			logger.Warn("socket: handler failed", logger.Command(frame.Header.Command.String()), logger.Err(err))
			return
		}
	}
}
