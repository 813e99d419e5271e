package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/bnema/waybridge/internal/logger"
	"github.com/bnema/waybridge/internal/window"
)

// Handler answers control queries. Implementations run on whatever
// goroutine serves the connection, so they must synchronize access to
// bridge state themselves.
type Handler interface {
	Status() StatusData
	Windows() []window.Info
}

// SocketServer handles incoming control connections.
type SocketServer struct {
	mu         sync.Mutex
	listener   net.Listener
	socketPath string
	handler    Handler
	log        *log.Logger
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	running    bool
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, handler Handler) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handler:    handler,
		log:        logger.With("component", "ipc"),
	}
}

// SocketPath returns the path the server listens on.
func (s *SocketServer) SocketPath() string {
	return s.socketPath
}

// Start begins accepting connections.
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	// Create socket directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	// Set socket permissions (user only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	s.log.Info("control socket listening", "path", s.socketPath)
	return nil
}

// Stop stops the server and removes the socket file.
func (s *SocketServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	if s.cancel != nil {
		s.cancel()
	}

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()

	os.RemoveAll(s.socketPath)

	s.log.Info("control socket stopped")
}

// acceptConnections accepts and handles incoming connections.
func (s *SocketServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					s.log.Error("failed to accept connection", "error", err)
					continue
				}
			}

			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		}
	}
}

// handleConnection serves requests on a single client connection until
// the client hangs up.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the pending read when the server shuts down, otherwise
	// Stop would wait on an idle client forever.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.log.Debug("control connection established")

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.log.Debug("control connection closed", "error", err)
				}
				return
			}

			resp := s.handleRequest(line)
			data, err := resp.Marshal()
			if err != nil {
				s.log.Error("failed to marshal response", "error", err)
				return
			}
			data = append(data, '\n')
			if _, err := conn.Write(data); err != nil {
				s.log.Error("failed to send response", "error", err)
				return
			}
		}
	}
}

// handleRequest processes a single request line and returns a response.
func (s *SocketServer) handleRequest(line []byte) *Response {
	req, err := ParseRequest(line)
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	switch req.Command {
	case CommandGetStatus:
		resp, err := NewOKResponse(s.handler.Status())
		if err != nil {
			return NewErrorResponse(err.Error())
		}
		return resp

	case CommandListWindows:
		resp, err := NewOKResponse(WindowsData{Windows: s.handler.Windows()})
		if err != nil {
			return NewErrorResponse(err.Error())
		}
		return resp

	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Command))
	}
}
