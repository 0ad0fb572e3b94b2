// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tandem-chat/tandem/lib/codec"
	"github.com/tandem-chat/tandem/lib/netutil"
)

// ActionFunc processes a request for one action. raw is the full CBOR
// request, including the "action" field.
//
// A nil result produces {ok: true}; anything else is marshaled into
// the response's data field. An error produces {ok: false, error}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc handles an action whose connection outlives the response.
// It returns the value for the success response and a hold function
// that owns the connection until it returns.
type StreamFunc func(ctx context.Context, raw []byte) (result any, hold func(ctx context.Context, conn net.Conn), err error)

// Server serves a CBOR request-response protocol on a Unix socket.
// Each connection carries exactly one request. Stream actions keep
// their connection open after the response.
type Server struct {
	socketPath string
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger

	activeConnections sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath. Register
// actions before calling Serve.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
}

// Handle registers a handler for action. Panics on a duplicate.
func (s *Server) Handle(action string, handler ActionFunc) {
	s.checkUnique(action)
	s.handlers[action] = handler
}

// HandleStream registers a stream handler for action. Panics on a
// duplicate.
func (s *Server) HandleStream(action string, handler StreamFunc) {
	s.checkUnique(action)
	s.streams[action] = handler
}

func (s *Server) checkUnique(action string) {
	_, plain := s.handlers[action]
	_, stream := s.streams[action]
	if plain || stream {
		panic(fmt.Sprintf("sessionmgr.Server: duplicate handler for action %q", action))
	}
}

// Serve accepts connections until ctx is cancelled, then waits for
// active handlers (including held streams, which end with ctx) to
// return. A stale socket file is removed first; the socket file is
// removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("session manager listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 1024 * 1024
)

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting, so one value is one request.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsExpectedCloseError(err) {
			s.logger.Debug("client hung up before sending a request", "error", err)
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if stream, exists := s.streams[header.Action]; exists {
		result, hold, err := stream(ctx, []byte(raw))
		if err != nil {
			s.writeError(conn, err.Error())
			return
		}
		if !s.writeSuccess(conn, result) {
			return
		}
		conn.SetReadDeadline(time.Time{})
		conn.SetWriteDeadline(time.Time{})
		hold(ctx, conn)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeResponse(conn, Response{Error: err.Error(), Rejected: isRejection(err)})
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, message string) {
	s.writeResponse(conn, Response{OK: false, Error: message})
}

func (s *Server) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// isRejection reports whether err refuses the request: a backend
// *AuthError.
func isRejection(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// writeSuccess reports whether the response was written.
func (s *Server) writeSuccess(conn net.Conn, result any) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return false
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
		return false
	}
	return true
}

// decode unmarshals a request into T.
func decode[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}
