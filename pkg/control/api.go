// Package control implements a local control API for a running drlsync
// daemon, adapted from the teacher's JSON-over-net.Conn control plane: the
// same Request/Response envelope and per-connection decode loop, answering
// "refresh", "check" and "status" methods against a *drl.Provider instead of
// swarm/peer management ones.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/italia/drl-sync/pkg/drl"
)

// Request represents a control API request.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server implements the control API server over a *drl.Provider.
type Server struct {
	provider *drl.Provider
}

// NewServer creates a new control API server.
func NewServer(provider *drl.Provider) *Server {
	return &Server{provider: provider}
}

// Serve starts the control API server on the given listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue // Continue accepting connections
				}
			}

			// Handle connection in goroutine
			go s.handleConnection(ctx, conn)
		}
	}
}

// handleConnection handles a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var request Request
		if err := decoder.Decode(&request); err != nil {
			// Connection closed or invalid JSON
			return
		}

		response := s.handleRequest(ctx, request)

		if err := encoder.Encode(response); err != nil {
			// Failed to send response
			return
		}
	}
}

// handleRequest processes a single API request.
func (s *Server) handleRequest(ctx context.Context, request Request) Response {
	switch request.Method {
	case "refresh":
		return s.handleRefresh(ctx, request)
	case "check":
		return s.handleCheck(ctx, request)
	case "status":
		return s.handleStatus(request)
	default:
		return Response{
			ID:    request.ID,
			Error: fmt.Sprintf("unknown method: %s", request.Method),
		}
	}
}

// handleRefresh handles the refresh operation.
func (s *Server) handleRefresh(ctx context.Context, request Request) Response {
	status, err := s.provider.Refresh(ctx)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{ID: request.ID, Result: status}
}

// handleCheck handles the check operation.
func (s *Server) handleCheck(ctx context.Context, request Request) Response {
	ucvi, ok := request.Params["ucvi"].(string)
	if !ok || ucvi == "" {
		return Response{
			ID:    request.ID,
			Error: "ucvi parameter is required and must be a string",
		}
	}

	revoked, err := s.provider.Check(ctx, ucvi)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{
		ID:     request.ID,
		Result: map[string]bool{"revoked": revoked},
	}
}

// handleStatus handles the status operation.
func (s *Server) handleStatus(request Request) Response {
	status, err := s.provider.Status()
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{ID: request.ID, Result: status}
}
