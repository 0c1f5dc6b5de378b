package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Handler processes incoming message/send requests.
type Handler interface {
	HandleSendMessage(ctx context.Context, req SendMessageRequest) (*Task, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req SendMessageRequest) (*Task, error)

// HandleSendMessage calls f.
func (f HandlerFunc) HandleSendMessage(ctx context.Context, req SendMessageRequest) (*Task, error) {
	return f(ctx, req)
}

// method decodes params and runs one JSON-RPC method.
type method func(ctx context.Context, params json.RawMessage) (any, error)

// Server exposes an agent over HTTP: its card at the well-known URI and
// JSON-RPC on POST /.
type Server struct {
	card    AgentCard
	methods map[string]method
	srv     *http.Server
}

// NewServer creates a server for the given agent.
func NewServer(card AgentCard, handler Handler) *Server {
	return &Server{
		card: card,
		methods: map[string]method{
			MethodSendMessage: func(ctx context.Context, params json.RawMessage) (any, error) {
				var req SendMessageRequest
				if err := json.Unmarshal(params, &req); err != nil {
					return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
				}
				return handler.HandleSendMessage(ctx, req)
			},
		},
	}
}

// Routes returns the agent's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/agent-card.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.card)
	})
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.dispatch(r.Context(), r.Body))
	})
	return mux
}

func (s *Server) dispatch(ctx context.Context, body io.Reader) envelope {
	var req envelope
	if err := json.NewDecoder(io.LimitReader(body, maxResponse)).Decode(&req); err != nil {
		return fault(nil, ErrCodeParse, "parse error: "+err.Error())
	}
	m, ok := s.methods[req.Method]
	if !ok {
		return fault(req.ID, ErrCodeMethodNotFound, "method not found: "+req.Method)
	}
	result, err := m(ctx, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return fault(req.ID, rpcErr.Code, rpcErr.Message)
		}
		return fault(req.ID, ErrCodeInternal, err.Error())
	}
	return reply(req.ID, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens on addr and serves in a background goroutine. It returns
// once the listener is bound.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("a2a: listen %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: s.Routes()}
	go s.srv.Serve(ln)
	return ln.Addr(), nil
}

// Stop gracefully shuts down the listener started by Start.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
