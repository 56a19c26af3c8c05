package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/opengoat/opengoat/internal/common/logger"
)

// Handler answers one JSON-RPC request's params, returning a result to
// marshal or an Error to report.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// Conn serves JSON-RPC 2.0 requests over a line-delimited stdio transport:
// one object per line in, one object per line out. Only the server side of
// the conversation is implemented.
type Conn struct {
	in  io.Reader
	out io.Writer

	mu sync.Mutex // guards writes to out

	handlers map[string]Handler
	logger   *logger.Logger
}

// NewConn constructs a Conn reading requests from in and writing
// responses/notifications to out.
func NewConn(in io.Reader, out io.Writer, log *logger.Logger) *Conn {
	return &Conn{
		in:       in,
		out:      out,
		handlers: make(map[string]Handler),
		logger:   log.WithFields(zap.String("component", "acp-jsonrpc")),
	}
}

// Handle registers the handler invoked for an incoming request or
// notification named method.
func (c *Conn) Handle(method string, h Handler) {
	c.handlers[method] = h
}

// Serve reads one JSON-RPC message per line from in until EOF, ctx
// cancellation, or a read error. Each request is dispatched synchronously
// in arrival order; the ACP façade enforces its own per-session
// in-flight-prompt limit above this layer.
func (c *Conn) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.dispatch(ctx, append([]byte(nil), line...))
	}
	return scanner.Err()
}

func (c *Conn) dispatch(ctx context.Context, line []byte) {
	var msg struct {
		ID     interface{}     `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("failed to parse message", zap.Error(err))
		return
	}
	if msg.Method == "" {
		c.logger.Warn("received message with no method", zap.Any("id", msg.ID))
		return
	}

	h, ok := c.handlers[msg.Method]
	if !ok {
		if msg.ID != nil {
			c.SendError(msg.ID, &Error{Code: MethodNotFound, Message: "method not found: " + msg.Method})
		}
		return
	}

	result, rpcErr := h(ctx, msg.Params)
	if msg.ID == nil {
		// Notification: no response expected even on error.
		return
	}
	if rpcErr != nil {
		c.SendError(msg.ID, rpcErr)
		return
	}
	if err := c.SendResult(msg.ID, result); err != nil {
		c.logger.Warn("failed to send response", zap.Error(err))
	}
}

// SendResult writes a successful Response for id.
func (c *Conn) SendResult(id interface{}, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.send(Response{JSONRPC: "2.0", ID: id, Result: data})
}

// SendError writes an error Response for id.
func (c *Conn) SendError(id interface{}, rpcErr *Error) error {
	return c.send(Response{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

// Notify sends a one-way notification, e.g. session/update.
func (c *Conn) Notify(method string, params interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.send(Notification{JSONRPC: "2.0", Method: method, Params: data})
}

func (c *Conn) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.out.Write(data)
	return err
}
