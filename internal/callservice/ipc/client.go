package ipc

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the CallControl service.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient connects to addr. token is sent as a bearer token when set.
func NewClient(addr, token string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to call service at %s: %w", addr, err)
	}
	slog.Debug("[IPC] Client created", "address", addr)
	return &Client{conn: conn, token: token}, nil
}

// Call invokes method with req and returns the decoded response. Core
// failures come back as *callerr.Error.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, fromStatus(method, err)
	}
	return out.AsMap(), nil
}

// Dial places a call and returns its id.
func (c *Client) Dial(ctx context.Context, req map[string]any) (int, error) {
	resp, err := c.Call(ctx, "Dial", req)
	if err != nil {
		return 0, err
	}
	id, _ := resp["call_id"].(float64)
	return int(id), nil
}

// ListCalls returns the registered calls as decoded maps.
func (c *Client) ListCalls(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.Call(ctx, "ListCalls", nil)
	if err != nil {
		return nil, err
	}
	raw, _ := resp["calls"].([]any)
	calls := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			calls = append(calls, m)
		}
	}
	return calls, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
