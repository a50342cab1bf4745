package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls the ledger service with raw wire messages.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Instantiate(ctx context.Context, req []byte, opts ...grpc.CallOption) ([]byte, error) {
	return c.invoke(ctx, methodInstantiate, req, opts)
}

func (c *Client) Execute(ctx context.Context, req []byte, opts ...grpc.CallOption) ([]byte, error) {
	return c.invoke(ctx, methodExecute, req, opts)
}

func (c *Client) Query(ctx context.Context, req []byte, opts ...grpc.CallOption) ([]byte, error) {
	return c.invoke(ctx, methodQuery, req, opts)
}

func (c *Client) invoke(ctx context.Context, method string, req []byte, opts []grpc.CallOption) ([]byte, error) {
	out := new(Frame)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, method, &Frame{Data: req}, out, opts...); err != nil {
		return nil, err
	}
	return out.Data, nil
}
