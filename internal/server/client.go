package server

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote ResolverService with a fixed API key.
type Client struct {
	rpc    *ResolverServiceClient
	conn   *grpc.ClientConn
	apiKey string
}

// Dial creates a Client for endpoint (e.g. "localhost:50051"). The
// connection is established lazily on the first call.
func Dial(endpoint, apiKey string) (*Client, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("server.Dial: %w", err)
	}
	return &Client{
		rpc:    NewResolverServiceClient(conn),
		conn:   conn,
		apiKey: apiKey,
	}, nil
}

// Resolve sends one resolve call and returns the decoded response fields.
func (c *Client) Resolve(ctx context.Context, query string, settings map[string]any, includeContent bool) (map[string]any, error) {
	fields := map[string]any{
		"query":           query,
		"include_content": includeContent,
	}
	if len(settings) > 0 {
		fields["settings"] = settings
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("Client.Resolve: %w", err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.apiKey)
	resp, err := c.rpc.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
