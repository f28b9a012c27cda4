package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a running server over plaintext gRPC with the CBOR codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the server at addr ("host:port").
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Req, Res any](ctx context.Context, c *Client, procedure string, req *Req) (*Res, error) {
	res := new(Res)
	if err := c.conn.Invoke(ctx, procedure, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Stats fetches heap and collector counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	return invoke[StatsRequest, StatsResponse](ctx, c, StatsProcedure, &StatsRequest{})
}

// Collect runs a major collection, or a minor one.
func (c *Client) Collect(ctx context.Context, minor bool) (*CollectResponse, error) {
	return invoke[CollectRequest, CollectResponse](ctx, c, CollectProcedure, &CollectRequest{Minor: minor})
}

// Snapshot captures and archives the heap.
func (c *Client) Snapshot(ctx context.Context, label string) (*SnapshotResponse, error) {
	return invoke[SnapshotRequest, SnapshotResponse](ctx, c, SnapshotProcedure, &SnapshotRequest{Label: label})
}

// Roots returns handles for the rooted objects.
func (c *Client) Roots(ctx context.Context) (*RootsResponse, error) {
	return invoke[RootsRequest, RootsResponse](ctx, c, RootsProcedure, &RootsRequest{})
}

// Inspect describes the object behind a handle.
func (c *Client) Inspect(ctx context.Context, handleID string, depth int) (*InspectResponse, error) {
	return invoke[InspectRequest, InspectResponse](ctx, c, InspectProcedure, &InspectRequest{HandleID: handleID, Depth: depth})
}

// InspectSlot drills into a property or "[index]" element.
func (c *Client) InspectSlot(ctx context.Context, handleID, name string) (*InspectResponse, error) {
	return invoke[InspectSlotRequest, InspectResponse](ctx, c, InspectSlotProcedure, &InspectSlotRequest{HandleID: handleID, Name: name})
}

// Release drops a handle.
func (c *Client) Release(ctx context.Context, handleID string) (*ReleaseResponse, error) {
	return invoke[ReleaseRequest, ReleaseResponse](ctx, c, ReleaseProcedure, &ReleaseRequest{HandleID: handleID})
}
