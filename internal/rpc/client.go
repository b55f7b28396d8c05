package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/signalsfoundry/offline-maps/internal/events"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/plugin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrCallFailed is returned by the typed helpers when the server answers
// with a result string other than "Success".
var ErrCallFailed = errors.New("offline call failed")

// Client calls the OfflineRegions service.
type Client struct {
	conn grpc.ClientConnInterface
	cc   *grpc.ClientConn
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to target without transport security.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: cc, cc: cc}, nil
}

// Close releases a connection opened by Dial.
func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Call invokes method with args and returns the decoded result.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", method, err)
	}
	out := new(structpb.Value)
	if err := c.conn.Invoke(outgoing(ctx), FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsInterface(), nil
}

// DownloadOfflineRegion asks the server to start a download whose events
// go to channel.
func (c *Client) DownloadOfflineRegion(ctx context.Context, definition, style map[string]any, channel, accessToken string) error {
	return c.expectSuccess(ctx, plugin.MethodDownloadOfflineRegion, map[string]any{
		plugin.ArgDefinition:  definition,
		plugin.ArgStyle:       style,
		plugin.ArgChannelName: channel,
		plugin.ArgAccessToken: accessToken,
	})
}

// DownloadedRegionIDs lists persisted tile regions.
func (c *Client) DownloadedRegionIDs(ctx context.Context) ([]string, error) {
	res, err := c.Call(ctx, plugin.MethodGetDownloadedRegionIDs, nil)
	if err != nil {
		return nil, err
	}
	list, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, res)
	}
	ids := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// CancelDownloading cancels the running download, if any.
func (c *Client) CancelDownloading(ctx context.Context) error {
	return c.expectSuccess(ctx, plugin.MethodCancelDownloading, nil)
}

// DeleteTilesByID removes the given tile regions.
func (c *Client) DeleteTilesByID(ctx context.Context, ids []string) error {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	return c.expectSuccess(ctx, plugin.MethodDeleteTilesByID, map[string]any{plugin.ArgIDs: list})
}

// DeleteAllTilesAndStyles removes every tile region and style pack.
func (c *Client) DeleteAllTilesAndStyles(ctx context.Context, accessToken string) error {
	return c.expectSuccess(ctx, plugin.MethodDeleteAllTilesAndStyles, map[string]any{plugin.ArgAccessToken: accessToken})
}

func (c *Client) expectSuccess(ctx context.Context, method string, args map[string]any) error {
	res, err := c.Call(ctx, method, args)
	if err != nil {
		return err
	}
	if res != plugin.ResultSuccess {
		return fmt.Errorf("%w: %s: %v", ErrCallFailed, method, res)
	}
	return nil
}

// Subscription receives the events of one channel.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe attaches to channel. It returns once the server has attached
// the observer, so a download started afterwards is observed from its start
// event. Cancel ctx to stop the subscription early.
func (c *Client) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	stream, err := c.conn.NewStream(outgoing(ctx), &ServiceDesc.Streams[0], FullMethod(MethodSubscribe))
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{plugin.ArgChannelName: channel})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	md, err := stream.Header()
	if err != nil {
		return nil, err
	}
	if len(md.Get(ChannelHeader)) == 0 {
		// Ended without headers; the status carries the reason.
		err := stream.RecvMsg(new(structpb.Struct))
		if err == nil || err == io.EOF {
			err = fmt.Errorf("subscribe %q: stream ended before attaching", channel)
		}
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF once the channel has
// closed.
func (s *Subscription) Recv() (events.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return events.Event{}, err
	}
	return events.FromMap(msg.AsMap()), nil
}

func outgoing(ctx context.Context) context.Context {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}
	return ctx
}
