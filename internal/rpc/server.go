package rpc

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/plugin"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChannelHeader is sent once a subscribe stream is attached to its channel.
const ChannelHeader = "x-offline-channel"

// Service implements OfflineRegionsServer on top of a plugin.Dispatcher.
type Service struct {
	dispatcher *plugin.Dispatcher
	log        logging.Logger
}

// NewService constructs a Service bound to dispatcher.
func NewService(dispatcher *plugin.Dispatcher, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{dispatcher: dispatcher, log: log}
}

// Invoke runs one dispatcher method.
func (s *Service) Invoke(ctx context.Context, method string, args *structpb.Struct) (*structpb.Value, error) {
	log := logging.FromContextOr(ctx, s.log)
	ctx, span := StartChildSpan(ctx, "Offline/dispatch", "method", method)
	defer span.End()

	var argMap map[string]any
	if args != nil {
		argMap = args.AsMap()
	}
	res, err := s.dispatcher.Handle(ctx, plugin.MethodCall{Method: method, Arguments: argMap})
	if err != nil {
		span.RecordError(err)
		log.Warn(ctx, "method call rejected", logging.Err(err))
		return nil, ToStatusError(err)
	}
	if str, ok := res.(string); ok {
		span.SetAttributes(attribute.String("offline.result", str))
	}

	v, err := toValue(res)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("encode %s result: %w", method, err))
	}
	return v, nil
}

// Subscribe attaches the stream to the named channel and forwards its
// events until the channel closes.
func (s *Service) Subscribe(req *structpb.Struct, stream EventStream) error {
	ctx := stream.Context()
	log := logging.FromContextOr(ctx, s.log)

	name := req.GetFields()[plugin.ArgChannelName].GetStringValue()
	if name == "" {
		return ToStatusError(fmt.Errorf("%w: %s is required", ErrInvalidArgument, plugin.ArgChannelName))
	}

	sub := s.dispatcher.Hub().Subscribe(name)
	defer sub.Detach()
	if err := stream.SendHeader(map[string]string{ChannelHeader: name}); err != nil {
		return err
	}
	log.Debug(ctx, "observer attached", logging.String("channel", name))

	sent := 0
	for {
		ev, ok := sub.Next(ctx.Done())
		if !ok {
			if err := ctx.Err(); err != nil {
				return ToStatusError(err)
			}
			log.Debug(ctx, "channel closed", logging.String("channel", name), logging.Int("events", sent))
			return nil
		}
		msg, err := structpb.NewStruct(ev.Map())
		if err != nil {
			return ToStatusError(fmt.Errorf("encode event: %w", err))
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
		sent++
	}
}

func toValue(res any) (*structpb.Value, error) {
	if ids, ok := res.([]string); ok {
		list := make([]any, len(ids))
		for i, id := range ids {
			list[i] = id
		}
		res = list
	}
	return structpb.NewValue(res)
}
