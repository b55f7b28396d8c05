// Package plugin routes named method calls from a host application to the
// offline download orchestrator and renders their results.
package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/offline-maps/internal/definition"
	"github.com/signalsfoundry/offline-maps/internal/events"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/offline"
	"github.com/signalsfoundry/offline-maps/model"
)

// Method names.
const (
	MethodDownloadOfflineRegion   = "downloadOfflineRegion"
	MethodGetDownloadedRegionIDs  = "getDownloadedRegionIds"
	MethodCancelDownloading       = "cancelDownloading"
	MethodDeleteTilesByID         = "deleteTilesById"
	MethodDeleteAllTilesAndStyles = "deleteAllTilesAndStyles"
)

// Argument keys.
const (
	ArgDefinition  = "definition"
	ArgStyle       = "style"
	ArgChannelName = "channelName"
	ArgAccessToken = "accessToken"
	ArgIDs         = "ids"
)

// Result strings returned to the host.
const (
	ResultSuccess             = "Success"
	ResultFailed              = "Failed"
	ResultParsingError        = "Parsing data error"
	ResultFetchingModelsError = "Fetching models error"
)

// ErrNotImplemented is returned for unknown methods.
var ErrNotImplemented = errors.New("plugin: method not implemented")

// Methods lists every routed method name.
var Methods = []string{
	MethodDownloadOfflineRegion,
	MethodGetDownloadedRegionIDs,
	MethodCancelDownloading,
	MethodDeleteTilesByID,
	MethodDeleteAllTilesAndStyles,
}

// MethodCall is one invocation from the host.
type MethodCall struct {
	Method    string
	Arguments map[string]any
}

// Orchestrator is the part of offline.Manager the dispatcher drives.
type Orchestrator interface {
	StartDownload(ctx context.Context, region model.RegionDefinition, style model.StyleDefinition, sink events.Sink, accessToken string) (*offline.Session, error)
	CancelDownloads(ctx context.Context) error
	DownloadedRegionIDs(ctx context.Context) ([]string, error)
	DeleteTilesByIDs(ctx context.Context, ids []string) error
	DeleteAllTilesAndStyles(ctx context.Context, accessToken string) error
}

// Dispatcher routes method calls. Download events go to the hub channel
// named by the call.
type Dispatcher struct {
	orch Orchestrator
	hub  *events.Hub
	log  logging.Logger
}

// NewDispatcher wires a dispatcher to an orchestrator and an event hub.
func NewDispatcher(orch Orchestrator, hub *events.Hub, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Dispatcher{orch: orch, hub: hub, log: log}
}

// Hub returns the hub download events are published on.
func (d *Dispatcher) Hub() *events.Hub { return d.hub }

// Handle runs one call. The result is a result string, or a []string for
// getDownloadedRegionIds on success. Only unknown methods return an error.
func (d *Dispatcher) Handle(ctx context.Context, call MethodCall) (any, error) {
	log := logging.FromContextOr(ctx, d.log).With(logging.String("method", call.Method))
	log.Debug(ctx, "method call received")

	switch call.Method {
	case MethodDownloadOfflineRegion:
		return d.download(ctx, call.Arguments, log), nil
	case MethodGetDownloadedRegionIDs:
		ids, err := d.orch.DownloadedRegionIDs(ctx)
		if err != nil {
			log.Warn(ctx, "listing regions failed", logging.Err(err))
			return ResultFailed, nil
		}
		return ids, nil
	case MethodCancelDownloading:
		return resultOf(ctx, log, d.orch.CancelDownloads(ctx)), nil
	case MethodDeleteTilesByID:
		ids, ok := stringList(call.Arguments[ArgIDs])
		if !ok {
			return ResultFetchingModelsError, nil
		}
		return resultOf(ctx, log, d.orch.DeleteTilesByIDs(ctx, ids)), nil
	case MethodDeleteAllTilesAndStyles:
		token, ok := call.Arguments[ArgAccessToken].(string)
		if !ok {
			return ResultFetchingModelsError, nil
		}
		return resultOf(ctx, log, d.orch.DeleteAllTilesAndStyles(ctx, token)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotImplemented, call.Method)
	}
}

func (d *Dispatcher) download(ctx context.Context, args map[string]any, log logging.Logger) string {
	defRaw, ok := args[ArgDefinition].(map[string]any)
	if !ok {
		return ResultFetchingModelsError
	}
	styleRaw, ok := args[ArgStyle].(map[string]any)
	if !ok {
		return ResultFetchingModelsError
	}
	channelName, nameOK, nameTyped := optionalString(args, ArgChannelName)
	token, tokenOK, tokenTyped := optionalString(args, ArgAccessToken)
	if !nameTyped || !tokenTyped {
		return ResultFetchingModelsError
	}

	region, err := definition.ParseRegion(defRaw)
	if err != nil {
		log.Info(ctx, "region definition rejected", logging.Err(err))
		return ResultParsingError
	}
	style, err := definition.ParseStyle(styleRaw)
	if err != nil {
		log.Info(ctx, "style definition rejected", logging.Err(err))
		return ResultParsingError
	}
	if !nameOK || !tokenOK {
		return ResultParsingError
	}

	ch, ok := d.hub.Bind(channelName)
	if !ok {
		log.Warn(ctx, "channel already bound", logging.String("channel", channelName))
		return ResultFailed
	}
	s, err := d.orch.StartDownload(ctx, region, style, ch, token)
	if err != nil {
		// The session never took the channel; end it so observers stop
		// waiting.
		ch.Close()
		log.Warn(ctx, "download not started", logging.String("region_id", region.ID), logging.Err(err))
		return ResultFailed
	}
	log.Info(ctx, "download accepted",
		logging.String("region_id", region.ID),
		logging.String("channel", channelName),
		logging.SessionID(s.ID()),
	)
	return ResultSuccess
}

func resultOf(ctx context.Context, log logging.Logger, err error) string {
	if err != nil {
		log.Warn(ctx, "method failed", logging.Err(err))
		return ResultFailed
	}
	return ResultSuccess
}

// optionalString reads a string argument. present is false when the key is
// missing or null; typed is false when it holds a non-string value.
func optionalString(args map[string]any, key string) (value string, present, typed bool) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", false, true
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, false
	}
	return s, true, true
}

// stringList accepts a missing value, a []string or a []any of strings.
func stringList(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, true
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
