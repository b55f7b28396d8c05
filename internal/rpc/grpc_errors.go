package rpc

import (
	"context"
	"errors"

	"github.com/signalsfoundry/offline-maps/internal/offline"
	"github.com/signalsfoundry/offline-maps/internal/plugin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrInvalidArgument is used for malformed requests rejected before they
// reach the dispatcher.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps service errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, plugin.ErrNotImplemented):
		return status.Error(codes.Unimplemented, err.Error())

	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, offline.ErrAlreadyInProgress):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, offline.ErrResourcesUnavailable),
		errors.Is(err, offline.ErrRetrieval):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, offline.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
