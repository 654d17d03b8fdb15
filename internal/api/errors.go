package api

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

var codeOf = []struct {
	err  error
	code codes.Code
}{
	{messenger.ErrUnauthenticated, codes.Unauthenticated},
	{messenger.ErrThreadNotFound, codes.NotFound},
	{messenger.ErrDuplicateThread, codes.AlreadyExists},
	{messenger.ErrContextRequired, codes.FailedPrecondition},
	{messenger.ErrInvalidContext, codes.InvalidArgument},
	{messenger.ErrNonceConflict, codes.Aborted},
	{messenger.ErrStoreUnavailable, codes.Unavailable},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// ToStatus converts a domain error to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	for _, c := range codeOf {
		if errors.Is(err, c.err) {
			return grpcstatus.Error(c.code, err.Error())
		}
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

// FromStatus converts a gRPC error back to the domain sentinel it carries.
// Transport failures become ErrStoreUnavailable.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.Unauthenticated:
		sentinel = messenger.ErrUnauthenticated
	case codes.NotFound:
		sentinel = messenger.ErrThreadNotFound
	case codes.AlreadyExists:
		sentinel = messenger.ErrDuplicateThread
	case codes.FailedPrecondition:
		sentinel = messenger.ErrContextRequired
	case codes.InvalidArgument:
		sentinel = messenger.ErrInvalidContext
	case codes.Aborted:
		sentinel = messenger.ErrNonceConflict
	case codes.Canceled:
		sentinel = context.Canceled
	default:
		sentinel = messenger.ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
