package ipc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/callservice/internal/callservice/callerr"
)

var kindCodes = map[callerr.Kind]codes.Code{
	callerr.KindArgumentInvalid:  codes.InvalidArgument,
	callerr.KindNotFound:         codes.NotFound,
	callerr.KindAlreadyInState:   codes.AlreadyExists,
	callerr.KindIllegalOperation: codes.FailedPrecondition,
	callerr.KindCapacityExceeded: codes.ResourceExhausted,
	callerr.KindPermissionDenied: codes.PermissionDenied,
	callerr.KindUninitialized:    codes.Unavailable,
}

// toStatus converts a core error into a gRPC status. The kind and reason
// travel as a structpb detail so clients can rebuild the callerr.Error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}

	kind := callerr.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		code = codes.Internal
	}
	st := status.New(code, err.Error())
	detail, derr := structpb.NewStruct(map[string]any{
		"kind":   kind.String(),
		"reason": callerr.ReasonOf(err),
	})
	if derr == nil {
		if withDetail, werr := st.WithDetails(detail); werr == nil {
			st = withDetail
		}
	}
	return st.Err()
}

// fromStatus rebuilds a callerr.Error from an RPC failure. Errors that did
// not come from the core are returned unchanged.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for kind, code := range kindCodes {
		if code != st.Code() {
			continue
		}
		reason := ""
		for _, d := range st.Details() {
			if s, ok := d.(*structpb.Struct); ok {
				reason = s.GetFields()["reason"].GetStringValue()
			}
		}
		return callerr.Wrap(op, kind, reason, errors.New(st.Message()))
	}
	return err
}
