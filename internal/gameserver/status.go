package gameserver

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/raidbot/internal/game"
)

// ErrorDomain is the ErrorInfo domain of rejection details.
const ErrorDomain = "raidbot"

// toStatus maps an engine error to a gRPC status error.
//
// Validation rejections become FailedPrecondition and race-lost rejections
// Aborted; both carry an ErrorInfo detail with the rejection code and a
// "retryable" metadata entry. Invariant violations and other failures become
// Internal without exposing the cause.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if r, ok := game.AsRejection(err); ok {
		code := codes.FailedPrecondition
		if r.Retryable {
			code = codes.Aborted
		}
		st, derr := status.New(code, r.Message).WithDetails(&errdetails.ErrorInfo{
			Reason:   string(r.Code),
			Domain:   ErrorDomain,
			Metadata: map[string]string{"retryable": strconv.FormatBool(r.Retryable)},
		})
		if derr != nil {
			return status.Error(code, r.Message)
		}
		return st.Err()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, game.ErrInvariant):
		return status.Error(codes.Internal, "internal error")
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, "internal error")
}

// RejectionOf extracts the rejection code and retryable flag from a status
// error produced by the service.
func RejectionOf(err error) (code game.Code, retryable bool, ok bool) {
	st, isStatus := status.FromError(err)
	if !isStatus {
		return "", false, false
	}
	for _, d := range st.Details() {
		if info, isInfo := d.(*errdetails.ErrorInfo); isInfo && info.Domain == ErrorDomain {
			return game.Code(info.Reason), info.Metadata["retryable"] == "true", true
		}
	}
	return "", false, false
}

// UnaryLogging logs every call with its duration and resulting status code.
// Rejections log at debug, failures at error.
func UnaryLogging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		resp, err := next(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{zap.String("method", info.FullMethod), zap.String("code", code.String())}
		switch code {
		case codes.OK, codes.FailedPrecondition, codes.Aborted, codes.InvalidArgument:
			logger.Debug("rpc", fields...)
		default:
			logger.Error("rpc failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
