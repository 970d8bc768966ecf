package grpcapi

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// toStatus maps application errors to canonical gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	app := types.Classify(err)

	var code codes.Code
	switch app.Code {
	case types.CodeValidation, types.CodeBadArgument, types.CodeUnsupported:
		code = codes.InvalidArgument
	case types.CodeUnauthenticated, types.CodeTokenExpired, types.CodeSessionExpired:
		code = codes.Unauthenticated
	case types.CodeForbidden:
		code = codes.PermissionDenied
	case types.CodeNotFound:
		code = codes.NotFound
	case types.CodeConflict:
		code = codes.AlreadyExists
	case types.CodeRateLimited:
		code = codes.ResourceExhausted
	case types.CodeUnavailable, types.CodeStore:
		code = codes.Unavailable
	case types.CodeTimeout:
		code = codes.DeadlineExceeded
	case types.CodeCanceled:
		code = codes.Canceled
	default:
		code = codes.Internal
	}

	msg := app.Message
	if app.Category == types.CategorySystem && app.UserMessage != "" {
		msg = app.UserMessage
	}
	return status.Error(code, app.Code+": "+msg)
}
