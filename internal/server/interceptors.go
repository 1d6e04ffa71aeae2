package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

// ErrPanicRecovered indicates an RPC handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in rpc handler")

// LoggingInterceptorOption installs the logging interceptor on a handler.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(&loggingInterceptor{logger: logger})
}

// RecoveryInterceptorOption installs the recovery interceptor on a handler.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(&recoveryInterceptor{logger: logger})
}

// -------------------------------------------------------------------------
// Logging
// -------------------------------------------------------------------------

// loggingInterceptor logs every RPC with the procedure name, duration, and
// error (if any). Unary calls log at Info (Debug for Ingest, which carries
// every controller event), streams log when they end. Errors log at Warn.
type loggingInterceptor struct {
	logger *slog.Logger
}

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		level := slog.LevelInfo
		if req.Spec().Procedure == topoapi.IngestProcedure {
			level = slog.LevelDebug
		}
		i.log(ctx, level, req.Spec().Procedure, time.Since(start), err)
		return resp, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		i.logger.LogAttrs(ctx, slog.LevelInfo, "rpc stream opened",
			slog.String("procedure", conn.Spec().Procedure),
			slog.String("peer", conn.Peer().Addr),
		)
		err := next(ctx, conn)
		i.log(ctx, slog.LevelInfo, conn.Spec().Procedure, time.Since(start), err)
		return err
	}
}

func (i *loggingInterceptor) log(ctx context.Context, level slog.Level, procedure string, d time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("procedure", procedure),
		slog.Duration("duration", d),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		i.logger.LogAttrs(ctx, slog.LevelWarn, "rpc completed with error", attrs...)
		return
	}
	i.logger.LogAttrs(ctx, level, "rpc completed", attrs...)
}

// -------------------------------------------------------------------------
// Recovery
// -------------------------------------------------------------------------

// recoveryInterceptor recovers from panics in RPC handlers. On panic, it
// logs the panic value and stack trace at Error level and returns a
// CodeInternal error to the client.
type recoveryInterceptor struct {
	logger *slog.Logger
}

func (i *recoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				retErr = i.recovered(ctx, req.Spec().Procedure, r)
			}
		}()

		return next(ctx, req)
	}
}

func (i *recoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *recoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				retErr = i.recovered(ctx, conn.Spec().Procedure, r)
			}
		}()

		return next(ctx, conn)
	}
}

func (i *recoveryInterceptor) recovered(ctx context.Context, procedure string, r any) error {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	i.logger.ErrorContext(ctx, "panic recovered in rpc handler",
		slog.String("procedure", procedure),
		slog.Any("panic", r),
		slog.String("stack", string(buf[:n])),
	)

	return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", procedure, ErrPanicRecovered))
}
