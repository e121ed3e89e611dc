package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"connectrpc.com/connect"

	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
)

// ErrRPCPanic indicates a bancho RPC handler panicked and was recovered.
var ErrRPCPanic = errors.New("panic in bancho rpc handler")

// panicStackBytes bounds the stack capture logged on a recovered panic.
const panicStackBytes = 8 << 10

// procedureLabel trims a full Connect procedure to the short
// "Service/Method" form used in logs and metric labels, e.g.
// "/bancho.state.v1.BanchoState/GetSession" -> "BanchoState/GetSession".
func procedureLabel(procedure string) string {
	procedure = strings.TrimPrefix(procedure, "/")
	svc, method, ok := strings.Cut(procedure, "/")
	if !ok {
		return procedure
	}
	if i := strings.LastIndexByte(svc, '.'); i >= 0 {
		svc = svc[i+1:]
	}
	return svc + "/" + method
}

// LoggingInterceptor returns a unary interceptor that logs every bancho
// RPC and records its outcome on the collector's rpc counters. Debug
// for successes (session polls are chatty), Warn for failures with the
// Connect code attached.
func LoggingInterceptor(logger *slog.Logger, collector *banchometrics.Collector) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			proc := procedureLabel(req.Spec().Procedure)
			start := time.Now()

			resp, err := next(ctx, req)

			elapsed := time.Since(start)
			collector.RPCSeconds.Observe(elapsed.Seconds())

			if err != nil {
				collector.RPCCalls.WithLabelValues(proc, banchometrics.RPCOutcomeError).Inc()
				logger.WarnContext(ctx, "rpc failed",
					slog.String("procedure", proc),
					slog.String("code", connect.CodeOf(err).String()),
					slog.Duration("duration", elapsed),
					slog.String("error", err.Error()),
				)
				return resp, err
			}

			collector.RPCCalls.WithLabelValues(proc, banchometrics.RPCOutcomeOK).Inc()
			logger.DebugContext(ctx, "rpc completed",
				slog.String("procedure", proc),
				slog.Duration("duration", elapsed),
			)
			return resp, nil
		}
	}
}

// RecoveryInterceptor returns a unary interceptor that recovers from
// handler panics. The panic is counted on the rpc counters, logged with
// a bounded stack capture, and surfaced to the caller as CodeInternal
// so a crashing handler cannot take the session engine down with it.
func RecoveryInterceptor(logger *slog.Logger, collector *banchometrics.Collector) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
			proc := procedureLabel(req.Spec().Procedure)

			defer func() {
				r := recover()
				if r == nil {
					return
				}

				collector.RPCCalls.WithLabelValues(proc, banchometrics.RPCOutcomePanic).Inc()

				stack := make([]byte, panicStackBytes)
				stack = stack[:runtime.Stack(stack, false)]
				logger.ErrorContext(ctx, "panic in bancho rpc handler",
					slog.String("procedure", proc),
					slog.Any("panic", r),
					slog.String("stack", string(stack)),
				)

				retErr = connect.NewError(connect.CodeInternal,
					fmt.Errorf("%s: %w", proc, ErrRPCPanic))
			}()

			return next(ctx, req)
		}
	}
}
