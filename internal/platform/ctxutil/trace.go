package ctxutil

import "context"

type traceDataKey struct{}

// TraceData identifies the unit of work a context belongs to: an HTTP
// request or an ingestion run.
type TraceData struct {
	RequestID string
	RunID     string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// RunID returns the ingestion run id carried by ctx, or "".
func RunID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		return td.RunID
	}
	return ""
}
