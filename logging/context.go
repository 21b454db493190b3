package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	documentIDKey contextKey = iota
	oltNameKey
	trapTypeKey
)

// contextFields lists the context values added to records, in output order.
var contextFields = []struct {
	key  contextKey
	name string
}{
	{documentIDKey, "document_id"},
	{oltNameKey, "olt_name"},
	{trapTypeKey, "trap_type"},
}

// WithDocumentID returns a context that logs document_id=id.
func WithDocumentID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, documentIDKey, id)
}

// WithOLTName returns a context that logs olt_name=name.
func WithOLTName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, oltNameKey, name)
}

// WithTrapType returns a context that logs trap_type=trapType.
func WithTrapType(ctx context.Context, trapType string) context.Context {
	return context.WithValue(ctx, trapTypeKey, trapType)
}

// contextHandler adds the trap fields carried by the record context.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, f := range contextFields {
			if v := ctx.Value(f.key); v != nil {
				r.AddAttrs(slog.Any(f.name, v))
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}
