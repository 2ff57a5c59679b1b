package controller

import (
	"context"

	"github.com/cowatch/cowatch/internal/hub"
)

type contextKey int

const (
	handleCtxKey contextKey = iota
)

func (c controller) getHandleFromCtx(ctx context.Context) *hub.Handle {
	handle, ok := ctx.Value(handleCtxKey).(*hub.Handle)
	if !ok {
		return nil
	}

	return handle
}
