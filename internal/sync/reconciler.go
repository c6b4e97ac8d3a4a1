package sync

import (
	"context"

	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap"
)

// Resync re-reads everything push may have missed while disconnected: the
// conversation list, the open conversation and the unread count. It must run
// on the loop.
func (e *Engine) Resync(ctx context.Context) {
	e.Logger.Info("resyncing after reconnect")
	e.Convs.Refresh(ctx, nil)
	if open := e.Threads.Selected(); open != "" && !model.IsPlaceholderID(open) {
		e.Threads.Load(ctx, open, func(applied bool, err error) {
			if err != nil {
				e.Logger.Warn("resync load failed", zap.String("conversation_id", open), zap.Error(err))
			}
		})
	}
	e.Unread.RefreshGlobal(ctx)
}
