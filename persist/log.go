package persist

import (
	"context"

	"github.com/zenghr0820/sipcore/logger"
)

// LogSink writes records to the debug log, for deployments without a
// database.
type LogSink struct{}

func (LogSink) Save(_ context.Context, rec Record) error {
	logger.Debugf("[persist] -> %s %s state=%s flow=%s call_id=%s dialog=%s",
		rec.Entity, rec.ID, rec.State, rec.Flow, rec.CallID, rec.DialogID)
	return nil
}
