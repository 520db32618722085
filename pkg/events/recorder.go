package events

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Recorder appends audit events to the store. Recording never fails the
// caller; a write error is logged and dropped.
type Recorder struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewRecorder builds a Recorder over the store.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{store: store, logger: log.WithComponent("events")}
}

// Record appends one audit row for a status transition.
func (r *Recorder) Record(level types.EventLevel, actionID, objType, objID, objName, status, reason string) {
	e := &types.Event{
		Timestamp: time.Now().UTC(),
		Level:     level,
		ActionID:  actionID,
		ObjType:   objType,
		ObjID:     objID,
		ObjName:   objName,
		Status:    status,
		Reason:    reason,
	}
	if err := r.store.CreateEvent(e); err != nil {
		r.logger.Error().Err(err).
			Str("obj_id", objID).
			Str("status", status).
			Msg("Failed to record event")
	}
}
