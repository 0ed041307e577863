// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"context"
	"errors"
	"fmt"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
)

// Unplug detaches a backup device and reports the outcome through cb.
func (o *Orchestrator) Unplug(device string, cb UnplugCallback) (string, error) {
	if device == "" {
		return "", fmt.Errorf("%w: empty device", ErrUnknownMedia)
	}
	if o.opts.Unmounter == nil {
		return "", errors.New("unplug: no unmounter configured")
	}
	return o.start(o.unplug, "unplug", func(ctx context.Context) error {
		err := o.opts.Unmounter.Unmount(ctx, device)
		logger := xglog.WithContext(ctx, o.logger).With().Str("device", device).Logger()
		if err != nil {
			logger.Error().Err(err).Str(xglog.FieldEvent, "diskops.unplug_failed").Msg("unmount failed")
		} else {
			logger.Info().Str(xglog.FieldEvent, "diskops.unplugged").Msg("backup device detached")
			o.opts.Events.Emit(ctx, eventlog.CategoryBackup, eventlog.SubtypeDisconnect, device, "", eventlog.StateDone)
		}
		if cb != nil {
			cb(device, err)
		}
		return err
	})
}
