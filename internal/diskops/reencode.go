// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"context"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/checkpoint"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/segment"
)

// SegmentRepairer is the default Reencoder: it cuts the partial tail off
// every segment of the checkpointed hour.
type SegmentRepairer struct {
	Location *time.Location
}

// Reencode implements Reencoder.
func (r SegmentRepairer) Reencode(ctx context.Context, mount string, rec checkpoint.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	dir := layout.HourPath(mount, rec.Camera, rec.Time(loc))
	results, err := segment.RepairDir(dir)
	var truncated int64
	for _, res := range results {
		truncated += res.Truncated
	}
	logger := xglog.WithComponent("diskops")
	logger.Debug().
		Int(xglog.FieldCamera, rec.Camera).
		Str(xglog.FieldPath, dir).
		Int("segments", len(results)).
		Int64("truncated_bytes", truncated).
		Msg("checkpointed hour repaired")
	return err
}
