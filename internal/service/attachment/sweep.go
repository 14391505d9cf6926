package attachment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/entity"
	"github.com/Additional-Code/procura/internal/storage/filestore"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

// SweepReport summarizes a sweep run.
type SweepReport struct {
	OrdersPurged int
	FilesRemoved int
}

// Sweep deletes attachment files nothing refers to: directories of deleted orders, files no
// slot references and abandoned temp files. Only entries last modified before minAge ago are
// touched so in-flight uploads survive.
func (m *Manager) Sweep(ctx context.Context, minAge time.Duration) (SweepReport, error) {
	ctx, span := managerTracer.Start(ctx, "AttachmentManager.Sweep", trace.WithAttributes(
		attribute.String("sweep.min_age", minAge.String()),
	))
	defer span.End()

	var report SweepReport
	dirs, err := m.files.Scan()
	if err != nil {
		return report, errorbank.Internal("failed to scan uploads", errorbank.WithCause(err))
	}
	cutoff := time.Now().Add(-minAge)

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		exists, err := m.orders.Exists(ctx, dir.OrderID)
		if err != nil {
			return report, err
		}
		if !exists {
			if dir.ModTime.After(cutoff) {
				continue
			}
			if err := m.orders.PurgeOrphaned(ctx, dir.OrderID); err != nil {
				m.logger.Warn("sweep purge failed", zap.Int64("id", dir.OrderID), zap.Error(err))
				continue
			}
			report.OrdersPurged++
			continue
		}

		removed, err := m.sweepOrder(ctx, dir.OrderID, dir.Files, cutoff)
		if err != nil {
			return report, err
		}
		report.FilesRemoved += removed
	}

	m.logger.Info("attachment sweep finished",
		zap.Int("orders_purged", report.OrdersPurged),
		zap.Int("files_removed", report.FilesRemoved),
	)
	return report, nil
}

func (m *Manager) sweepOrder(ctx context.Context, orderID int64, files []filestore.FileInfo, cutoff time.Time) (int, error) {
	unlock := m.lock(orderID, entity.Slots()...)
	defer unlock()

	order, err := m.orders.GetPrimary(ctx, orderID)
	if errorbank.Is(err, errorbank.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	referenced := referencedNames(m.files, order)
	removed := 0
	for _, f := range files {
		if f.ModTime.After(cutoff) || (!f.Temp && referenced[f.Name]) {
			continue
		}
		if err := m.files.Remove(order.ID, f.Name); err != nil {
			m.logger.Warn("sweep remove failed", zap.Int64("id", order.ID), zap.String("file", f.Name), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
