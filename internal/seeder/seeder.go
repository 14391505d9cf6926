package seeder

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/internal/entity"
	ordersvc "github.com/Additional-Code/procura/internal/service/order"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	orders *ordersvc.Service
	logger *zap.Logger
}

// New constructs a Seeder that checks the primary connection and writes through the order service.
func New(conns *database.Connections, orders *ordersvc.Service, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, orders: orders, logger: logger}
}

// Samples returns the example orders inserted by Orders.
func Samples() []entity.Order {
	return []entity.Order{
		{
			PONumber:          "PO-1000",
			Vendor:            "Acme Medical",
			Site:              "Seoul General",
			EquipmentName:     "Ultrasound",
			EquipmentModel:    "US-500",
			OrderDate:         "2024-03-04",
			HasWarranty:       true,
			NeedsInstallation: true,
			Attributes:        map[string]string{"cost_center": "CC-100"},
		},
		{
			PONumber:       "PO-1001",
			Vendor:         "Globex Imaging",
			Site:           "Busan Clinic",
			EquipmentName:  "MRI",
			EquipmentModel: "MRI-3T",
			OrderDate:      "2024-05-20",
			NeedsTraining:  true,
			Remarks:        "deposit paid",
		},
	}
}

// Orders seeds the example orders whose PO number is not present yet.
func (s *Seeder) Orders(ctx context.Context) error {
	created := 0
	for _, sample := range Samples() {
		exists, err := s.db.NewSelect().Model((*entity.Order)(nil)).
			Where("?TableAlias.po_number = ?", sample.PONumber).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check %s: %w", sample.PONumber, err)
		}
		if exists {
			continue
		}

		order := sample
		if err := s.orders.Create(ctx, &order); err != nil {
			return fmt.Errorf("seed %s: %w", sample.PONumber, err)
		}
		created++
	}

	if s.logger != nil {
		s.logger.Info("seeded orders", zap.Int("created", created))
	}
	return nil
}
