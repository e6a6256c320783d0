package advisory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trustlink/escrow"
)

// orderRecord is the escrow_orders table shared with the web client.
type orderRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	SellerAddress string `gorm:"size:42;index"`
	Status        string `gorm:"size:16;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index"`
}

func (orderRecord) TableName() string { return "escrow_orders" }

func (r orderRecord) row() Row {
	return Row{
		OrderID:   r.ID,
		Seller:    common.HexToAddress(r.SellerAddress),
		Status:    escrow.AdvisoryStatus(r.Status).Normalize(),
		UpdatedAt: r.UpdatedAt,
	}
}

const slowQueryThreshold = 200 * time.Millisecond

// Open connects to the advisory database. Supported drivers are sqlite and
// postgres. Queries log through the standard logger, which orderd bridges
// into its structured output.
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log.Default())})
	if err != nil {
		return nil, fmt.Errorf("open advisory database: %w", err)
	}
	return db, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported advisory driver %q", driver)
	}
}

// Most orders never get an advisory row, so a missing row is not an error.
func newGormLogger(w gormlogger.Writer) gormlogger.Interface {
	return gormlogger.New(w, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// GormStore implements Store on a gorm database.
type GormStore struct {
	db     *gorm.DB
	hub    *Hub
	logger *slog.Logger
}

// NewGormStore migrates the escrow_orders table and returns a store that
// publishes its own writes through hub.
func NewGormStore(db *gorm.DB, hub *Hub, logger *slog.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("advisory database required")
	}
	if err := db.AutoMigrate(&orderRecord{}); err != nil {
		return nil, fmt.Errorf("migrate escrow_orders: %w", err)
	}
	if hub == nil {
		hub = NewHub(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{db: db, hub: hub, logger: logger}, nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, orderID uint64) (Row, bool, error) {
	var rec orderRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{OrderID: orderID, Status: escrow.AdvisoryNone}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("%w: advisory row %d: %v", escrow.ErrSourceUnavailable, orderID, err)
	}
	return rec.row(), true, nil
}

// All implements Store.
func (s *GormStore) All(ctx context.Context) (map[uint64]Row, error) {
	var recs []orderRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: advisory rows: %v", escrow.ErrSourceUnavailable, err)
	}
	out := make(map[uint64]Row, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec.row()
	}
	return out, nil
}

// Upsert implements Store.
func (s *GormStore) Upsert(ctx context.Context, row Row) (Row, error) {
	if !row.Status.Valid() || row.Status == escrow.AdvisoryNone {
		return Row{}, fmt.Errorf("%w: invalid advisory status %q", escrow.ErrWriteFailed, row.Status)
	}
	var stored orderRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&stored, "id = ?", row.OrderID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			stored = orderRecord{
				ID:            row.OrderID,
				SellerAddress: strings.ToLower(row.Seller.Hex()),
				Status:        string(row.Status),
			}
			return tx.Create(&stored).Error
		case err != nil:
			return err
		}
		current := escrow.AdvisoryStatus(stored.Status).Normalize()
		if row.Status.Rank() < current.Rank() {
			return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, row.Status)
		}
		if row.Status == current {
			return nil
		}
		stored.Status = string(row.Status)
		stored.SellerAddress = strings.ToLower(row.Seller.Hex())
		return tx.Save(&stored).Error
	})
	if err != nil {
		return Row{}, fmt.Errorf("%w: advisory upsert %d: %w", escrow.ErrWriteFailed, row.OrderID, err)
	}
	out := stored.row()
	s.hub.Publish(out)
	return out, nil
}

// Subscribe implements Store.
func (s *GormStore) Subscribe(orderID uint64) (<-chan Row, func()) {
	return s.hub.Subscribe(orderID)
}

// Watch polls for rows written by other clients of the table and publishes
// them until ctx is cancelled. The hub suppresses rows it already delivered.
func (s *GormStore) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	cursor := s.poll(ctx, time.Time{})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cursor = s.poll(ctx, cursor)
		}
	}
}

func (s *GormStore) poll(ctx context.Context, cursor time.Time) time.Time {
	var recs []orderRecord
	err := s.db.WithContext(ctx).
		Where("updated_at >= ?", cursor).
		Order("updated_at asc").
		Find(&recs).Error
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("advisory poll failed", slog.Any("error", err))
		}
		return cursor
	}
	for _, rec := range recs {
		if rec.UpdatedAt.After(cursor) {
			cursor = rec.UpdatedAt
		}
		s.hub.Publish(rec.row())
	}
	return cursor
}

var _ Store = (*GormStore)(nil)
