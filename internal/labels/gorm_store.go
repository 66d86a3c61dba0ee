package labels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

const (
	slowQueryThreshold = 200 * time.Millisecond

	// Writers wait this long for the SQLite write lock before failing.
	sqliteBusyTimeout = 5 * time.Second
)

// labelRecord is the database row for a Label
type labelRecord struct {
	ID          string  `gorm:"primaryKey;size:36"`
	TileZ       int     `gorm:"not null;index:idx_labels_tile,priority:1"`
	TileX       int     `gorm:"not null;index:idx_labels_tile,priority:2"`
	TileY       int     `gorm:"not null;index:idx_labels_tile,priority:3"`
	PixelX      float64 `gorm:"not null"`
	PixelY      float64 `gorm:"not null"`
	PixelWidth  float64 `gorm:"not null"`
	PixelHeight float64 `gorm:"not null"`
	West        float64 `gorm:"not null"`
	South       float64 `gorm:"not null"`
	East        float64 `gorm:"not null"`
	North       float64 `gorm:"not null"`
	NounPhrase  string  `gorm:"size:255"`
	IsNegative  bool    `gorm:"not null;index"`
	TileSize    int     `gorm:"not null;default:256"`
	CreatedAt   time.Time
}

func (labelRecord) TableName() string { return "labels" }

func toRecord(l Label) labelRecord {
	return labelRecord{
		ID:    l.ID,
		TileZ: l.Tile.Z, TileX: l.Tile.X, TileY: l.Tile.Y,
		PixelX: l.PixelBBox.X, PixelY: l.PixelBBox.Y,
		PixelWidth: l.PixelBBox.Width, PixelHeight: l.PixelBBox.Height,
		West: l.GeoBBox.West(), South: l.GeoBBox.South(),
		East: l.GeoBBox.East(), North: l.GeoBBox.North(),
		NounPhrase: l.NounPhrase,
		IsNegative: l.IsNegative,
		TileSize:   l.TileSize,
		CreatedAt:  l.CreatedAt,
	}
}

func (r labelRecord) toLabel() Label {
	return Label{
		ID:         r.ID,
		Tile:       tiles.TileAddress{Z: r.TileZ, X: r.TileX, Y: r.TileY},
		PixelBBox:  tiles.PixelBBox{X: r.PixelX, Y: r.PixelY, Width: r.PixelWidth, Height: r.PixelHeight},
		GeoBBox:    tiles.GeoBBox{r.West, r.South, r.East, r.North},
		NounPhrase: r.NounPhrase,
		IsNegative: r.IsNegative,
		TileSize:   r.TileSize,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

// GormStore persists labels through GORM (SQLite or MySQL).
// The per-address lock makes the negative-label check atomic within this process.
type GormStore struct {
	db    *gorm.DB
	locks *addressLocks
	log   logger.Logger
}

// NewGormStore wraps an open database and migrates the labels table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&labelRecord{}); err != nil {
		return nil, dbError("migrate", err)
	}
	return &GormStore{db: db, locks: newAddressLocks(), log: GetLogger()}, nil
}

// Open returns the Store selected by the storage settings.
func Open(settings *conf.Settings) (Store, error) {
	log := GetLogger()
	gormCfg := &gorm.Config{Logger: logger.NewGormAdapter(log.Module("sql"), slowQueryThreshold)}

	var dialector gorm.Dialector
	switch settings.Storage.Type {
	case "memory":
		log.Info("using in-memory label store")
		return NewMemoryStore(), nil
	case "mysql":
		dialector = mysql.Open(settings.Storage.DSN)
	case "sqlite", "":
		path := settings.StoragePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, dbError("create-dir", err)
		}
		db, err := OpenSQLite(path, gormCfg)
		if err != nil {
			return nil, err
		}
		return openedStore(db, settings.Storage.Type)
	default:
		return nil, errors.Newf("unknown storage type %q", settings.Storage.Type).
			Component("labels").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, dbError("open", err)
	}
	return openedStore(db, settings.Storage.Type)
}

func openedStore(db *gorm.DB, storageType string) (Store, error) {
	store, err := NewGormStore(db)
	if err != nil {
		return nil, err
	}
	GetLogger().Info("label store opened", logger.String("type", storageType))
	return store, nil
}

// OpenSQLite opens a SQLite database in WAL mode with a busy timeout and a
// single pooled connection. SQLite admits one writer at a time, so writes to
// different tiles queue on the connection instead of failing with
// "database is locked".
func OpenSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate",
		path, sqliteBusyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, dbError("open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError("open", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func dbError(op string, err error) error {
	return errors.New(fmt.Errorf("label store %s: %w", op, err)).
		Component("labels").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

func (s *GormStore) tileLabels(db *gorm.DB, addr tiles.TileAddress) ([]Label, error) {
	var rows []labelRecord
	err := db.Where("tile_z = ? AND tile_x = ? AND tile_y = ?", addr.Z, addr.X, addr.Y).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, dbError("query-tile", err)
	}
	out := make([]Label, len(rows))
	for i, r := range rows {
		out[i] = r.toLabel()
	}
	return out, nil
}

func (s *GormStore) Put(ctx context.Context, label Label) (Label, error) {
	label, err := prepare(label)
	if err != nil {
		return Label{}, err
	}

	unlock := s.locks.lock(label.Tile)
	defer unlock()

	var result Label
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		siblings, err := s.tileLabels(tx, label.Tile)
		if err != nil {
			return err
		}
		existing, err := checkPut(label, siblings)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}

		var count int64
		if err := tx.Model(&labelRecord{}).Where("id = ?", label.ID).Count(&count).Error; err != nil {
			return dbError("check-id", err)
		}
		if count > 0 {
			return duplicateIDError(label.ID)
		}

		rec := toRecord(label)
		if err := tx.Create(&rec).Error; err != nil {
			return dbError("insert", err)
		}
		result = label
		return nil
	})
	if err != nil {
		return Label{}, err
	}
	return result, nil
}

func (s *GormStore) Get(ctx context.Context, addr tiles.TileAddress) ([]Label, error) {
	if err := tiles.ValidateAddress(addr); err != nil {
		return nil, err
	}
	return s.tileLabels(s.db.WithContext(ctx), addr)
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&labelRecord{})
	if res.Error != nil {
		return dbError("delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError(id)
	}
	return nil
}

func (s *GormStore) ListAll(ctx context.Context) ([]Label, error) {
	var rows []labelRecord
	err := s.db.WithContext(ctx).
		Order("tile_z, tile_x, tile_y, created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, dbError("list", err)
	}
	out := make([]Label, len(rows))
	for i, r := range rows {
		out[i] = r.toLabel()
	}
	return out, nil
}

func (s *GormStore) find(db *gorm.DB, id string) (Label, error) {
	var rec labelRecord
	err := db.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Label{}, notFoundError(id)
	}
	if err != nil {
		return Label{}, dbError("get", err)
	}
	return rec.toLabel(), nil
}

func (s *GormStore) Update(ctx context.Context, id string, update LabelUpdate) (Label, error) {
	db := s.db.WithContext(ctx)
	current, err := s.find(db, id)
	if err != nil {
		return Label{}, err
	}

	unlock := s.locks.lock(current.Tile)
	defer unlock()

	var result Label
	err = db.Transaction(func(tx *gorm.DB) error {
		current, err := s.find(tx, id)
		if err != nil {
			return err
		}
		siblings, err := s.tileLabels(tx, current.Tile)
		if err != nil {
			return err
		}
		next, err := applyUpdate(current, update, siblings)
		if err != nil {
			return err
		}
		rec := toRecord(next)
		if err := tx.Save(&rec).Error; err != nil {
			return dbError("update", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return Label{}, err
	}
	return result, nil
}

func (s *GormStore) DeleteTile(ctx context.Context, addr tiles.TileAddress) (int, error) {
	if err := tiles.ValidateAddress(addr); err != nil {
		return 0, err
	}
	unlock := s.locks.lock(addr)
	defer unlock()

	res := s.db.WithContext(ctx).
		Where("tile_z = ? AND tile_x = ? AND tile_y = ?", addr.Z, addr.X, addr.Y).
		Delete(&labelRecord{})
	if res.Error != nil {
		return 0, dbError("delete-tile", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping checks the connection without touching the labels table
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
