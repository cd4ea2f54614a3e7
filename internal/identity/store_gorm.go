package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is one stored key for one profile.
type entry struct {
	Profile   string `gorm:"primaryKey;size:128"`
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"size:256;not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "storycards_storage" }

// GormStore shares player ids through a database, for kiosks and lab machines
// where the local disk is wiped between sessions. Keys are scoped by profile.
type GormStore struct {
	db      *gorm.DB
	profile string
}

// OpenPostgres opens a quiet gorm handle for dsn.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewGormStore(ctx context.Context, db *gorm.DB, profile string) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate storage: %w", err)
	}
	return &GormStore{db: db, profile: profile}, nil
}

func (g *GormStore) Load(ctx context.Context, key string) (string, bool, error) {
	var e entry
	err := g.db.WithContext(ctx).
		Where("profile = ? AND key = ?", g.profile, key).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", key, err)
	}
	return e.Value, true, nil
}

func (g *GormStore) Save(ctx context.Context, key, value string) error {
	e := entry{Profile: g.profile, Key: key, Value: value}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
