package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ntptech/invoice-collector/internal/models"
)

// Store is the collector's local SQLite cache: the last scraped invoice
// set (attachments stripped), the user's settings and fetch metadata.
// It exists so the UI can show results without re-scraping.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the cache database and migrates the schema
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.InvoiceRecord{},
		&models.Settings{},
		&models.FetchMeta{},
	); err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}

	log.Printf("💾 Cache database ready at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReplaceInvoices swaps the cached invoice set for a fresh fetch result.
// Attachments are stripped first: the cache holds metadata, not payloads.
func (s *Store) ReplaceInvoices(invoices []*models.InvoiceRecord, sessionID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Unscoped().Delete(&models.InvoiceRecord{}).Error; err != nil {
			return fmt.Errorf("clearing invoice cache: %w", err)
		}

		for _, inv := range invoices {
			stored := *inv
			stored.ID = 0
			stored.StripAttachments()
			if err := tx.Create(&stored).Error; err != nil {
				return fmt.Errorf("caching invoice %s: %w", inv.InvoiceNumber, err)
			}
		}

		meta := models.FetchMeta{ID: 1, LastFetch: time.Now(), SessionID: sessionID}
		if err := tx.Save(&meta).Error; err != nil {
			return fmt.Errorf("saving fetch metadata: %w", err)
		}
		return nil
	})
}

// LoadInvoices returns the cached invoice set, newest fetch order preserved
func (s *Store) LoadInvoices() ([]*models.InvoiceRecord, error) {
	var invoices []*models.InvoiceRecord
	if err := s.db.Order("id asc").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("loading invoice cache: %w", err)
	}
	return invoices, nil
}

// LoadInvoicesBySource filters the cache by portal
func (s *Store) LoadInvoicesBySource(src models.Source) ([]*models.InvoiceRecord, error) {
	var invoices []*models.InvoiceRecord
	if err := s.db.Where("source = ?", src).Order("id asc").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("loading invoice cache for %s: %w", src, err)
	}
	return invoices, nil
}

// LastFetch returns the metadata of the most recent fetch, or nil when the
// cache has never been filled.
func (s *Store) LastFetch() (*models.FetchMeta, error) {
	var meta models.FetchMeta
	err := s.db.First(&meta, 1).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading fetch metadata: %w", err)
	}
	return &meta, nil
}

// SaveSettings persists the singleton settings row
func (s *Store) SaveSettings(settings *models.Settings) error {
	settings.ID = 1
	settings.UpdatedAt = time.Now()
	if err := s.db.Save(settings).Error; err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// LoadSettings returns the stored settings, or defaults when none exist
func (s *Store) LoadSettings() (*models.Settings, error) {
	var settings models.Settings
	err := s.db.First(&settings, 1).Error
	if err == gorm.ErrRecordNotFound {
		return &models.Settings{FetchDays: 30, BatchSize: 5}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return &settings, nil
}
