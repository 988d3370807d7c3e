package models

import "time"

// Settings holds the persisted user configuration. The API token is sealed
// with AES-GCM before it reaches disk; TokenSealed never contains plaintext.
type Settings struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	BackendURL  string    `gorm:"column:backend_url" json:"backend_url"`
	TokenSealed string    `gorm:"column:token_sealed" json:"-"`
	FetchDays   int       `gorm:"column:fetch_days" json:"fetch_days"`
	BatchSize   int       `gorm:"column:batch_size" json:"batch_size"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the settings table name
func (Settings) TableName() string {
	return "collector_settings"
}

// FetchMeta records when the cached invoice set was last refreshed
type FetchMeta struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	LastFetch time.Time `gorm:"column:last_fetch" json:"last_fetch"`
	SessionID string    `gorm:"column:session_id" json:"session_id"`
}

// TableName specifies the fetch metadata table name
func (FetchMeta) TableName() string {
	return "fetch_meta"
}
