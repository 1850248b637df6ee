package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType classifies an entry in the activity log.
type ActivityType string

const (
	ActivityFileUpload        ActivityType = "file_upload"
	ActivityMetadataGenerated ActivityType = "metadata_generated"
	ActivityCSVExport         ActivityType = "csv_export"
	ActivityAPIKeyAdded       ActivityType = "api_key_added"
	ActivitySettingsChanged   ActivityType = "settings_changed"
)

// Activity is one entry in the usage log. Actor is a free-form label
// supplied by the caller.
type Activity struct {
	ID          uuid.UUID      `json:"id"`
	Actor       string         `json:"actor"`
	Type        ActivityType   `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// UserStats aggregates activity counters for one actor.
type UserStats struct {
	Actor                  string    `json:"actor"`
	TotalUploads           int       `json:"total_uploads"`
	TotalMetadataGenerated int       `json:"total_metadata_generated"`
	TotalCSVExports        int       `json:"total_csv_exports"`
	LastActive             time.Time `json:"last_active"`
}
