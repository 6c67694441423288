package models

// StagingType enumerates the supported staging locations.
type StagingType string

const (
	StagingS3       StagingType = "s3"
	StagingADLS     StagingType = "adls"
	StagingGCS      StagingType = "gcs"
	StagingInternal StagingType = "internal"
)

// StagingArea is a preconfigured staging location the engine can use.
type StagingArea struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        StagingType `json:"type"`
	Path        string      `json:"path"`
	Available   bool        `json:"available"`
	Description string      `json:"description,omitempty"`
}

// DefaultStagingAreas is the built-in set used when no staging areas are
// configured.
func DefaultStagingAreas() []StagingArea {
	return []StagingArea{
		{
			ID:        "s3-default",
			Name:      "Default S3 Staging",
			Type:      StagingS3,
			Path:      "s3://snowmigrate-staging/",
			Available: true,
		},
		{
			ID:        "internal-default",
			Name:      "Snowflake Internal Stage",
			Type:      StagingInternal,
			Path:      "@MIGRATION_STAGE",
			Available: true,
		},
	}
}
