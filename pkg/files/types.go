// Package files manages file metadata for tenant-owned uploads. Bytes live
// in an S3-compatible object store; the database holds only metadata, and
// every query is organization-scoped.
package files

import "time"

// Category buckets files by content class
type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

// CategoryForMime maps a MIME type to a category
func CategoryForMime(mimeType string) Category {
	switch {
	case mimeType == "":
		return CategoryOther
	case hasPrefix(mimeType, "image/"):
		return CategoryImage
	case hasPrefix(mimeType, "video/"):
		return CategoryVideo
	case hasPrefix(mimeType, "audio/"):
		return CategoryAudio
	case mimeType == "application/zip",
		mimeType == "application/gzip",
		mimeType == "application/x-tar",
		mimeType == "application/x-7z-compressed":
		return CategoryArchive
	case mimeType == "application/pdf",
		mimeType == "application/msword",
		hasPrefix(mimeType, "text/"),
		hasPrefix(mimeType, "application/vnd."):
		return CategoryDocument
	default:
		return CategoryOther
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// StoredFile is the metadata record for an uploaded object
type StoredFile struct {
	ID               int64          `json:"id"`
	UserID           int64          `json:"user_id"`
	OrganizationID   *int64         `json:"organization_id,omitempty"`
	Filename         string         `json:"filename"`
	OriginalFilename string         `json:"original_filename"`
	Size             int64          `json:"size"`
	MimeType         string         `json:"mime_type,omitempty"`
	StorageKey       string         `json:"-"`
	Bucket           string         `json:"-"`
	Category         Category       `json:"category"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
