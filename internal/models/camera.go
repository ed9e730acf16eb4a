package models

import (
	"fmt"
	"strings"
	"time"
)

// CameraStatus is the lifecycle state reported for a camera.
type CameraStatus string

const (
	CameraOnline  CameraStatus = "online"
	CameraOffline CameraStatus = "offline"
	CameraError   CameraStatus = "error"
	CameraUnknown CameraStatus = "unknown"
)

// Camera represents a registered camera and its storage location.
type Camera struct {
	ID         string       `json:"id" db:"id"`
	Name       string       `json:"name" db:"name"`
	FolderPath string       `json:"folder_path" db:"folder_path"`
	Status     CameraStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	LastSeenAt *time.Time   `json:"last_seen_at,omitempty" db:"last_seen_at"`
}

// forbidden in folder paths: traversal plus characters that break shellouts
// and cross-platform filesystems.
var forbiddenPathChars = []string{"<", ">", ":", "\"", "|", "?", "*", "\x00"}

// ValidateFolderPath rejects folder paths containing traversal sequences or
// forbidden characters. The path itself is not required to exist.
func ValidateFolderPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("folder path is empty")
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("folder path contains traversal sequence")
	}
	for _, c := range forbiddenPathChars {
		if strings.Contains(p, c) {
			return fmt.Errorf("folder path contains forbidden character %q", c)
		}
	}
	return nil
}

// Validate checks the camera's invariants.
func (c Camera) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("camera id is empty")
	}
	return ValidateFolderPath(c.FolderPath)
}
