package models

import (
	"fmt"
	"time"
)

// BoundingBox locates a detected object within a frame.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is a single pre-computed object detection from a camera.
type Detection struct {
	ID          int64        `json:"id" db:"id"`
	CameraID    string       `json:"camera_id" db:"camera_id"`
	DetectedAt  time.Time    `json:"detected_at" db:"detected_at"`
	ObjectClass string       `json:"object_class,omitempty" db:"object_class"`
	Confidence  *float64     `json:"confidence,omitempty" db:"confidence"`
	Box         *BoundingBox `json:"bounding_box,omitempty" db:"-"`
	Enrichment  JSONMap      `json:"enrichment,omitempty" db:"enrichment"`
}

// Validate checks the detection's invariants.
func (d Detection) Validate() error {
	if d.CameraID == "" {
		return fmt.Errorf("detection has no camera id")
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("confidence %v outside [0,1]", *d.Confidence)
	}
	return nil
}
