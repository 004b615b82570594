package models

import (
	"image"
	"time"
)

// Coordinates is a WGS84 location.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RefreshMode selects how the panel updates.
type RefreshMode int

const (
	// RefreshFull redraws the whole panel, clearing ghosting.
	RefreshFull RefreshMode = iota
	// RefreshPartial updates only what changed.
	RefreshPartial
)

func (m RefreshMode) String() string {
	if m == RefreshPartial {
		return "partial"
	}
	return "full"
}

// DisplayFrame is a composed raster with the fingerprint of the data it was drawn from.
type DisplayFrame struct {
	Image       *image.Gray
	Fingerprint uint64
	RenderedAt  time.Time
}
