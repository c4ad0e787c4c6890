package items

import (
	"time"
)

// Item represents a stockable item: feeds, raw materials, livestock outputs.
type Item struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	PackSize     float64   `json:"pack_size"`
	Category     string    `json:"category"`
	Transferable bool      `json:"transferable"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
