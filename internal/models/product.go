package models

import "time"

// Image is a remotely hosted product picture. ExternalID is the key the asset store knows it by.
type Image struct {
	URL        string `json:"url" bson:"url"`
	ExternalID string `json:"external_id" bson:"external_id"`
}

// Product represents a product in the catalog.
type Product struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)" bson:"_id"`
	Name        string    `json:"name" gorm:"not null;index" bson:"name"`
	// NameFolded is Name lowercased by the SQL store for case-insensitive search.
	NameFolded  string    `json:"-" gorm:"index" bson:"-"`
	Description string    `json:"description" gorm:"type:text" bson:"description"`
	Price       float64   `json:"price" bson:"price"`
	Category    string    `json:"category" gorm:"index" bson:"category"`
	Stock       int       `json:"stock" bson:"stock"`
	Brand       string    `json:"brand" bson:"brand"`
	ForWhom     string    `json:"for_whom" bson:"for_whom"`
	Images      []Image   `json:"images" gorm:"serializer:json;type:text" bson:"images"`
	Version     int       `json:"version" gorm:"not null;default:1" bson:"version"` // bumped on every update
	CreatedAt   time.Time `json:"created_at" gorm:"index" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// ImageIDs returns the external ids of the product images in display order.
func (p *Product) ImageIDs() []string {
	ids := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		ids = append(ids, img.ExternalID)
	}
	return ids
}

// StatsBucket is one group of an aggregation over products.
type StatsBucket struct {
	GroupKey any     `json:"group_key" bson:"_id"`
	Count    int64   `json:"count" bson:"count"`
	AvgPrice float64 `json:"avg_price" bson:"avg_price"`
	MinPrice float64 `json:"min_price" bson:"min_price"`
	MaxPrice float64 `json:"max_price" bson:"max_price"`
}
