package storage

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

// Category is a mirrored catalog category. Categories form a forest through
// ParentID and are never deleted.
type Category struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Name     string `gorm:"not null"`
	URI      string `gorm:"not null;default:''"`
	ParentID *int64 `gorm:"index"`
	// RefreshedAt is stamped only after the category's product listing was
	// fully imported. Nil means never refreshed.
	RefreshedAt *time.Time `gorm:"column:updated_at;index"`
}

func (Category) TableName() string { return "categories" }

// CrawlCheckpoint holds the JSON work stack of an interrupted category crawl.
// There is at most one row.
type CrawlCheckpoint struct {
	ID      int       `gorm:"primaryKey;autoIncrement:false"`
	Frames  []byte    `gorm:"not null"`
	SavedAt time.Time `gorm:"not null"`
}

func (CrawlCheckpoint) TableName() string { return "crawl_checkpoints" }

// ProductAttributes are the descriptive fields of a product as last seen
// remotely. Updates compare this struct as a whole.
type ProductAttributes struct {
	Name              string `gorm:"not null"`
	ProducerCountry   *string
	BrandName         *string
	Description       string `gorm:"not null;default:''"`
	ImageURL          *string
	Measure           string `gorm:"not null;default:''"`
	IsWeighted        bool
	WeightAvg         *float64
	WeightMin         *float64
	WeightMax         *float64
	Weight            *string
	PieceWeightMin    *float64
	PieceWeightMax    *float64
	SellByPiece       bool
	QuantityMinStep   *float64
	PriceActual       float64
	PriceSpecial      *float64
	PricePrevious     *float64
	IsAvailable       bool `gorm:"index"`
	IsLocal           bool
	NutritionFats     *float64
	NutritionCarbs    *float64
	NutritionProtein  *float64
	NutritionKcal     *float64
	Ingredients       *string
	StorageConditions *string
	Information       string `gorm:"not null;default:''"`
	RatingValue       *float64
	RatingReviews     *int64
}

// Product is a mirrored catalog product.
type Product struct {
	ID int64 `gorm:"primaryKey;autoIncrement:false"`
	ProductAttributes
	CreatedAt time.Time
	UpdatedAt time.Time

	Features   []Feature         `gorm:"many2many:product_features;"`
	Categories []ProductCategory `gorm:"foreignKey:ProductID"`
	Embedding  *ProductEmbedding `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}

func (Product) TableName() string { return "products" }

// Feature is a product characteristic tag.
type Feature struct {
	ID   int64  `gorm:"primaryKey;autoIncrement:false"`
	Name string `gorm:"not null"`
}

func (Feature) TableName() string { return "features" }

// ProductFeature is the join row between products and features.
type ProductFeature struct {
	ProductID int64 `gorm:"primaryKey;autoIncrement:false"`
	FeatureID int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (ProductFeature) TableName() string { return "product_features" }

// ProductCategory links a product to a category it was listed under.
// SortPos is the 1-based rank within that category's listing.
type ProductCategory struct {
	ProductID  int64 `gorm:"primaryKey;autoIncrement:false"`
	CategoryID int64 `gorm:"primaryKey;autoIncrement:false;index"`
	SortPos    int   `gorm:"not null"`

	Category Category `gorm:"foreignKey:CategoryID"`
}

func (ProductCategory) TableName() string { return "product_categories" }

// ProductEmbedding is the vector of a product's projected text. There is at
// most one per product and it is never updated in place.
type ProductEmbedding struct {
	ID        int64           `gorm:"primaryKey"`
	ProductID int64           `gorm:"uniqueIndex;not null"`
	Text      string          `gorm:"not null"`
	Vector    pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProductEmbedding) TableName() string { return "product_embeddings" }

// ScoredProduct is a nearest-neighbor hit. Distance is cosine distance.
type ScoredProduct struct {
	ProductID int64
	Distance  float64
}

// CatalogStatus summarizes the mirror for status reporting.
type CatalogStatus struct {
	Categories        int64
	LeafCategories    int64
	NeverRefreshed    int64
	OldestRefresh     *time.Time
	Products          int64
	AvailableProducts int64
	Embeddings        int64
}
