package retrieval

// ProductResult is one search hit as returned to agents.
type ProductResult struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Price           float64       `json:"price"`
	ProducerCountry *string       `json:"producer_country,omitempty"`
	BrandName       *string       `json:"brand_name,omitempty"`
	Rating          *Rating       `json:"rating,omitempty"`
	Ingredients     *string       `json:"ingredients,omitempty"`
	Features        []string      `json:"features"`
	Nutrition       *Nutrition    `json:"nutrition,omitempty"`
	Categories      []CategoryRef `json:"categories"`
}

// Rating is present only when the product has a rating value.
type Rating struct {
	Value        float64 `json:"value"`
	ReviewsCount int64   `json:"reviews_count"`
}

// Nutrition is per 100 g. It is present only when calories are known and the
// macros pass the consistency guard.
type Nutrition struct {
	Calories float64  `json:"calories"`
	Fats     *float64 `json:"fats,omitempty"`
	Proteins *float64 `json:"proteins,omitempty"`
	Carbs    *float64 `json:"carbs,omitempty"`
}

// CategoryRef is a category membership with its listing position.
type CategoryRef struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}
