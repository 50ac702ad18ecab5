package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// RemoteCategory is a category node as the catalog API reports it.
type RemoteCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// CategoryInfo is the result of a zero-limit category listing.
type CategoryInfo struct {
	ProductCount  int
	Subcategories []RemoteCategory
}

// Characteristic is a product feature tag.
type Characteristic struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Nutrition holds per-100g values. The API sends them as numbers or as
// comma-decimal strings.
type Nutrition struct {
	Carbs   FlexFloat `json:"carbs"`
	Fats    FlexFloat `json:"fats"`
	Protein FlexFloat `json:"protein"`
	Kcal    FlexFloat `json:"kcal"`
}

// Rating is the product's review summary.
type Rating struct {
	Reviews ReviewCount `json:"reviews"`
	Value   FlexFloat   `json:"value"`
}

// RemoteProduct is one entry of a catalog product listing.
type RemoteProduct struct {
	ID                int64            `json:"id"`
	CatalogID         int64            `json:"catalogId"`
	Name              string           `json:"name"`
	URI               string           `json:"uri"`
	BrandName         *string          `json:"brandName"`
	ProducerCountry   *string          `json:"producerCountry"`
	Description       string           `json:"description"`
	Image             *string          `json:"image"`
	Information       string           `json:"information"`
	Ingredients       *string          `json:"ingredients"`
	StorageConditions *string          `json:"storageConditions"`
	Characteristics   []Characteristic `json:"characteristics"`
	Measure           string           `json:"measure"`
	IsAvailable       bool             `json:"isAvailable"`
	IsLocal           bool             `json:"isLocal"`
	IsWeighted        bool             `json:"isWeighted"`
	SellByPiece       bool             `json:"sellByPiece"`
	Weight            *string          `json:"weight"`
	WeightAvg         FlexFloat        `json:"weightAvg"`
	WeightMin         FlexFloat        `json:"weightMin"`
	WeightMax         FlexFloat        `json:"weightMax"`
	PieceWeightMin    FlexFloat        `json:"pieceWeightMin"`
	PieceWeightMax    FlexFloat        `json:"pieceWeightMax"`
	QuantityMinStep   FlexFloat        `json:"quantityMinStep"`
	PriceActual       FlexFloat        `json:"priceActual"`
	PriceSpecial      FlexFloat        `json:"priceSpecial"`
	PricePrevious     FlexFloat        `json:"pricePrevious"`
	Nutrition         *Nutrition       `json:"nutrition"`
	Rating            *Rating          `json:"rating"`
}

// Normalize strips markup from the free-text fields.
func (p *RemoteProduct) Normalize() {
	p.Name = StripHTML(p.Name)
	p.Information = StripHTML(p.Information)
	p.Description = StripHTML(p.Description)
	p.Ingredients = stripOptional(p.Ingredients)
	p.StorageConditions = stripOptional(p.StorageConditions)
	for i := range p.Characteristics {
		p.Characteristics[i].Name = StripHTML(p.Characteristics[i].Name)
	}
}

func stripOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := StripHTML(*s)
	if v == "" {
		return nil
	}
	return &v
}

// FlexFloat decodes a number that may arrive as a JSON number, a
// comma-decimal string ("3,5"), an empty string or null.
type FlexFloat struct {
	Value float64
	Valid bool
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	*f = FlexFloat{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// free text where a number was expected
			return nil
		}
		f.Value, f.Valid = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value, f.Valid = v, true
	return nil
}

// Ptr returns the value or nil when absent.
func (f FlexFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// Or returns the value or def when absent.
func (f FlexFloat) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

// ReviewCount decodes review counts sent either as numbers or as "12 оценок".
type ReviewCount struct {
	Value int64
	Valid bool
}

// Ptr returns the count or nil when absent.
func (r ReviewCount) Ptr() *int64 {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

func (r *ReviewCount) UnmarshalJSON(data []byte) error {
	*r = ReviewCount{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return nil
		}
		v, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil
		}
		r.Value, r.Valid = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	r.Value, r.Valid = int64(v), true
	return nil
}
