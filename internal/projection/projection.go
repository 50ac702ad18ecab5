// Package projection renders a product into the canonical text that gets embedded.
package projection

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// MaxMacrosPer100g bounds fat+protein+carbs per 100 g. Larger sums come from
// corrupt source data and the nutrition block is dropped.
const MaxMacrosPer100g = 100

// Breadcrumbs resolves a category id to its "A > B > C" chain.
type Breadcrumbs interface {
	Breadcrumb(categoryID int64) string
}

// Project renders p as newline-joined blocks in a fixed order. Blocks whose
// inputs are absent are left out entirely. The output depends only on the
// product, its features and category links, and crumbs.
func Project(p *storage.Product, crumbs Breadcrumbs) string {
	parts := []string{p.Name}

	if s := deref(p.BrandName); s != "" {
		parts = append(parts, "Бренд: "+s)
	}
	if s := deref(p.ProducerCountry); s != "" {
		parts = append(parts, "Страна: "+s)
	}

	if block := categoriesBlock(p.Categories, crumbs); block != "" {
		parts = append(parts, block)
	}

	if len(p.Features) > 0 {
		features := append([]storage.Feature(nil), p.Features...)
		sort.Slice(features, func(i, j int) bool { return features[i].ID < features[j].ID })
		names := make([]string, len(features))
		for i, f := range features {
			names[i] = f.Name
		}
		parts = append(parts, "Особенности: "+strings.Join(names, ", "))
	}

	if s := trimTrailing(deref(p.Ingredients)); s != "" {
		parts = append(parts, "Состав: "+s)
	}

	if block := nutritionBlock(&p.ProductAttributes); block != "" {
		parts = append(parts, block)
	}

	if p.RatingValue != nil && p.RatingReviews != nil {
		parts = append(parts, fmt.Sprintf("Рейтинг: %s из 5, по %d оценкам",
			formatRating(*p.RatingValue), *p.RatingReviews))
	}

	return strings.Join(parts, "\n")
}

// formatRating prints the shortest exact form, keeping one decimal for whole
// values (5 -> "5.0", 4.85 -> "4.85").
func formatRating(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func categoriesBlock(links []storage.ProductCategory, crumbs Breadcrumbs) string {
	if len(links) == 0 || crumbs == nil {
		return ""
	}
	sorted := append([]storage.ProductCategory(nil), links...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CategoryID < sorted[j].CategoryID })

	var lines []string
	for _, link := range sorted {
		crumb := crumbs.Breadcrumb(link.CategoryID)
		if crumb == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (позиция №%d)", crumb, link.SortPos))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Продукт находится в категориях:\n" + strings.Join(lines, "\n")
}

func nutritionBlock(a *storage.ProductAttributes) string {
	if !NutritionConsistent(a) {
		return ""
	}
	var items []string
	if a.NutritionKcal != nil {
		items = append(items, fmt.Sprintf("%d ккал", int64(*a.NutritionKcal)))
	}
	macros := []struct {
		label string
		value *float64
	}{
		{"жиры", a.NutritionFats},
		{"белки", a.NutritionProtein},
		{"углеводы", a.NutritionCarbs},
	}
	for _, m := range macros {
		if m.value != nil {
			items = append(items, fmt.Sprintf("%s: %.1f г", m.label, *m.value))
		}
	}
	if len(items) == 0 {
		return ""
	}
	return "Пищевая ценность на 100 г: " + strings.Join(items, ", ")
}

// NutritionConsistent reports whether the product's macros sum to at most
// MaxMacrosPer100g. Absent macros count as zero.
func NutritionConsistent(a *storage.ProductAttributes) bool {
	total := 0.0
	for _, v := range []*float64{a.NutritionFats, a.NutritionProtein, a.NutritionCarbs} {
		if v != nil {
			total += *v
		}
	}
	return !math.IsNaN(total) && total <= MaxMacrosPer100g
}

func trimTrailing(s string) string {
	return strings.TrimRightFunc(strings.TrimSpace(s), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
