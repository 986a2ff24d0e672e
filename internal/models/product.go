package models

import (
	"fmt"
	"strings"
)

// Product is a raw scraped listing. Price, rating and review count arrive as
// the site printed them ("23.99", "4.5 out of 5 stars", "1,234") and may be
// missing or malformed; downstream stages parse them defensively.
type Product struct {
	Title            string `json:"title"`
	Price            string `json:"price"`
	URL              string `json:"url"`
	Rating           string `json:"rating,omitempty"`
	ReviewCount      string `json:"review_count,omitempty"`
	Prime            bool   `json:"prime"`
	ImageURL         string `json:"image_url,omitempty"`
	PricePerCount    string `json:"price_per_count,omitempty"`
	DeliveryEstimate string `json:"delivery_estimate,omitempty"`
}

// ScoredProduct is a listing that survived hard filtering, with its
// deterministic soft score. MissingScoreUsed records that at least one
// scoring attribute was absent and the sentinel was substituted.
type ScoredProduct struct {
	Product
	Score              float64 `json:"score"`
	MissingScoreUsed   bool    `json:"missing_score_used"`
	RankingExplanation string  `json:"ranking_explanation,omitempty"`
}

// ValidatedProduct carries the relevance verdict. Validated is false both
// for products beyond the top-N cutoff (never sent to the model) and for
// candidates whose check failed or timed out; those are kept fail-open with
// Relevant left true.
type ValidatedProduct struct {
	ScoredProduct
	Relevant  bool `json:"relevant"`
	Validated bool `json:"validated"`
}

// RankedResultSet is the final ordered output of one pipeline pass.
// Insertion order is the final rank. Summary is nil when summarization
// failed or was skipped.
type RankedResultSet struct {
	Products []ValidatedProduct `json:"products"`
	Summary  *string            `json:"summary"`
}

// Digest renders a short plain-text digest of the top products, used only
// as a read-only hint for the next turn's interpreter.
func (r RankedResultSet) Digest(maxItems int) string {
	if len(r.Products) == 0 {
		return ""
	}
	if maxItems <= 0 || maxItems > len(r.Products) {
		maxItems = len(r.Products)
	}

	lines := make([]string, 0, maxItems)
	for i := 0; i < maxItems; i++ {
		p := r.Products[i]
		price := p.Price
		if price == "" {
			price = "n/a"
		}
		rating := p.Rating
		if rating == "" {
			rating = "no rating"
		}
		lines = append(lines, fmt.Sprintf("%d. %s, $%s, %s", i+1, p.Title, price, rating))
	}
	return strings.Join(lines, "\n")
}
