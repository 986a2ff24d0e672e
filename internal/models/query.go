package models

import "strings"

type SortOption string

const (
	SortPriceAsc   SortOption = "price-asc"
	SortPriceDesc  SortOption = "price-desc"
	SortReviewRank SortOption = "review-rank"
	SortDateDesc   SortOption = "date-desc"
	SortRelevance  SortOption = "relevance"
)

func (s SortOption) Valid() bool {
	switch s {
	case SortPriceAsc, SortPriceDesc, SortReviewRank, SortDateDesc, SortRelevance, "":
		return true
	}
	return false
}

// Filters are the hard constraints of a search. Nil pointer fields mean
// the user never asked for that constraint.
type Filters struct {
	PriceMin   *float64   `json:"price_min,omitempty"`
	PriceMax   *float64   `json:"price_max,omitempty"`
	Prime      *bool      `json:"prime,omitempty"`
	MinRating  *float64   `json:"min_rating,omitempty"`
	MinReviews *int       `json:"min_reviews,omitempty"`
	SortBy     SortOption `json:"sort_by,omitempty"`
	DeliverBy  string     `json:"deliver_by,omitempty"`
}

// FiltersUpdate is the per-turn delta produced by the query interpreter.
// A nil field means the utterance did not address that filter; the previous
// value carries over verbatim.
type FiltersUpdate struct {
	PriceMin   *float64    `json:"price_min"`
	PriceMax   *float64    `json:"price_max"`
	Prime      *bool       `json:"prime"`
	MinRating  *float64    `json:"min_rating"`
	MinReviews *int        `json:"min_reviews"`
	SortBy     *SortOption `json:"sort_by"`
	DeliverBy  *string     `json:"deliver_by"`
}

// MergedWith returns a copy of f with every field the update addresses
// overwritten and every other field kept.
func (f Filters) MergedWith(u FiltersUpdate) Filters {
	merged := f
	if u.PriceMin != nil {
		merged.PriceMin = u.PriceMin
	}
	if u.PriceMax != nil {
		merged.PriceMax = u.PriceMax
	}
	if u.Prime != nil {
		merged.Prime = u.Prime
	}
	if u.MinRating != nil {
		merged.MinRating = u.MinRating
	}
	if u.MinReviews != nil {
		merged.MinReviews = u.MinReviews
	}
	if u.SortBy != nil {
		merged.SortBy = *u.SortBy
	}
	if u.DeliverBy != nil {
		merged.DeliverBy = *u.DeliverBy
	}
	return merged
}

// Preferences hold the soft ranking signals. Features is ordered by recency
// of mention, cumulative across turns.
type Preferences struct {
	Features []string `json:"features"`
}

// PreferencesUpdate is the per-turn feature delta. A contradicted feature
// (e.g. a new color) arrives as a Remove of the old entry plus an Add of the
// new one.
type PreferencesUpdate struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// MergedWith applies removals first, then appends additions not already
// present. Matching is case-insensitive; order reflects recency of mention.
func (p Preferences) MergedWith(u PreferencesUpdate) Preferences {
	removed := make(map[string]bool, len(u.Remove))
	for _, r := range u.Remove {
		removed[strings.ToLower(strings.TrimSpace(r))] = true
	}

	merged := Preferences{Features: make([]string, 0, len(p.Features)+len(u.Add))}
	seen := make(map[string]bool)
	for _, feat := range p.Features {
		key := strings.ToLower(strings.TrimSpace(feat))
		if key == "" || removed[key] || seen[key] {
			continue
		}
		seen[key] = true
		merged.Features = append(merged.Features, feat)
	}

	for _, feat := range u.Add {
		key := strings.ToLower(strings.TrimSpace(feat))
		if key == "" || removed[key] || seen[key] {
			continue
		}
		seen[key] = true
		merged.Features = append(merged.Features, strings.TrimSpace(feat))
	}

	return merged
}

// ParsedQuery is the fully populated structured query for one turn.
type ParsedQuery struct {
	SearchTerm  string      `json:"search_term"`
	Filters     Filters     `json:"filters"`
	Preferences Preferences `json:"preferences"`
}

// SearchContext is the complete conversational state. It is owned by the
// caller, echoed back on every turn and rebuilt wholesale after each run;
// the server keeps no copy.
type SearchContext struct {
	SearchTerm     string      `json:"search_term"`
	Filters        Filters     `json:"filters"`
	Preferences    Preferences `json:"preferences"`
	ResultsSummary string      `json:"results_summary,omitempty"`
}

func (c SearchContext) IsEmpty() bool {
	return c.SearchTerm == ""
}

// NewSearchContext assembles the outgoing context from the turn's parsed
// query plus a non-authoritative digest of the returned products. No
// structured product data is carried across turns.
func NewSearchContext(parsed ParsedQuery, resultsDigest string) SearchContext {
	return SearchContext{
		SearchTerm:     parsed.SearchTerm,
		Filters:        parsed.Filters,
		Preferences:    parsed.Preferences,
		ResultsSummary: resultsDigest,
	}
}

func Float64Ptr(v float64) *float64 { return &v }
func IntPtr(v int) *int             { return &v }
func BoolPtr(v bool) *bool          { return &v }
