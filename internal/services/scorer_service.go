package services

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/dates"
	"cartscout/internal/pkg/logger"
)

// Soft-score component weights. Components whose inputs are absent from the
// whole query (no preferences, no delivery date) are dropped and the
// remaining weights renormalized, so a product is never punished for a
// signal the user did not ask about.
const (
	weightRating   = 0.30
	weightReviews  = 0.20
	weightPrice    = 0.25
	weightFeatures = 0.15
	weightDelivery = 0.10

	ratingMidpoint  = 4.23
	ratingSteepness = 5.0
	reviewCeiling   = 5000
)

var (
	numberPattern    = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	unitPricePattern = regexp.MustCompile(`\$([\d.]+)\s*/\s*(\w+)`)
)

// ScorerService ranks filtered listings with a deterministic weighted score.
// Same inputs always produce the same order; no I/O, no model calls.
type ScorerService struct {
	missingScore float64
	logger       *logger.Logger
	now          func() time.Time
}

func NewScorerService(cfg config.PipelineConfig, log *logger.Logger) *ScorerService {
	return &ScorerService{
		missingScore: cfg.MissingScore,
		logger:       log,
		now:          time.Now,
	}
}

// Rank applies hard filters, scores the survivors and returns them ordered
// best-first. Ties break by review count, then by original input order.
func (service *ScorerService) Rank(products []models.Product, filters models.Filters, prefs models.Preferences) []models.ScoredProduct {
	startTime := time.Now()

	kept := make([]models.Product, 0, len(products))
	for _, p := range products {
		if passesHardFilters(p, filters) {
			kept = append(kept, p)
		}
	}

	percentiles := pricePercentiles(kept)
	deliverBy, hasDeliverBy := time.Time{}, false
	if filters.DeliverBy != "" {
		deliverBy, hasDeliverBy = dates.Parse(filters.DeliverBy, service.now())
	}

	scored := make([]models.ScoredProduct, 0, len(kept))
	for i, p := range kept {
		scored = append(scored, service.score(p, filters, prefs, percentiles[i], deliverBy, hasDeliverBy))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ri, _ := parseReviewCount(scored[i].ReviewCount)
		rj, _ := parseReviewCount(scored[j].ReviewCount)
		return ri > rj
	})

	service.logger.LogService("scorer", "rank", time.Since(startTime), map[string]any{
		"input":    len(products),
		"filtered": len(products) - len(kept),
		"ranked":   len(scored),
	}, nil)

	return scored
}

// passesHardFilters drops a listing only for constraints the user actually
// set. A listing with an unparsable price survives unless a price bound was
// requested; same for rating and review count.
func passesHardFilters(p models.Product, f models.Filters) bool {
	if f.PriceMin != nil || f.PriceMax != nil {
		price, ok := parsePrice(p.Price)
		if !ok {
			return false
		}
		if f.PriceMin != nil && price < *f.PriceMin {
			return false
		}
		if f.PriceMax != nil && price > *f.PriceMax {
			return false
		}
	}
	if f.MinRating != nil {
		rating, ok := parseRating(p.Rating)
		if !ok || rating < *f.MinRating {
			return false
		}
	}
	if f.MinReviews != nil {
		reviews, ok := parseReviewCount(p.ReviewCount)
		if !ok || reviews < *f.MinReviews {
			return false
		}
	}
	if f.Prime != nil && *f.Prime && !p.Prime {
		return false
	}
	return true
}

func (service *ScorerService) score(p models.Product, filters models.Filters, prefs models.Preferences, pricePercentile float64, deliverBy time.Time, hasDeliverBy bool) models.ScoredProduct {
	type component struct {
		name   string
		weight float64
		value  float64
	}

	missingUsed := false
	explain := make([]string, 0, 5)
	components := make([]component, 0, 5)

	add := func(name string, weight, value float64, ok bool) {
		if !ok {
			value = service.missingScore
			missingUsed = true
		}
		components = append(components, component{name, weight, value})
		explain = append(explain, fmt.Sprintf("%s=%.2f", name, value))
	}

	rating, ratingOK := parseRating(p.Rating)
	add("rating", weightRating, ratingScore(rating), ratingOK)

	reviews, reviewsOK := parseReviewCount(p.ReviewCount)
	add("reviews", weightReviews, reviewScore(reviews), reviewsOK)

	priceVal, priceOK := priceScore(p, filters, pricePercentile)
	add("price", weightPrice, priceVal, priceOK)

	if len(prefs.Features) > 0 {
		add("features", weightFeatures, featureScore(p.Title, prefs.Features), true)
	}
	if hasDeliverBy {
		deliveryVal, deliveryOK := deliveryScore(p.DeliveryEstimate, deliverBy, service.now())
		add("delivery", weightDelivery, deliveryVal, deliveryOK)
	}

	var sum, weightSum float64
	for _, c := range components {
		sum += c.weight * c.value
		weightSum += c.weight
	}
	total := 0.0
	if weightSum > 0 {
		total = sum / weightSum
	}

	return models.ScoredProduct{
		Product:            p,
		Score:              total,
		MissingScoreUsed:   missingUsed,
		RankingExplanation: strings.Join(explain, ", "),
	}
}

// ratingScore pushes a logistic curve through the site-wide average so
// a 4.2-star product scores near 0.5 and the spread between 4.0 and 4.6
// matters far more than the spread between 3.0 and 3.6.
func ratingScore(rating float64) float64 {
	return 1 / (1 + math.Exp(-ratingSteepness*(rating-ratingMidpoint)))
}

// reviewScore grows logarithmically and saturates at the ceiling; ten
// thousand reviews tell us nothing that five thousand did not.
func reviewScore(count int) float64 {
	capped := math.Min(float64(count), reviewCeiling)
	return math.Log10(capped+1) / math.Log10(reviewCeiling+1)
}

// featureScore is the fraction of requested features found in the title,
// matched as case-insensitive substrings.
func featureScore(title string, features []string) float64 {
	lower := strings.ToLower(title)
	matched := 0
	for _, feat := range features {
		if strings.Contains(lower, strings.ToLower(strings.TrimSpace(feat))) {
			matched++
		}
	}
	return float64(matched) / float64(len(features))
}

// priceScore prefers proximity to the midpoint when the user gave both
// bounds, otherwise the cheaper end of the candidate pool. The second return
// is false when the price could not be parsed at all.
func priceScore(p models.Product, f models.Filters, percentile float64) (float64, bool) {
	price, ok := parsePrice(p.Price)
	if !ok {
		return 0, false
	}
	if f.PriceMin != nil && f.PriceMax != nil && *f.PriceMax > *f.PriceMin {
		mid := (*f.PriceMin + *f.PriceMax) / 2
		halfRange := (*f.PriceMax - *f.PriceMin) / 2
		return math.Max(0, 1-math.Abs(price-mid)/halfRange), true
	}
	return 1 - percentile, true
}

// pricePercentiles returns, per product, the fraction of comparable
// candidates strictly cheaper than it. Unit prices are preferred and only
// compared against candidates with the same unit.
func pricePercentiles(products []models.Product) []float64 {
	type pricePoint struct {
		value float64
		unit  string
		ok    bool
	}

	points := make([]pricePoint, len(products))
	for i, p := range products {
		if unitVal, unit, ok := parseUnitPrice(p.PricePerCount); ok {
			points[i] = pricePoint{unitVal, unit, true}
			continue
		}
		if price, ok := parsePrice(p.Price); ok {
			points[i] = pricePoint{price, "", true}
		}
	}

	percentiles := make([]float64, len(products))
	for i, pt := range points {
		if !pt.ok {
			continue
		}
		cheaper, peers := 0, 0
		for j, other := range points {
			if j == i || !other.ok || other.unit != pt.unit {
				continue
			}
			peers++
			if other.value < pt.value {
				cheaper++
			}
		}
		if peers > 0 {
			percentiles[i] = float64(cheaper) / float64(peers)
		}
	}
	return percentiles
}

// deliveryScore gives full credit for arriving on or before the requested
// date and sheds a quarter point per day late.
func deliveryScore(estimate string, deliverBy time.Time, now time.Time) (float64, bool) {
	if estimate == "" {
		return 0, false
	}
	arrival, ok := dates.Parse(estimate, now)
	if !ok {
		return 0, false
	}
	late := dates.DaysUntil(arrival, now) - dates.DaysUntil(deliverBy, now)
	if late <= 0 {
		return 1, true
	}
	return math.Max(0, 1-0.25*float64(late)), true
}

func parsePrice(raw string) (float64, bool) {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

// parseRating reads the leading number out of strings like
// "4.5 out of 5 stars".
func parseRating(raw string) (float64, bool) {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || value < 0 || value > 5 {
		return 0, false
	}
	return value, true
}

func parseReviewCount(raw string) (int, bool) {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	value, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// parseUnitPrice reads "$0.25 / count" style strings into (0.25, "count").
func parseUnitPrice(raw string) (float64, string, bool) {
	matches := unitPricePattern.FindStringSubmatch(raw)
	if len(matches) != 3 {
		return 0, "", false
	}
	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil || value <= 0 {
		return 0, "", false
	}
	return value, strings.ToLower(matches[2]), true
}
