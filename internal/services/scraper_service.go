package services

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/dates"
	"cartscout/internal/pkg/logger"
)

// Refinement codes for delivery-speed facets, keyed by how many days out the
// requested date is.
const (
	deliveryCodeToday    = "8308911011"
	deliveryCodeTomorrow = "8308921011"
	deliveryCodeTwoDays  = "8308931011"
	primeEligibleCode    = "2470955011"
)

var deliveryEstimatePattern = regexp.MustCompile(`(today|tomorrow|[A-Z][a-z]+ \d{1,2})`)

// ScraperService fetches search result listings. Hard filters that the site
// can apply server-side (price, rating, reviews, prime, delivery, sort) are
// encoded into the request URL; the scorer re-applies all of them locally so
// a facet the site ignored still holds.
type ScraperService struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	config    config.ScraperConfig
	logger    *logger.Logger

	mu         sync.Mutex
	userAgents []string
	uaIndex    int
}

func NewScraperService(cfg config.ScraperConfig, log *logger.Logger) (*ScraperService, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid scraper base URL %q: %w", cfg.BaseURL, err)
	}

	bareHost := strings.TrimPrefix(base.Host, "www.")
	collector := colly.NewCollector(colly.AllowedDomains(bareHost, "www."+bareHost))
	collector.SetRequestTimeout(cfg.RequestTimeout)

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 20
	}

	service := &ScraperService{
		collector: collector,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		config:    cfg,
		logger:    log,
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/120.0",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/120.0",
		},
	}

	log.Info("Scraper service initialized",
		"base_url", cfg.BaseURL,
		"max_results", cfg.MaxResults,
		"max_pages", cfg.MaxPages,
		"requests_per_minute", rpm)

	return service, nil
}

// FetchListings retrieves up to MaxResults raw listings for the query,
// following pagination across at most MaxPages pages. A failure on the first
// page is fatal; later pages degrade to whatever was already collected.
func (service *ScraperService) FetchListings(ctx context.Context, searchTerm string, filters models.Filters) ([]models.Product, error) {
	startTime := time.Now()

	if strings.TrimSpace(searchTerm) == "" {
		return nil, models.NewFetchError("EMPTY_SEARCH_TERM", "empty search term")
	}

	pageURL, err := service.buildSearchURL(searchTerm, filters)
	if err != nil {
		return nil, models.NewFetchError("BAD_SEARCH_URL", "could not build search URL").WithCause(err)
	}

	products := make([]models.Product, 0, service.config.MaxResults)
	pagesFetched := 0

	for page := 1; page <= service.config.MaxPages && len(products) < service.config.MaxResults; page++ {
		if err := service.limiter.Wait(ctx); err != nil {
			if page == 1 {
				return nil, models.NewFetchError("RATE_LIMITED", "rate limit wait interrupted").WithCause(err)
			}
			break
		}

		pageProducts, nextURL, err := service.fetchPage(ctx, pageURL)
		if err != nil {
			if page == 1 {
				service.logger.LogService("scraper", "fetch_listings", time.Since(startTime), map[string]any{
					"search_term": searchTerm,
				}, err)
				return nil, models.NewFetchError("FETCH_FAILED", "listing fetch failed").WithCause(err)
			}
			service.logger.Warn("pagination stopped early", "page", page, "error", err.Error())
			break
		}

		pagesFetched++
		products = append(products, pageProducts...)
		if nextURL == "" {
			break
		}
		pageURL = nextURL
	}

	if len(products) > service.config.MaxResults {
		products = products[:service.config.MaxResults]
	}

	service.logger.LogService("scraper", "fetch_listings", time.Since(startTime), map[string]any{
		"search_term": searchTerm,
		"pages":       pagesFetched,
		"products":    len(products),
	}, nil)

	return products, nil
}

func (service *ScraperService) fetchPage(ctx context.Context, pageURL string) ([]models.Product, string, error) {
	c := service.collector.Clone()

	var products []models.Product
	var nextURL string
	var fetchErr error

	c.OnRequest(func(r *colly.Request) {
		service.mu.Lock()
		userAgent := service.userAgents[service.uaIndex]
		service.uaIndex = (service.uaIndex + 1) % len(service.userAgents)
		service.mu.Unlock()

		r.Headers.Set("User-Agent", userAgent)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnHTML("div[data-component-type='s-search-result']", func(e *colly.HTMLElement) {
		if product, ok := service.extractProduct(e); ok {
			products = append(products, product)
		}
	})

	c.OnHTML("a.s-pagination-next", func(e *colly.HTMLElement) {
		if strings.Contains(e.Attr("class"), "s-pagination-disabled") {
			return
		}
		nextURL = e.Request.AbsoluteURL(e.Attr("href"))
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("page request failed (HTTP %d): %w", status, err)
	})

	done := make(chan struct{}, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fetchErr = fmt.Errorf("scraper panic: %v", r)
			}
			select {
			case done <- struct{}{}:
			default:
			}
		}()
		if err := c.Visit(pageURL); err != nil {
			fetchErr = err
		}
		c.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, "", models.NewTimeoutError("SCRAPER_TIMEOUT", "listing page fetch timed out").WithCause(ctx.Err())
	}

	if fetchErr != nil {
		return nil, "", fetchErr
	}
	return products, nextURL, nil
}

// extractProduct pulls one listing out of a result card. Sponsored placements
// are skipped; a card without a title or URL is discarded. Everything else is
// kept raw, malformed fields included, for downstream stages to judge.
func (service *ScraperService) extractProduct(e *colly.HTMLElement) (models.Product, bool) {
	if e.DOM.Find("span.puis-label-popover-default").Length() > 0 {
		return models.Product{}, false
	}

	product := models.Product{
		Title:    strings.TrimSpace(e.DOM.Find("h2 span").First().Text()),
		Rating:   strings.TrimSpace(e.DOM.Find("span.a-icon-alt").First().Text()),
		Prime:    e.DOM.Find("i.a-icon-prime").Length() > 0,
		ImageURL: e.ChildAttr("img.s-image", "src"),
	}

	if href, exists := e.DOM.Find("a.a-link-normal").First().Attr("href"); exists {
		product.URL = e.Request.AbsoluteURL(href)
	}
	if product.Title == "" || product.URL == "" {
		return models.Product{}, false
	}

	whole := strings.TrimSpace(e.DOM.Find("span.a-price-whole").First().Text())
	fraction := strings.TrimSpace(e.DOM.Find("span.a-price-fraction").First().Text())
	if whole != "" {
		whole = strings.TrimSuffix(whole, ".")
		if fraction != "" {
			product.Price = whole + "." + fraction
		} else {
			product.Price = whole
		}
	}

	product.ReviewCount = strings.TrimSpace(e.DOM.Find("span.a-size-base.s-underline-text").First().Text())

	// Unit price and delivery estimate hide in free text, not dedicated nodes.
	e.DOM.Find("span.a-price ~ span, span.a-size-base").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := unitPricePattern.FindString(s.Text()); m != "" {
			product.PricePerCount = m
			return false
		}
		return true
	})

	deliveryText := e.DOM.Find("[data-cy='delivery-recipe']").Text()
	if deliveryText == "" {
		deliveryText = e.DOM.Find("div.udm-primary-delivery-message").Text()
	}
	product.DeliveryEstimate = deliveryEstimatePattern.FindString(deliveryText)

	return product, true
}

// buildSearchURL encodes the search term, refinement facets (rh), and sort
// order into the result page URL. Price bounds go in cents, ratings in
// tenths, matching the site's facet format.
func (service *ScraperService) buildSearchURL(searchTerm string, filters models.Filters) (string, error) {
	searchURL, err := url.Parse(service.config.BaseURL)
	if err != nil {
		return "", err
	}
	searchURL.Path = "/s"

	values := url.Values{}
	values.Set("k", searchTerm)

	var refinements []string
	if filters.PriceMin != nil || filters.PriceMax != nil {
		low, high := "", ""
		if filters.PriceMin != nil {
			low = fmt.Sprintf("%d", int(math.Round(*filters.PriceMin*100)))
		}
		if filters.PriceMax != nil {
			high = fmt.Sprintf("%d", int(math.Round(*filters.PriceMax*100)))
		}
		refinements = append(refinements, fmt.Sprintf("p_36:%s-%s", low, high))
	}
	if filters.MinRating != nil {
		refinements = append(refinements, fmt.Sprintf("p_72:%d-", int(*filters.MinRating*10)))
	}
	if filters.MinReviews != nil {
		refinements = append(refinements, fmt.Sprintf("p_n_reviews:%d-", *filters.MinReviews))
	}
	if filters.Prime != nil && *filters.Prime {
		refinements = append(refinements, "p_85:"+primeEligibleCode)
	}
	if code := deliveryRefinement(filters.DeliverBy, time.Now()); code != "" {
		refinements = append(refinements, "p_90:"+code)
	}
	if len(refinements) > 0 {
		values.Set("rh", strings.Join(refinements, ","))
	}

	if sortParam := sortParameter(filters.SortBy); sortParam != "" {
		values.Set("s", sortParam)
	}

	searchURL.RawQuery = values.Encode()
	return searchURL.String(), nil
}

// deliveryRefinement maps a requested delivery date onto the nearest
// delivery-speed facet. Dates more than two days out have no facet; the
// scorer handles them instead.
func deliveryRefinement(deliverBy string, now time.Time) string {
	if deliverBy == "" {
		return ""
	}
	target, ok := dates.Parse(deliverBy, now)
	if !ok {
		return ""
	}
	switch days := dates.DaysUntil(target, now); {
	case days <= 0:
		return deliveryCodeToday
	case days == 1:
		return deliveryCodeTomorrow
	case days == 2:
		return deliveryCodeTwoDays
	}
	return ""
}

func sortParameter(sortBy models.SortOption) string {
	switch sortBy {
	case models.SortPriceAsc:
		return "price-asc-rank"
	case models.SortPriceDesc:
		return "price-desc-rank"
	case models.SortReviewRank:
		return "review-rank"
	case models.SortDateDesc:
		return "date-desc-rank"
	}
	return ""
}

func (service *ScraperService) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, service.config.RequestTimeout)
	defer cancel()

	if err := service.limiter.Wait(checkCtx); err != nil {
		return fmt.Errorf("scraper rate limiter saturated: %w", err)
	}
	return nil
}
