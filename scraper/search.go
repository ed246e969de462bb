package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"

	"zoopla_fetcher/httputil"
	"zoopla_fetcher/models"
)

const (
	PageSize   = 100
	MaxResults = 10000
)

var ErrNoTotalResults = errors.New("could not get page data: total results element not found")

var (
	totalResultsPattern     = regexp.MustCompile(`\d+`)
	searchIdentifierPattern = regexp.MustCompile(`\?search_identifier=.+`)
)

// SearchParams builds the search query string for a spec. Unset bounds are
// left out; filters the fetcher does not expose use fixed values.
func SearchParams(q models.QuerySpec) url.Values {
	v := url.Values{}
	v.Set("q", q.Query)
	setInt(v, "price_min", q.PriceMin)
	setInt(v, "price_max", q.PriceMax)
	if q.PropertyType != models.PropertyAny {
		v.Set("property_type", string(q.PropertyType))
	}
	setInt(v, "beds_min", q.BedsMin)
	setInt(v, "beds_max", q.BedsMax)
	v.Set("category", "residential")
	v.Set("price_frequency", "per_month")
	v.Set("radius", strconv.FormatFloat(q.RadiusMiles, 'f', -1, 64))
	v.Set("results_sort", "newest_listings")
	if q.NewHomes {
		v.Set("new_homes", "include")
	} else {
		v.Set("new_homes", "exclude")
	}
	v.Set("retirement_homes", strconv.FormatBool(q.RetirementHomes))
	v.Set("shared_ownership", strconv.FormatBool(q.SharedOwnership))
	v.Set("include_auctions", strconv.FormatBool(q.IncludeAuctions))
	v.Set("include_sold", strconv.FormatBool(q.IncludeSold))
	v.Set("include_shared_accommodation", strconv.FormatBool(q.IncludeSharedAccommodation))
	v.Set("search_source", string(q.Type))
	v.Set("section", string(q.Type))
	v.Set("view_type", "list")
	return v
}

func setInt(v url.Values, key string, n *int) {
	if n != nil {
		v.Set(key, strconv.Itoa(*n))
	}
}

// PageCount returns how many result pages to fetch for total results, and
// whether the total was capped at MaxResults.
func PageCount(total int) (pages int, capped bool) {
	if total >= MaxResults {
		total = MaxResults
		capped = true
	}
	return int(math.Ceil(float64(total) / PageSize)), capped
}

// Searcher resolves a query to the listing URLs on its result pages.
type Searcher struct {
	clients *httputil.Clients
	baseURL string
}

func NewSearcher(clients *httputil.Clients, baseURL string) *Searcher {
	return &Searcher{clients: clients, baseURL: strings.TrimRight(baseURL, "/")}
}

// QueryURL issues the search request without following redirects and builds
// the canonical results URL from the redirect target, with paging set to
// page 1.
func (s *Searcher) QueryURL(ctx context.Context, q models.QuerySpec) (string, error) {
	searchURL := s.baseURL + "/search/?" + SearchParams(q).Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.clients.Search.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("search returned status %d without a redirect", resp.StatusCode)
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect %q: %w", location, err)
	}
	if !u.IsAbs() {
		base, err := url.Parse(s.baseURL)
		if err != nil {
			return "", err
		}
		u = base.ResolveReference(u)
	}

	params := u.Query()
	params.Set("page_size", strconv.Itoa(PageSize))
	params.Set("pn", "1")
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// PageURL returns queryURL with the page number set to page.
func PageURL(queryURL string, page int) string {
	u, err := url.Parse(queryURL)
	if err != nil {
		return queryURL
	}
	params := u.Query()
	params.Set("pn", strconv.Itoa(page))
	u.RawQuery = params.Encode()
	return u.String()
}

func (s *Searcher) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.clients.Pages.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// TotalResults parses the result count shown on the first results page.
func TotalResults(doc *goquery.Document) (int, error) {
	el := doc.Find(`p[data-testid="total-results"]`).First()
	if el.Length() == 0 {
		return 0, ErrNoTotalResults
	}
	m := totalResultsPattern.FindString(strings.ReplaceAll(el.Text(), ",", ""))
	if m == "" {
		return 0, fmt.Errorf("%w: no number in %q", ErrNoTotalResults, el.Text())
	}
	return strconv.Atoi(m)
}

// ListingLinks returns the absolute listing URLs on a results page, in page
// order, with any search identifier suffix removed.
func ListingLinks(doc *goquery.Document, baseURL string) []string {
	var urls []string
	doc.Find(`a[data-testid="listing-details-link"]`).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		href = searchIdentifierPattern.ReplaceAllString(href, "")
		if strings.HasPrefix(href, "/") {
			href = baseURL + href
		}
		urls = append(urls, href)
	})
	return urls
}

// ListingURLs collects every listing URL for the query across all result
// pages, page 1 first. Duplicates are kept. The page fetched for the result
// count doubles as page 1.
func (s *Searcher) ListingURLs(ctx context.Context, q models.QuerySpec) ([]string, error) {
	queryURL, first, total, err := s.firstPage(ctx, q)
	if err != nil {
		return nil, err
	}

	pages, capped := PageCount(total)
	if capped {
		log.Printf("[warn] search: too many results (%s), only returning first %s", humanize.Comma(int64(total)), humanize.Comma(MaxResults))
	}
	log.Printf("[info] search: %s results over %d pages", humanize.Comma(int64(total)), pages)

	var urls []string
	for page := 1; page <= pages; page++ {
		doc := first
		if page > 1 {
			doc, err = s.fetchPage(ctx, PageURL(queryURL, page))
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
		}
		links := ListingLinks(doc, s.baseURL)
		urls = append(urls, links...)
		log.Printf("[info] search: page %d/%d: %d listings (total: %d)", page, pages, len(links), len(urls))
	}
	return urls, nil
}

// TotalListings reports the portal's result count for the query without
// walking the result pages.
func (s *Searcher) TotalListings(ctx context.Context, q models.QuerySpec) (int, error) {
	_, _, total, err := s.firstPage(ctx, q)
	return total, err
}

func (s *Searcher) firstPage(ctx context.Context, q models.QuerySpec) (string, *goquery.Document, int, error) {
	queryURL, err := s.QueryURL(ctx, q)
	if err != nil {
		return "", nil, 0, err
	}
	log.Printf("[info] search: query url %s", queryURL)

	first, err := s.fetchPage(ctx, queryURL)
	if err != nil {
		return "", nil, 0, fmt.Errorf("fetch first results page: %w", err)
	}
	total, err := TotalResults(first)
	if err != nil {
		return "", nil, 0, err
	}
	return queryURL, first, total, nil
}
