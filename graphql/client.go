// Package graphql talks to the portal's price-history API and recovers the
// API key it requires from the site's static scripts.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultAPIURL       = "https://api-graphql-lambda.prod.zoopla.co.uk/graphql"
	DefaultScriptPrefix = "https://r.zoocdn.com/_next/static/chunks/"
)

var ErrNoAPIKey = errors.New("no API key found")

var apiKeyPattern = regexp.MustCompile(`"X-Api-Key":"(\w+)"`)

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graphql API error %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	client       *http.Client
	apiURL       string
	scriptPrefix string
}

func NewClient(client *http.Client, apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		client:       client,
		apiURL:       apiURL,
		scriptPrefix: DefaultScriptPrefix,
	}
}

// SetScriptPrefix changes which script URLs are searched for the API key.
func (c *Client) SetScriptPrefix(prefix string) {
	c.scriptPrefix = prefix
}

// ExtractAPIKey fetches a live listing page and searches the scripts it
// references, in page order, for the embedded API key.
func (c *Client) ExtractAPIKey(ctx context.Context, listingURL string) (string, error) {
	page, err := c.get(ctx, listingURL)
	if err != nil {
		return "", fmt.Errorf("fetch listing page: %w", err)
	}

	scripts, err := c.scriptURLs(page)
	if err != nil {
		return "", err
	}

	for _, src := range scripts {
		body, err := c.get(ctx, src)
		if err != nil {
			log.Printf("[warn] graphql: script %s: %v", src, err)
			continue
		}
		if m := apiKeyPattern.FindSubmatch(body); m != nil {
			return string(m[1]), nil
		}
	}

	return "", fmt.Errorf("%w in %d scripts of %s", ErrNoAPIKey, len(scripts), listingURL)
}

func (c *Client) scriptURLs(page []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var urls []string
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.HasPrefix(src, c.scriptPrefix) && strings.HasSuffix(src, ".js") {
			urls = append(urls, src)
		}
	})
	return urls, nil
}

// PriceHistory queries the price history and 30-day view count of a listing.
func (c *Client) PriceHistory(ctx context.Context, listingID, apiKey string) (*Data, error) {
	body, err := json.Marshal(request{
		OperationName: "ListingHistory",
		Variables:     map[string]any{"listingId": json.Number(listingID)},
		Query:         listingHistoryQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request for listing %s: %w", listingID, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Data == nil {
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("graphql: %s", result.Errors[0].Message)
		}
		return nil, errors.New("graphql: response has no data")
	}
	return result.Data, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
