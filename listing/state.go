// Package listing loads a listing page's embedded state and projects it into
// flat records.
package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"zoopla_fetcher/models"
)

var ErrStateNotFound = errors.New("embedded listing state not found")

const statePrefix = `{"props":{"pageProps":`

// StateLocator finds the embedded JSON state blob in a listing page.
type StateLocator interface {
	Locate(page []byte) ([]byte, error)
}

// RegexLocator matches the JSON script body directly in the raw HTML.
type RegexLocator struct{}

var statePattern = regexp.MustCompile(`type="application/json">(\{"props":\{"pageProps":.*\})</script>`)

func (RegexLocator) Locate(page []byte) ([]byte, error) {
	m := statePattern.FindSubmatch(page)
	if m == nil {
		return nil, ErrStateNotFound
	}
	return m[1], nil
}

// ScriptLocator walks the application/json script tags of the parsed page.
type ScriptLocator struct{}

func (ScriptLocator) Locate(page []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var blob []byte
	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.HasPrefix(text, statePrefix) {
			blob = []byte(text)
			return false
		}
		return true
	})
	if blob == nil {
		return nil, ErrStateNotFound
	}
	return blob, nil
}

func NewStateLocator(name string) (StateLocator, error) {
	switch name {
	case "", "script":
		return ScriptLocator{}, nil
	case "regex":
		return RegexLocator{}, nil
	}
	return nil, fmt.Errorf("unknown state locator: %s", name)
}

type pageState struct {
	Props struct {
		PageProps struct {
			ListingDetails *details `json:"listingDetails"`
		} `json:"pageProps"`
	} `json:"props"`
}

type details struct {
	ListingID           any               `json:"listingId"`
	AdTargeting         map[string]any    `json:"adTargeting"`
	PointsOfInterest    []pointOfInterest `json:"pointsOfInterest"`
	DetailedDescription *string           `json:"detailedDescription"`
	Location            *struct {
		Coordinates *struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
	FloorPlan *struct {
		Image []struct {
			Filename string `json:"filename"`
		} `json:"image"`
	} `json:"floorPlan"`
}

type pointOfInterest struct {
	Type          string   `json:"type"`
	Title         string   `json:"title"`
	DistanceMiles *float64 `json:"distanceMiles"`
}

// State is the parsed listingDetails object of one listing page. It is never
// modified after ParseState returns.
type State struct {
	url     string
	details details
}

func ParseState(url string, blob []byte) (*State, error) {
	var ps pageState
	if err := json.Unmarshal(blob, &ps); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	d := ps.Props.PageProps.ListingDetails
	if d == nil {
		return nil, fmt.Errorf("%w: no listingDetails", ErrStateNotFound)
	}
	return &State{url: url, details: *d}, nil
}

func (s *State) URL() string {
	return s.url
}

func (s *State) ListingID() string {
	return models.FormatID(s.details.ListingID)
}

// Loader fetches listing pages and parses their embedded state.
type Loader struct {
	client  *http.Client
	locator StateLocator
}

func NewLoader(client *http.Client, locator StateLocator) *Loader {
	if locator == nil {
		locator = ScriptLocator{}
	}
	return &Loader{client: client, locator: locator}
}

func (l *Loader) Load(ctx context.Context, url string) (*State, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	blob, err := l.locator.Locate(page)
	if err != nil {
		return nil, fmt.Errorf("could not extract raw data from %s (status %d): %w", url, resp.StatusCode, err)
	}

	state, err := ParseState(url, blob)
	if err != nil {
		return nil, fmt.Errorf("could not extract raw data from %s: %w", url, err)
	}
	return state, nil
}
