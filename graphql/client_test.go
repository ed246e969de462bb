package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func newScriptServer(t *testing.T, scripts map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/listing/details/123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head>
<script src="https://other.example.com/analytics.js"></script>
<script src="%[1]s/_next/static/chunks/framework-1.js" defer></script>
<script src="%[1]s/_next/static/chunks/pages/app-2.js" defer></script>
<script src="%[1]s/_next/static/chunks/main-3.js" defer></script>
</head><body></body></html>`, srv.URL)
	})
	for path, body := range scripts {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	srv = httptest.NewServer(mux)
	return srv
}

func TestExtractAPIKey_FirstHitInPageOrder(t *testing.T) {
	srv := newScriptServer(t, map[string]string{
		"/_next/static/chunks/framework-1.js": `var a = {"Content-Type":"application/json"};`,
		"/_next/static/chunks/pages/app-2.js": `headers:{"X-Api-Key":"firstKey123"}`,
		"/_next/static/chunks/main-3.js":      `headers:{"X-Api-Key":"secondKey456"}`,
	})
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL+"/graphql")
	c.SetScriptPrefix(srv.URL + "/_next/static/chunks/")

	key, err := c.ExtractAPIKey(context.Background(), srv.URL+"/listing/details/123")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if key != "firstKey123" {
		t.Fatalf("expected firstKey123, got %s", key)
	}
}

func TestExtractAPIKey_NotFound(t *testing.T) {
	srv := newScriptServer(t, map[string]string{
		"/_next/static/chunks/framework-1.js": `nothing`,
		"/_next/static/chunks/pages/app-2.js": `nothing`,
		"/_next/static/chunks/main-3.js":      `nothing`,
	})
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL+"/graphql")
	c.SetScriptPrefix(srv.URL + "/_next/static/chunks/")

	_, err := c.ExtractAPIKey(context.Background(), srv.URL+"/listing/details/123")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestPriceHistory(t *testing.T) {
	fixture := loadFixture(t, "listing_history.json")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("expected api key header secret, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		var body struct {
			OperationName string `json:"operationName"`
			Variables     struct {
				ListingID json.Number `json:"listingId"`
			} `json:"variables"`
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.OperationName != "ListingHistory" {
			t.Errorf("unexpected operation %s", body.OperationName)
		}
		if body.Variables.ListingID.String() != "64321987" {
			t.Errorf("unexpected listing id %s", body.Variables.ListingID)
		}
		w.Write(fixture)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	data, err := c.PriceHistory(context.Background(), "64321987", "secret")
	if err != nil {
		t.Fatalf("price history failed: %v", err)
	}

	ph := data.ListingDetails.PriceHistory
	if ph == nil {
		t.Fatalf("expected price history")
	}
	if ph.FirstPublished.FirstPublishedDate != "2023-03-01T09:12:44" {
		t.Fatalf("unexpected first published %s", ph.FirstPublished.FirstPublishedDate)
	}
	if ph.LastSale.PriceLabel != "£315,000" {
		t.Fatalf("unexpected last sale label %s", ph.LastSale.PriceLabel)
	}
	if len(ph.PriceChanges) != 2 {
		t.Fatalf("expected 2 price changes, got %d", len(ph.PriceChanges))
	}
	if data.ListingDetails.ViewCount == nil || *data.ListingDetails.ViewCount.ViewCount30Day != 812 {
		t.Fatalf("expected view count 812")
	}
}

func TestPriceHistory_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	_, err := c.PriceHistory(context.Background(), "1", "bad")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", statusErr.StatusCode)
	}
}
