package graphql

type request struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

type response struct {
	Data   *Data `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type Data struct {
	ListingDetails *ListingDetails `json:"listingDetails"`
}

// ListingDetails is either a ListingData (history and view count set) or a
// ListingResultError (ErrorCode set).
type ListingDetails struct {
	Typename     string        `json:"__typename"`
	PriceHistory *PriceHistory `json:"priceHistory"`
	ViewCount    *ViewCount    `json:"viewCount"`
	ErrorCode    string        `json:"errorCode"`
}

type PriceHistory struct {
	FirstPublished *FirstPublished `json:"firstPublished"`
	LastSale       *LastSale       `json:"lastSale"`
	PriceChanges   []PriceChange   `json:"priceChanges"`
}

type FirstPublished struct {
	FirstPublishedDate string `json:"firstPublishedDate"`
	PriceLabel         string `json:"priceLabel"`
}

type LastSale struct {
	Date         string `json:"date"`
	NewBuild     bool   `json:"newBuild"`
	Price        any    `json:"price"`
	PriceLabel   string `json:"priceLabel"`
	RecentlySold bool   `json:"recentlySold"`
}

type PriceChange struct {
	IsMinorChange         bool   `json:"isMinorChange"`
	IsPriceDrop           bool   `json:"isPriceDrop"`
	IsPriceIncrease       bool   `json:"isPriceIncrease"`
	PercentageChangeLabel string `json:"percentageChangeLabel"`
	PriceChangeDate       string `json:"priceChangeDate"`
	PriceChangeLabel      string `json:"priceChangeLabel"`
	PriceLabel            string `json:"priceLabel"`
}

type ViewCount struct {
	ViewCount30Day *int `json:"viewCount30day"`
}

const listingHistoryQuery = `query ListingHistory($listingId: Int!) {
  listingDetails(id: $listingId) {
    ... on ListingData {
      priceHistory {
        ...History
        __typename
      }
      viewCount {
        ...ViewCount
        __typename
      }
      __typename
    }
    ... on ListingResultError {
      errorCode
      __typename
    }
    __typename
  }
}

fragment History on PriceHistory {
  firstPublished {
    firstPublishedDate
    priceLabel
    __typename
  }
  lastSale {
    date
    newBuild
    price
    priceLabel
    recentlySold
    __typename
  }
  priceChanges {
    isMinorChange
    isPriceDrop
    isPriceIncrease
    percentageChangeLabel
    priceChangeDate
    priceChangeLabel
    priceLabel
    __typename
  }
  __typename
}

fragment ViewCount on ViewCount {
  viewCount30day
  __typename
}
`
