package zendesk

import (
	"encoding/json"
	"fmt"
)

// Category is one help-center category as returned by the listing API.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CategoryPage is one page of the paginated category listing. NextPage is
// nil on the final page; when present it holds the cursor (a URL or token)
// for the following page.
type CategoryPage struct {
	Categories []Category `json:"categories"`
	NextPage   *string    `json:"next_page"`
}

// DecodeCategoryPage parses one response body into a CategoryPage.
func DecodeCategoryPage(body []byte) (*CategoryPage, error) {
	var page CategoryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode category page: %w", err)
	}
	return &page, nil
}
