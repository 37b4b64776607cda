package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/franz/batchdl/internal/mapper"
)

// VideoPlatformSearch implements mapper.SearchClient against the video
// platform's free-text search endpoint, for tracks the catalog
// extractor could not resolve to a source-id directly.
type VideoPlatformSearch struct {
	client  *http.Client
	apiBase string
	apiKey  string
}

func NewVideoPlatformSearch(client *http.Client, apiBase, apiKey string) *VideoPlatformSearch {
	return &VideoPlatformSearch{client: client, apiBase: apiBase, apiKey: apiKey}
}

type searchResultsPage struct {
	Items []struct {
		VideoID      string `json:"video_id"`
		URL          string `json:"url"`
		Title        string `json:"title"`
		DurationSec  int    `json:"duration_seconds"`
		IsShort      bool   `json:"is_short"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"items"`
}

func (s *VideoPlatformSearch) Search(ctx context.Context, query string) ([]mapper.SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&key=%s", s.apiBase, url.QueryEscape(query), s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	var page searchResultsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}

	results := make([]mapper.SearchResult, 0, len(page.Items))
	for _, item := range page.Items {
		results = append(results, mapper.SearchResult{
			VideoID:      item.VideoID,
			URL:          item.URL,
			Title:        item.Title,
			DurationSec:  item.DurationSec,
			IsShortForm:  item.IsShort,
			ThumbnailURL: item.ThumbnailURL,
		})
	}
	return results, nil
}
