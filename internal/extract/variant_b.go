package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/franz/batchdl/internal/util"
)

// VariantB talks to an authenticated streaming catalog over a
// client-credentials bearer token, falling back to HTML scraping of the
// public page when the API call fails or returns nothing.
type VariantB struct {
	client       *http.Client
	apiBase      string
	clientID     string
	clientSecret string

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

func (v *VariantB) Platform() string { return "streaming-catalog" }

// Extract tries the authenticated API first; on any failure or an empty
// result it attempts three scrape strategies in order, first non-empty
// result wins.
func (v *VariantB) Extract(ctx context.Context, rawURL string) []TrackCandidate {
	kind, id := catalogIDFromURL(rawURL)
	if id != "" {
		if candidates, err := v.fetchViaAPI(ctx, kind, id); err == nil && len(candidates) > 0 {
			return capAndLog(v.Platform(), candidates)
		} else if err != nil {
			util.WarnLog("extract[streaming-catalog]: API path failed, falling back to scrape: %v", err)
		}
	}

	body, err := v.fetchPage(ctx, rawURL)
	if err != nil {
		util.WarnLog("extract[streaming-catalog]: page fetch failed: %v", err)
		return nil
	}

	if candidates := scrapeLinkedData(body); len(candidates) > 0 {
		return capAndLog(v.Platform(), candidates)
	}
	if candidates := scrapeTrackRows(body); len(candidates) > 0 {
		return capAndLog(v.Platform(), candidates)
	}
	if candidate := scrapeLastDitch(body); candidate != nil {
		return []TrackCandidate{*candidate}
	}
	return nil
}

// ensureToken refreshes the client-credentials token if it is missing or
// within 60 seconds of expiry. Synchronized so concurrent extractions
// never issue two refreshes at once.
func (v *VariantB) ensureToken(ctx context.Context) (string, error) {
	v.tokenMu.Lock()
	defer v.tokenMu.Unlock()

	if v.token != "" && time.Until(v.tokenExpiry) > 60*time.Second {
		return v.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiBase+"/api/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(v.clientID, v.clientSecret)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	v.token = payload.AccessToken
	v.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return v.token, nil
}

type catalogTracksPage struct {
	Items []struct {
		Track struct {
			Name       string `json:"name"`
			DurationMs int    `json:"duration_ms"`
			Artists    []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Images []struct {
					URL string `json:"url"`
				} `json:"images"`
			} `json:"album"`
		} `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

func (v *VariantB) fetchViaAPI(ctx context.Context, kind, id string) ([]TrackCandidate, error) {
	token, err := v.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	limit := "100"
	if kind == "albums" {
		limit = "50"
	}
	endpoint := fmt.Sprintf("%s/api/%s/%s/tracks?limit=%s", v.apiBase, kind, id, limit)

	var candidates []TrackCandidate
	for endpoint != "" {
		page, err := v.fetchTracksPage(ctx, endpoint, token)
		if err != nil {
			return candidates, err
		}
		for _, item := range page.Items {
			var artist string
			if len(item.Track.Artists) > 0 {
				artist = item.Track.Artists[0].Name
			}
			var thumb string
			if len(item.Track.Album.Images) > 0 {
				thumb = item.Track.Album.Images[0].URL
			}
			dur := item.Track.DurationMs / 1000
			candidates = append(candidates, TrackCandidate{
				Title:        item.Track.Name,
				Artist:       artist,
				DurationSec:  &dur,
				ThumbnailURL: thumb,
			})
			if len(candidates) >= MaxCandidates {
				return candidates, nil
			}
		}
		endpoint = page.Next
	}
	return candidates, nil
}

func (v *VariantB) fetchTracksPage(ctx context.Context, endpoint, token string) (*catalogTracksPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracks request returned %d", resp.StatusCode)
	}

	var page catalogTracksPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (v *VariantB) fetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// catalogIDFromURL accepts web URLs and URI-style identifiers for both
// playlists and albums, e.g. https://catalog.example/playlist/abc123 or
// catalog:album:abc123.
func catalogIDFromURL(rawURL string) (kind, id string) {
	if strings.HasPrefix(rawURL, "catalog:") {
		parts := strings.Split(rawURL, ":")
		if len(parts) == 3 {
			return pluralize(parts[1]), parts[2]
		}
		return "", ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if (seg == "playlist" || seg == "album") && i+1 < len(segments) {
			return pluralize(seg), segments[i+1]
		}
	}
	return "", ""
}

func pluralize(kind string) string {
	if strings.HasSuffix(kind, "s") {
		return kind
	}
	return kind + "s"
}

// linkedDataGraph is a minimal MusicPlaylist/MusicAlbum JSON-LD shape.
type linkedDataGraph struct {
	Type  string `json:"@type"`
	Track []struct {
		Name         string `json:"name"`
		ByArtist     struct{ Name string `json:"name"` } `json:"byArtist"`
		Duration     string `json:"duration"`
	} `json:"track"`
}

func scrapeLinkedData(body []byte) []TrackCandidate {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var candidates []TrackCandidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			if isLDJSONScript(n) {
				if text := firstTextChild(n); text != "" {
					var graph linkedDataGraph
					if err := json.Unmarshal([]byte(text), &graph); err == nil {
						if graph.Type == "MusicPlaylist" || graph.Type == "MusicAlbum" {
							for _, t := range graph.Track {
								candidates = append(candidates, TrackCandidate{
									Title:  t.Name,
									Artist: t.ByArtist.Name,
								})
							}
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return candidates
}

func isLDJSONScript(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key == "type" && attr.Val == "application/ld+json" {
			return true
		}
	}
	return false
}

func firstTextChild(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return c.Data
		}
	}
	return ""
}

// scrapeTrackRows falls back to DOM selectors for track-row elements when
// no linked-data block is present.
func scrapeTrackRows(body []byte) []TrackCandidate {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var candidates []TrackCandidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "track-row") {
			title := findChildText(n, "track-row-title")
			artist := findChildText(n, "track-row-artist")
			if title != "" {
				candidates = append(candidates, TrackCandidate{Title: title, Artist: artist})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return candidates
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func findChildText(n *html.Node, class string) string {
	var result string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if result != "" {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, class) {
			result = strings.TrimSpace(firstTextChild(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

// scrapeLastDitch emits a single candidate from the page's <title> and
// the first sentence of its meta description, when every structured
// strategy above came back empty.
func scrapeLastDitch(body []byte) *TrackCandidate {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var title, description string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && title == "" {
			title = strings.TrimSpace(firstTextChild(n))
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			name, content := metaAttr(n, "name"), metaAttr(n, "content")
			if name == "description" && description == "" {
				description = content
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if title == "" {
		return nil
	}
	firstSentence := description
	if idx := strings.IndexAny(description, ".\n"); idx >= 0 {
		firstSentence = description[:idx]
	}
	return &TrackCandidate{Title: title, Artist: strings.TrimSpace(firstSentence)}
}

func metaAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
