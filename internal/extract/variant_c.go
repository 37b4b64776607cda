package extract

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/franz/batchdl/internal/util"
)

// VariantC is the scrape-only fallback: it reads og:title/og:description/
// og:image from the page's meta tags and emits at most one candidate.
type VariantC struct {
	client *http.Client
}

func (v *VariantC) Platform() string { return "scrape-only" }

func (v *VariantC) Extract(ctx context.Context, rawURL string) []TrackCandidate {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil
	}
	resp, err := v.client.Do(req)
	if err != nil {
		util.WarnLog("extract[scrape-only]: request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil
	}

	doc, err := html.Parse(buf)
	if err != nil {
		return nil
	}

	og := map[string]string{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			prop := metaAttr(n, "property")
			if strings.HasPrefix(prop, "og:") {
				og[prop] = metaAttr(n, "content")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	title := og["og:title"]
	if title == "" {
		return nil
	}
	return []TrackCandidate{{
		Title:        title,
		Artist:       og["og:description"],
		ThumbnailURL: og["og:image"],
	}}
}
