package extract

import (
	"net/http"
	"testing"
)

func TestResolveSniffsPlatformByHost(t *testing.T) {
	client := &http.Client{}
	resolve := Resolve(client, "https://catalog.example", "id", "secret")

	cases := map[string]string{
		"https://www.youtube.com/playlist?list=abc":     "video-platform",
		"https://youtu.be/xyz":                           "video-platform",
		"https://open.spotify.com/playlist/abc123":       "streaming-catalog",
		"https://music.apple.com/us/album/xyz/1234":      "streaming-catalog",
		"https://bandcamp.example/album/some-album":      "scrape-only",
	}
	for url, want := range cases {
		got := resolve(url).Platform()
		if got != want {
			t.Errorf("Resolve(%q).Platform() = %q, want %q", url, got, want)
		}
	}
}

func TestCapAndLogTruncatesToMax(t *testing.T) {
	candidates := make([]TrackCandidate, MaxCandidates+10)
	got := capAndLog("test", candidates)
	if len(got) != MaxCandidates {
		t.Errorf("expected %d candidates, got %d", MaxCandidates, len(got))
	}
}

func TestCapAndLogPassesThroughUnderLimit(t *testing.T) {
	candidates := make([]TrackCandidate, 5)
	got := capAndLog("test", candidates)
	if len(got) != 5 {
		t.Errorf("expected 5 candidates, got %d", len(got))
	}
}

func TestPlaylistIDFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/playlist?list=PL123": "PL123",
		"https://www.youtube.com/playlist":             "",
		"not a url at all but still a bare id":         "",
	}
	for url, want := range cases {
		got := playlistIDFromURL(url)
		if got != want {
			t.Errorf("playlistIDFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestCatalogIDFromURL(t *testing.T) {
	kind, id := catalogIDFromURL("https://catalog.example/playlist/abc123")
	if kind != "playlists" || id != "abc123" {
		t.Errorf("expected playlists/abc123, got %s/%s", kind, id)
	}

	kind, id = catalogIDFromURL("https://catalog.example/album/xyz789")
	if kind != "albums" || id != "xyz789" {
		t.Errorf("expected albums/xyz789, got %s/%s", kind, id)
	}

	kind, id = catalogIDFromURL("catalog:playlist:direct1")
	if kind != "playlists" || id != "direct1" {
		t.Errorf("expected playlists/direct1, got %s/%s", kind, id)
	}

	kind, id = catalogIDFromURL("https://catalog.example/unrelated/path")
	if kind != "" || id != "" {
		t.Errorf("expected no match, got %s/%s", kind, id)
	}
}

func TestScrapeLinkedData(t *testing.T) {
	page := []byte(`<html><head>
		<script type="application/ld+json">
		{"@type":"MusicPlaylist","track":[{"name":"Song A","byArtist":{"name":"Artist A"}},{"name":"Song B","byArtist":{"name":"Artist B"}}]}
		</script>
	</head><body></body></html>`)

	got := scrapeLinkedData(page)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Title != "Song A" || got[0].Artist != "Artist A" {
		t.Errorf("unexpected first candidate: %+v", got[0])
	}
}

func TestScrapeLastDitchFallsBackToTitle(t *testing.T) {
	page := []byte(`<html><head><title>My Playlist</title>
		<meta name="description" content="A great mix. More words."></head><body></body></html>`)

	got := scrapeLastDitch(page)
	if got == nil {
		t.Fatal("expected a candidate")
	}
	if got.Title != "My Playlist" {
		t.Errorf("expected title %q, got %q", "My Playlist", got.Title)
	}
	if got.Artist != "A great mix" {
		t.Errorf("expected artist %q, got %q", "A great mix", got.Artist)
	}
}
