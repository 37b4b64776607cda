package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// VideoPlatformExtractor implements PrimaryExtractor against the video
// platform's own stream-manifest endpoint, the same JSON-API-client
// shape used by the playlist listing extractor in internal/extract.
type VideoPlatformExtractor struct {
	client  *http.Client
	apiBase string
	apiKey  string
}

func NewVideoPlatformExtractor(client *http.Client, apiBase, apiKey string) *VideoPlatformExtractor {
	return &VideoPlatformExtractor{client: client, apiBase: apiBase, apiKey: apiKey}
}

type streamManifest struct {
	Formats []struct {
		URL         string `json:"url"`
		BitrateKbps int    `json:"bitrate_kbps"`
		AudioOnly   bool   `json:"audio_only"`
	} `json:"formats"`
}

func (v *VideoPlatformExtractor) FetchStreams(ctx context.Context, sourceID string) ([]StreamOption, error) {
	endpoint := fmt.Sprintf("%s/videos/%s/streams?key=%s", v.apiBase, sourceID, v.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("video platform returned %d", resp.StatusCode)
	}

	var manifest streamManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, err
	}

	options := make([]StreamOption, 0, len(manifest.Formats))
	for _, f := range manifest.Formats {
		options = append(options, StreamOption{
			URL:         f.URL,
			BitrateKbps: f.BitrateKbps,
			IsAudioOnly: f.AudioOnly,
		})
	}
	return options, nil
}
