package transcribe

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// transcriptArtifact mirrors the relevant slice of the provider's JSON
// output: an item list where pronunciation entries carry the spoken words.
type transcriptArtifact struct {
	Results struct {
		Items []struct {
			Type         string `json:"type"`
			Alternatives []struct {
				Content string `json:"content"`
			} `json:"alternatives"`
		} `json:"items"`
	} `json:"results"`
}

// ExtractFullTranscript joins the pronunciation items of a transcript
// artifact into one plain-text transcript.
func ExtractFullTranscript(artifact []byte) (string, error) {
	var data transcriptArtifact
	if err := json.Unmarshal(artifact, &data); err != nil {
		return "", fmt.Errorf("failed to parse transcript artifact: %w", err)
	}

	words := make([]string, 0, len(data.Results.Items))
	for _, item := range data.Results.Items {
		if item.Type != "pronunciation" || len(item.Alternatives) == 0 {
			continue
		}
		words = append(words, item.Alternatives[0].Content)
	}
	return strings.Join(words, " "), nil
}

// ParseArtifactURI splits an https transcript URI into bucket and key.
// Both path-style (https://s3.region.amazonaws.com/bucket/key) and
// virtual-hosted (https://bucket.s3.region.amazonaws.com/key) forms occur.
func ParseArtifactURI(uri string) (bucket, key string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported transcript URI: %s", uri)
	}

	path := strings.TrimPrefix(parsed.Path, "/")
	if strings.HasPrefix(parsed.Host, "s3.") {
		parts := strings.SplitN(path, "/", 2)
		if len(parts) < 2 {
			return "", "", fmt.Errorf("unsupported transcript URI: %s", uri)
		}
		return parts[0], parts[1], nil
	}

	bucket = strings.SplitN(parsed.Host, ".", 2)[0]
	if bucket == "" || path == "" {
		return "", "", fmt.Errorf("unsupported transcript URI: %s", uri)
	}
	return bucket, path, nil
}
