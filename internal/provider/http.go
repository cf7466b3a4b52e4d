package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// restAdapter is a thin JSON-over-HTTP adapter shared by every vendor.
// Vendor payload formats are out of scope; each vendor is described by
// its endpoint, auth header and the response field carrying the asset
// reference.
type restAdapter struct {
	client     *http.Client
	endpoint   string
	authHeader string
	authPrefix string
	assetField string
}

// Generate posts the prompt to the vendor endpoint and extracts the
// asset reference from the response
func (a *restAdapter) Generate(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
	payload := map[string]interface{}{
		"prompt": prompt,
	}
	for k, v := range options {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(a.authHeader, a.authPrefix+credential)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse provider response: %w", err)
	}

	asset, ok := parsed[a.assetField].(string)
	if !ok || asset == "" {
		return "", fmt.Errorf("provider response missing %s field", a.assetField)
	}

	return asset, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// DefaultAdapters builds the adapter registry for every catalog vendor
func DefaultAdapters(timeout time.Duration) *Adapters {
	client := &http.Client{Timeout: timeout}

	bearer := func(endpoint, assetField string) Adapter {
		return &restAdapter{
			client:     client,
			endpoint:   endpoint,
			authHeader: "Authorization",
			authPrefix: "Bearer ",
			assetField: assetField,
		}
	}
	apiKey := func(endpoint, header, assetField string) Adapter {
		return &restAdapter{
			client:     client,
			endpoint:   endpoint,
			authHeader: header,
			assetField: assetField,
		}
	}

	adapters := NewAdapters()

	// LLM
	adapters.Register("openai", bearer("https://api.openai.com/v1/responses", "output_url"))
	adapters.Register("anthropic", apiKey("https://api.anthropic.com/v1/messages", "x-api-key", "output_url"))
	adapters.Register("gemini", apiKey("https://generativelanguage.googleapis.com/v1beta/generate", "x-goog-api-key", "output_url"))

	// Image
	adapters.Register("dalle", bearer("https://api.openai.com/v1/images/generations", "url"))
	adapters.Register("stability", bearer("https://api.stability.ai/v2beta/stable-image/generate/core", "url"))
	adapters.Register("flux", apiKey("https://api.bfl.ml/v1/flux-pro", "x-key", "url"))

	// Voice
	adapters.Register("elevenlabs", apiKey("https://api.elevenlabs.io/v1/text-to-speech", "xi-api-key", "audio_url"))
	adapters.Register("playht", bearer("https://api.play.ht/api/v2/tts", "audio_url"))

	// Video
	adapters.Register("luma", bearer("https://api.lumalabs.ai/dream-machine/v1/generations", "video_url"))
	adapters.Register("runway", bearer("https://api.dev.runwayml.com/v1/image_to_video", "video_url"))
	adapters.Register("kling", bearer("https://api.klingai.com/v1/videos/generations", "video_url"))

	return adapters
}
