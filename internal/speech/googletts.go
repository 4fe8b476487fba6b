package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ozgurtan/medavatar/internal/reliability"
)

// GoogleTTSProvider calls the Cloud Text-to-Speech REST endpoint with an API
// key. It is the default backend for Turkish and English placeholder speech.
type GoogleTTSProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type GoogleTTSConfig struct {
	APIKey  string
	BaseURL string
}

func NewGoogleTTSProvider(cfg GoogleTTSConfig) *GoogleTTSProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://texttospeech.googleapis.com"
	}
	return &GoogleTTSProvider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *GoogleTTSProvider) Name() string { return "google" }

func (p *GoogleTTSProvider) Synthesize(ctx context.Context, text, language string) (Synthesis, error) {
	voice := "en-US-Standard-C"
	languageCode := "en-US"
	if language == "tr" {
		voice = "tr-TR-Standard-A"
		languageCode = "tr-TR"
	}

	payload, err := json.Marshal(map[string]any{
		"input": map[string]string{"text": text},
		"voice": map[string]string{
			"languageCode": languageCode,
			"name":         voice,
		},
		"audioConfig": map[string]string{"audioEncoding": "MP3"},
	})
	if err != nil {
		return Synthesis{}, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/v1/text:synthesize?key=" + p.apiKey

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Synthesis{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, time.Second)):
			}
		}

		out, retryable, err := p.doSynthesize(ctx, url, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Synthesis{}, lastErr
}

func (p *GoogleTTSProvider) doSynthesize(ctx context.Context, url string, payload []byte) (Synthesis, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Synthesis{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return Synthesis{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Synthesis{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("google tts status %d: %s", res.StatusCode, string(body))
	}

	var parsed struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Synthesis{}, false, fmt.Errorf("decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(parsed.AudioContent)
	if err != nil {
		return Synthesis{}, false, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		return Synthesis{}, false, fmt.Errorf("google tts returned empty audio")
	}
	return Synthesis{Audio: audio, ContentType: "audio/mpeg", Provider: p.Name()}, false, nil
}
