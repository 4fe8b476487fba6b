package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ElevenLabsProvider is the secondary synthesis backend, reached over the
// plain HTTP text-to-speech endpoint (not the realtime websocket API).
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
	client  *http.Client
}

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	modelID := strings.TrimSpace(cfg.ModelID)
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	return &ElevenLabsProvider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		voiceID: strings.TrimSpace(cfg.VoiceID),
		modelID: modelID,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, language string) (Synthesis, error) {
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.modelID,
		// The multilingual model handles Turkish without a language hint,
		// but passing the code keeps pronunciation stable on short inputs.
		"language_code": language,
	})
	if err != nil {
		return Synthesis{}, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/v1/text-to-speech/" + p.voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Synthesis{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	res, err := p.client.Do(req)
	if err != nil {
		return Synthesis{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Synthesis{}, fmt.Errorf("elevenlabs status %d: %s", res.StatusCode, string(body))
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return Synthesis{}, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return Synthesis{}, fmt.Errorf("elevenlabs returned empty audio")
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Synthesis{Audio: audio, ContentType: contentType, Provider: p.Name()}, nil
}
