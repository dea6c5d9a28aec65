package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/omniscript/internal/platform/errors"
	"github.com/louisbranch/omniscript/internal/world"
)

// HTTPConfig configures the responses endpoint and HTTP behavior.
type HTTPConfig struct {
	ResponsesURL string
	Model        string
	Credential   string
	HTTPClient   *http.Client
}

type httpEngine struct {
	cfg HTTPConfig
}

// NewHTTP builds an engine that invokes a responses-style completion
// endpoint over HTTP.
func NewHTTP(cfg HTTPConfig) Engine {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = "https://api.openai.com/v1/responses"
	}
	return &httpEngine{cfg: cfg}
}

func (e *httpEngine) Turn(ctx context.Context, input TurnInput) (world.TurnDelta, error) {
	responsesURL := strings.TrimSpace(e.cfg.ResponsesURL)
	credential := strings.TrimSpace(e.cfg.Credential)
	model := strings.TrimSpace(e.cfg.Model)
	action := strings.TrimSpace(input.Input)
	if credential == "" {
		return world.TurnDelta{}, fmt.Errorf("credential is required")
	}
	if model == "" {
		return world.TurnDelta{}, fmt.Errorf("model is required")
	}
	if action == "" {
		return world.TurnDelta{}, fmt.Errorf("input is required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"model":        model,
		"instructions": Instructions,
		"input":        BuildPrompt(input),
	})
	if err != nil {
		return world.TurnDelta{}, fmt.Errorf("marshal turn request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return world.TurnDelta{}, fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is
	// never echoed in errors.
	req.Header.Set("Authorization", "Bearer "+credential)

	res, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return world.TurnDelta{}, fmt.Errorf("turn request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return world.TurnDelta{}, fmt.Errorf("read turn error body: %w", err)
		}
		return world.TurnDelta{}, fmt.Errorf("turn request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return world.TurnDelta{}, fmt.Errorf("decode turn response: %w", err)
	}
	outputText := strings.TrimSpace(payload.OutputText)
	if outputText == "" {
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" {
					outputText = strings.TrimSpace(content.Text)
					break
				}
			}
			if outputText != "" {
				break
			}
		}
	}
	if outputText == "" {
		return world.TurnDelta{}, fmt.Errorf("turn response missing output text")
	}

	delta, err := world.DecodeDelta([]byte(stripFences(outputText)))
	if err != nil {
		return world.TurnDelta{}, mapDeltaError(err)
	}
	return delta, nil
}

// mapDeltaError translates turn output validation errors to domain errors.
func mapDeltaError(err error) error {
	if errors.Is(err, world.ErrNegativeTimeDelta) {
		return apperrors.Wrap(apperrors.CodeWorldNegativeTimeDelta, err.Error(), err)
	}
	if errors.Is(err, world.ErrMalformedDelta) {
		return apperrors.Wrap(apperrors.CodeWorldDeltaMalformed, err.Error(), err)
	}
	return err
}

// stripFences removes a surrounding markdown code fence if the model wrapped
// its JSON in one.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
