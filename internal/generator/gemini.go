// Package generator 呼叫外部的文字生成服務產生辯論論點。
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"debate_live/internal/protocol"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"
)

var ErrNoAPIKey = errors.New("generator api key not configured")

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Attempts   int
	RetryDelay time.Duration
}

// Gemini 透過 generateContent REST API 產生論點
type Gemini struct {
	cfg        Config
	httpClient *http.Client
}

func NewGemini(cfg Config) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &Gemini{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) firstText() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text
			}
		}
	}
	return ""
}

// GenerateArgument 產生一方的論點；prior 為空時產生開場論點
func (g *Gemini) GenerateArgument(ctx context.Context, topic string, side protocol.Side, prior string) (string, error) {
	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: stance(topic, side)}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt(topic, side, prior)}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			MaxOutputTokens: 300,
			TopP:            0.8,
			TopK:            40,
		},
	})
	if err != nil {
		return "", err
	}

	// API key 放在標頭，避免出現在錯誤訊息的 URL 裡
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Model))

	_, respBody, err := doWithRetry(ctx, g.cfg.Attempts, g.cfg.RetryDelay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", g.cfg.APIKey)
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, b, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini api error: %w", err)
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}
	return result.firstText(), nil
}

func stance(topic string, side protocol.Side) string {
	if side == protocol.SidePro {
		return fmt.Sprintf("The debate topic is: %s. Your task is to argue in favor of this position.", topic)
	}
	return fmt.Sprintf("The debate topic is: %s. Your task is to argue against this position.", topic)
}

func prompt(topic string, side protocol.Side, prior string) string {
	direction := "in favor of"
	if side == protocol.SideCon {
		direction = "against"
	}
	if strings.TrimSpace(prior) == "" {
		return fmt.Sprintf("Present your opening argument %s %q. Be concise but persuasive, focusing on the strongest arguments. Keep your response under 30 words or use 2 clear points.", direction, topic)
	}
	return fmt.Sprintf("Your opponent said: %q. Respond with a counter-argument %s %q. Keep your response under 30 words and address their point directly.", prior, direction, topic)
}
