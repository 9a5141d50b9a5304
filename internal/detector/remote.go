package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RemoteDetector calls an external ML scoring service over HTTP.
// It retries transient failures (network errors and 5xx) with a fixed delay
// and downgrades any terminal failure to a zero-confidence verdict so the
// policy layer stays in charge of fail-open versus fail-closed.
type RemoteDetector struct {
	endpoint string
	apiKey   string
	attempts int
	delay    time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// RemoteConfig configures the remote scorer connection.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Retries  int
	Delay    time.Duration
}

// NewRemoteDetector creates an HTTP-backed detector.
func NewRemoteDetector(cfg RemoteConfig, logger *zap.Logger) *RemoteDetector {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	delay := cfg.Delay
	if delay == 0 {
		delay = 250 * time.Millisecond
	}
	return &RemoteDetector{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		attempts: cfg.Retries,
		delay:    delay,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (d *RemoteDetector) Name() string { return "remote" }

type remoteRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	UserID string `json:"user_id,omitempty"`
	Model  string `json:"model,omitempty"`
}

type remoteResponse struct {
	RiskScore       float64    `json:"risk_score"`
	Confidence      float64    `json:"confidence"`
	ThreatType      ThreatType `json:"threat_type"`
	PredictedAction string     `json:"predicted_action"`
	Explanation     string     `json:"explanation"`
}

// Analyze posts the content to the scorer. Never returns a hard failure:
// a dead or misbehaving scorer yields a zero-confidence verdict.
func (d *RemoteDetector) Analyze(ctx context.Context, content string, reqCtx Context) (*Verdict, error) {
	start := time.Now()

	resp, err := d.call(ctx, remoteRequest{
		Text:   content,
		Source: reqCtx.Source,
		UserID: reqCtx.UserID,
		Model:  reqCtx.Model,
	})
	if err != nil {
		d.logger.Warn("remote detector unavailable, downgrading to zero confidence",
			zap.String("endpoint", d.endpoint),
			zap.Error(err),
		)
		v := ZeroConfidence(content, "remote scorer unavailable: "+err.Error())
		v.ProcessingTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
		return v, nil
	}

	v := &Verdict{
		RiskScore:       resp.RiskScore,
		Confidence:      resp.Confidence,
		ThreatType:      resp.ThreatType,
		PredictedAction: PredictedAction(resp.PredictedAction),
		Explanation:     resp.Explanation,
		Features:        ComputeFeatures(content),
	}
	v.Features.InjectionPatterns = injectionScanner.matchCount(content)
	v.Normalize()
	v.ProcessingTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	return v, nil
}

func (d *RemoteDetector) call(ctx context.Context, body remoteRequest) (*remoteResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling scorer request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating scorer request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if d.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.apiKey)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
			lastErr = fmt.Errorf("scorer returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("scorer returned status %d: %s", resp.StatusCode, string(respBody))
		}

		var out remoteResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding scorer response: %w", err)
		}
		return &out, nil
	}
	return nil, lastErr
}
