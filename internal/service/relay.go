// Package service implements the core relay forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"workflow-relay/internal/client"
	"workflow-relay/internal/config"
	"workflow-relay/internal/model"
)

// ErrNotConfigured is returned when the upstream URL or API key is missing.
var ErrNotConfigured = errors.New("upstream url or api key not configured")

// APIKeyHeader carries the workflow credential on outbound requests.
const APIKeyHeader = "X-Workflow-Api-Key"

const userAgent = "workflow-relay/1.0"

// emptyObject is forwarded when the inbound body is empty.
var emptyObject = json.RawMessage(`{}`)

// RelayService forwards inbound payloads to the configured workflow endpoint.
type RelayService struct {
	client   *client.UpstreamClient
	upstream config.UpstreamConfig
	logger   *slog.Logger
}

// NewRelayService creates a RelayService. The upstream settings are copied
// so later changes to cfg have no effect.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		client:   c,
		upstream: cfg.Upstream,
		logger:   logger.With("component", "relay_service"),
	}
}

// Forward posts the inbound body to the upstream and returns its status with
// the decoded reply. Non-2xx upstream statuses are not errors.
//
// ctx bounds the outbound call; canceling it aborts the request.
func (s *RelayService) Forward(ctx context.Context, raw []byte) (*model.RelayResponse, error) {
	if !s.upstream.Configured() {
		return nil, ErrNotConfigured
	}

	payload := EncodePayload(raw)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(APIKeyHeader, s.upstream.APIKey)
	header.Set("User-Agent", userAgent)

	s.logger.Debug("forwarding request", "bytes", len(payload))

	resp, err := s.client.Post(ctx, s.upstream.URL, header, payload)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	body, err := DecodeUpstream(text)
	if err != nil {
		return nil, fmt.Errorf("encode upstream body: %w", err)
	}

	s.logger.Debug("upstream replied", "status", resp.StatusCode, "bytes", len(text))

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// EncodePayload turns the raw inbound body into the JSON sent upstream.
//
// An empty body becomes {}. A valid JSON document is forwarded unchanged apart
// from insignificant whitespace. Anything else is forwarded as a JSON string
// holding the raw text.
func EncodePayload(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return emptyObject
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.Bytes()
	}
	s, _ := encodeString(string(raw))
	return s
}

// DecodeUpstream returns the upstream body as JSON: the body itself when it
// parses, otherwise its text as a JSON string. An empty body yields "".
func DecodeUpstream(text []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if len(bytes.TrimSpace(text)) > 0 {
		if err := json.Compact(&buf, text); err == nil {
			return buf.Bytes(), nil
		}
	}
	return encodeString(string(text))
}

// encodeString marshals s as a JSON string without HTML escaping.
func encodeString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
