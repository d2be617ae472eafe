package meeting

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type issueRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type issueResponse struct {
	JoinURL string `json:"join_url"`
}

// HTTPIssuer asks an external meeting service for a room. The appointment id
// doubles as the Idempotency-Key so retries never open a second meeting.
type HTTPIssuer struct {
	endpoint string
	client   *http.Client
}

func NewHTTPIssuer(endpoint string, timeout time.Duration) *HTTPIssuer {
	return &HTTPIssuer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTPIssuer) Issue(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	body, err := json.Marshal(issueRequest{AppointmentID: appointmentID.String()})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", appointmentID.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call meeting service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read meeting service response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return "", fmt.Errorf("meeting service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out issueResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRejected, err)
	}
	if out.JoinURL == "" {
		return "", fmt.Errorf("%w: response has no join_url", ErrRejected)
	}
	return out.JoinURL, nil
}
