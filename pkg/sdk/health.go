package splitsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the aggregated node health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded", "error"
	Checks map[string]string `json:"checks"` // component → "ok"/"error"
}

// Healthy reports whether every component answered.
func (h HealthStatus) Healthy() bool { return h.Status == "ok" }

// Health checks the health of the node and its peers. An unhealthy node is not an
// error: its report is returned as is.
func (c *Client) Health(ctx context.Context) (hs HealthStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("health", start, 0, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL.JoinPath("health").String(), nil)
	if err != nil {
		return HealthStatus{}, err
	}
	resp, err := c.send(req, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, fmt.Errorf("splitsearch: decode health: %w", err)
	}
	return hs, nil
}
