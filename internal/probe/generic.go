package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cdnmon/internal/models"
)

// Generic is a plain HTTP health check for servers without a recognized API.
// A successful response is evidence enough; when the body happens to be JSON
// carrying connections/cpu/memory those are picked up opportunistically.
type Generic struct {
	client *http.Client
}

func (a *Generic) Poll(ctx context.Context, server models.Server) (models.Metric, error) {
	url := endpointURL(server)
	start := time.Now()
	body, _, err := get(ctx, a.client, server, url)
	if err != nil {
		return models.Metric{}, err
	}
	m := models.Metric{
		ServerID:     server.ID,
		TS:           time.Now().UTC(),
		ResponseTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}
	var ext struct {
		Connections *int     `json:"connections"`
		CPU         *float64 `json:"cpu"`
		Memory      *float64 `json:"memory"`
	}
	if jsonErr := json.Unmarshal(body, &ext); jsonErr == nil {
		if ext.Connections != nil {
			m.ActiveConnections = *ext.Connections
		}
		m.CPUUsage = ext.CPU
		m.MemoryUsage = ext.Memory
	}
	return m, nil
}
