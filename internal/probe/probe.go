package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cdnmon/internal/models"
)

// Adapter polls one server's API flavor and returns a normalized sample.
// Adapters are pure transformations over the network response: they never
// write state. The caller bounds the poll with the request context.
type Adapter interface {
	Poll(ctx context.Context, server models.Server) (models.Metric, error)
}

// Registry selects the adapter matching a server's configured API type.
type Registry struct {
	srs     *SRS
	nginx   *Nginx
	generic *Generic
}

func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{}
	}
	return &Registry{
		srs:     &SRS{client: client},
		nginx:   &Nginx{client: client},
		generic: &Generic{client: client},
	}
}

// For returns the adapter for the given API type. Unrecognized types fall
// back to the generic HTTP health check, matching how unconfigured servers
// were probed historically.
func (r *Registry) For(apiType string) Adapter {
	switch apiType {
	case models.APITypeSRS:
		return r.srs
	case models.APITypeNginx:
		return r.nginx
	default:
		return r.generic
	}
}

// Streams lists live streams. Only SRS servers expose a stream API.
func (r *Registry) Streams(ctx context.Context, server models.Server) ([]models.StreamInfo, error) {
	if server.APIType != models.APITypeSRS {
		return nil, fmt.Errorf("server %s has no stream API (type %s)", server.Hostname, server.APIType)
	}
	return r.srs.Streams(ctx, server)
}

const maxBodySize = 4 << 20

// get issues one authenticated request and classifies the failure modes.
// Exactly one auth scheme is applied: a configured token takes precedence
// over basic credentials.
func get(ctx context.Context, client *http.Client, server models.Server, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &ConnectError{URL: url, Err: err}
	}
	if server.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+server.APIToken)
	} else if server.APIUsername != "" && server.APIPassword != "" {
		req.SetBasicAuth(server.APIUsername, server.APIPassword)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, "", &ConnectError{URL: url, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, "", &ConnectError{URL: url, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", &HTTPError{URL: url, StatusCode: res.StatusCode}
	}
	return body, res.Header.Get("Content-Type"), nil
}

// endpointURL resolves the base URL to poll: the configured API endpoint, or
// plain http://addr:port when none is set.
func endpointURL(server models.Server) string {
	if server.APIEndpoint != "" {
		return strings.TrimRight(server.APIEndpoint, "/")
	}
	return fmt.Sprintf("http://%s:%d", server.IPAddress, server.Port)
}
