package probe

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdnmon/internal/models"
)

func TestGenericPollHealthCheckOnly(t *testing.T) {
	srv := srsTestServer(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		},
	})

	reg := NewRegistry(srv.Client())
	server := models.Server{ID: 5, APIType: models.APITypeGeneric, APIEndpoint: srv.URL}
	m, err := reg.For(models.APITypeGeneric).Poll(context.Background(), server)
	require.NoError(t, err)

	// A non-JSON body is still a healthy response.
	assert.Equal(t, int64(5), m.ServerID)
	assert.Nil(t, m.CPUUsage)
	assert.Zero(t, m.ActiveConnections)
}

func TestGenericPollPicksUpJSONGauges(t *testing.T) {
	srv := srsTestServer(t, map[string]http.HandlerFunc{
		"/": jsonHandler(`{"connections": 9, "cpu": 33.0, "memory": 44.0}`),
	})

	reg := NewRegistry(srv.Client())
	server := models.Server{APIType: models.APITypeGeneric, APIEndpoint: srv.URL}
	m, err := reg.For(models.APITypeGeneric).Poll(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, 9, m.ActiveConnections)
	require.NotNil(t, m.CPUUsage)
	assert.InDelta(t, 33.0, *m.CPUUsage, 0.001)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:1985", endpointURL(models.Server{IPAddress: "10.0.0.1", Port: 1985}))
	assert.Equal(t, "http://example.com:1985", endpointURL(models.Server{APIEndpoint: "http://example.com:1985/"}))
}
