package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdnmon/internal/models"
	"cdnmon/internal/probe"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"clean poll", nil, models.StatusUp},
		{"connect refused", &probe.ConnectError{URL: "http://x", Err: errors.New("connection refused")}, models.StatusDown},
		{"http 500", &probe.HTTPError{URL: "http://x", StatusCode: 500}, models.StatusDown},
		{"http 503", &probe.HTTPError{URL: "http://x", StatusCode: 503}, models.StatusDown},
		{"http 401", &probe.HTTPError{URL: "http://x", StatusCode: 401}, models.StatusUnknown},
		{"http 404", &probe.HTTPError{URL: "http://x", StatusCode: 404}, models.StatusUnknown},
		{"parse failure", &probe.ParseError{URL: "http://x", Err: errors.New("bad json")}, models.StatusUnknown},
		{"unclassified", errors.New("boom"), models.StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestEvaluateTransitionToDown(t *testing.T) {
	e := NewEvaluator()
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	server := models.Server{ID: 4, Hostname: "edge-4", Status: models.StatusUp}
	res := e.Evaluate(server, &probe.ConnectError{URL: "http://edge-4", Err: errors.New("timeout")})

	assert.Equal(t, models.StatusDown, res.Status)
	assert.True(t, res.Transitioned)
	require.NotNil(t, res.DownAlert)
	assert.Equal(t, models.AlertServerDown, res.DownAlert.AlertType)
	assert.Equal(t, models.SeverityCritical, res.DownAlert.Severity)
	require.NotNil(t, res.DownAlert.ServerID)
	assert.Equal(t, int64(4), *res.DownAlert.ServerID)
	assert.Contains(t, res.DownAlert.Message, "edge-4")
}

func TestEvaluateDownStaysDownWithoutNewAlert(t *testing.T) {
	e := NewEvaluator()
	server := models.Server{ID: 4, Hostname: "edge-4", Status: models.StatusDown}
	res := e.Evaluate(server, &probe.ConnectError{URL: "http://edge-4", Err: errors.New("timeout")})

	assert.Equal(t, models.StatusDown, res.Status)
	assert.False(t, res.Transitioned)
	assert.Nil(t, res.DownAlert)
}

func TestEvaluateRecovery(t *testing.T) {
	e := NewEvaluator()
	server := models.Server{ID: 4, Status: models.StatusDown}
	res := e.Evaluate(server, nil)

	assert.Equal(t, models.StatusUp, res.Status)
	assert.True(t, res.Transitioned)
	assert.Nil(t, res.DownAlert)
}

func TestEvaluateFreshServerGoesUnknownOnParseError(t *testing.T) {
	e := NewEvaluator()
	server := models.Server{ID: 9, Status: models.StatusUnknown}
	res := e.Evaluate(server, &probe.ParseError{URL: "http://x", Err: errors.New("bad json")})

	assert.Equal(t, models.StatusUnknown, res.Status)
	assert.False(t, res.Transitioned)
	assert.Nil(t, res.DownAlert)
}
