package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cdnmon/internal/models"
)

// Nginx polls either the stub_status plaintext page or, when the endpoint
// answers with JSON, an extended status module. NGINX has no stream or
// bandwidth concept, so those fields stay zero in every sample.
type Nginx struct {
	client *http.Client
}

type stubStatus struct {
	ActiveConnections int
	Accepts           int64
	Handled           int64
	Requests          int64
	Reading           int
	Writing           int
	Waiting           int
}

func (a *Nginx) Poll(ctx context.Context, server models.Server) (models.Metric, error) {
	url := endpointURL(server)
	start := time.Now()
	body, contentType, err := get(ctx, a.client, server, url)
	if err != nil {
		return models.Metric{}, err
	}
	m := models.Metric{
		ServerID:     server.ID,
		TS:           time.Now().UTC(),
		ResponseTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}

	if strings.Contains(contentType, "application/json") {
		var ext struct {
			Connections *int     `json:"connections"`
			CPU         *float64 `json:"cpu"`
			Memory      *float64 `json:"memory"`
		}
		if err := json.Unmarshal(body, &ext); err != nil {
			return models.Metric{}, &ParseError{URL: url, Err: err}
		}
		if ext.Connections != nil {
			m.ActiveConnections = *ext.Connections
		}
		m.CPUUsage = ext.CPU
		m.MemoryUsage = ext.Memory
		return m, nil
	}

	status, err := parseStubStatus(string(body))
	if err != nil {
		return models.Metric{}, &ParseError{URL: url, Err: err}
	}
	m.ActiveConnections = status.ActiveConnections
	return m, nil
}

// parseStubStatus reads the three-line stub_status format:
//
//	Active connections: 291
//	server accepts handled requests
//	 16630948 16630948 31070465
//	Reading: 6 Writing: 179 Waiting: 106
func parseStubStatus(text string) (stubStatus, error) {
	var out stubStatus
	seenActive := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Active connections:"):
			v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Active connections:")))
			if err != nil {
				return stubStatus{}, err
			}
			out.ActiveConnections = v
			seenActive = true
		case strings.HasPrefix(line, "Reading:"):
			fields := strings.Fields(line)
			// "Reading: r Writing: w Waiting: q"
			for i := 0; i+1 < len(fields); i += 2 {
				v, err := strconv.Atoi(fields[i+1])
				if err != nil {
					return stubStatus{}, err
				}
				switch fields[i] {
				case "Reading:":
					out.Reading = v
				case "Writing:":
					out.Writing = v
				case "Waiting:":
					out.Waiting = v
				}
			}
		default:
			fields := strings.Fields(line)
			if len(fields) == 3 && isDigits(fields[0]) {
				out.Accepts, _ = strconv.ParseInt(fields[0], 10, 64)
				out.Handled, _ = strconv.ParseInt(fields[1], 10, 64)
				out.Requests, _ = strconv.ParseInt(fields[2], 10, 64)
			}
		}
	}
	if !seenActive {
		return stubStatus{}, errMalformedStub
	}
	return out, nil
}

var errMalformedStub = errors.New("missing Active connections line")

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
