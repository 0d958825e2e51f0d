package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cdnmon/internal/models"
)

// SRS polls the Simple Realtime Server HTTP API. The summaries endpoint is
// the primary source: when it fails the whole poll fails. The client and
// stream lists only enrich the sample, so losing either degrades those
// fields to zero instead of failing the poll.
type SRS struct {
	client *http.Client
}

type srsSummaries struct {
	Code int `json:"code"`
	Data struct {
		Self struct {
			Version    string  `json:"version"`
			CPUPercent float64 `json:"cpu_percent"`
			MemKbyte   int64   `json:"mem_kbyte"`
			MemPercent float64 `json:"mem_percent"`
			SrsUptime  float64 `json:"srs_uptime"`
		} `json:"self"`
		System struct {
			CPUPercent    float64 `json:"cpu_percent"`
			MemRAMKbyte   int64   `json:"mem_ram_kbyte"`
			MemRAMPercent float64 `json:"mem_ram_percent"`
			Uptime        float64 `json:"uptime"`
		} `json:"system"`
	} `json:"data"`
}

type srsClients struct {
	Code    int `json:"code"`
	Clients []struct {
		ID   json.Number `json:"id"`
		Type string      `json:"type"`
	} `json:"clients"`
}

type srsStream struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	App     string      `json:"app"`
	Clients int         `json:"clients"`
	Kbps    struct {
		Recv30s float64 `json:"recv_30s"`
		Send30s float64 `json:"send_30s"`
	} `json:"kbps"`
	Bytes struct {
		Recv int64 `json:"recv"`
		Send int64 `json:"send"`
	} `json:"bytes"`
	SendBytes int64 `json:"send_bytes"`
	RecvBytes int64 `json:"recv_bytes"`
	Publish   struct {
		Active bool `json:"active"`
	} `json:"publish"`
}

type srsStreams struct {
	Code    int         `json:"code"`
	Streams []srsStream `json:"streams"`
}

func (a *SRS) Poll(ctx context.Context, server models.Server) (models.Metric, error) {
	base := endpointURL(server)
	start := time.Now()
	body, _, err := get(ctx, a.client, server, base+"/api/v1/summaries")
	if err != nil {
		return models.Metric{}, err
	}
	responseTime := float64(time.Since(start).Microseconds()) / 1000.0

	var sum srsSummaries
	if err := json.Unmarshal(body, &sum); err != nil {
		return models.Metric{}, &ParseError{URL: base + "/api/v1/summaries", Err: err}
	}

	m := models.Metric{
		ServerID:     server.ID,
		TS:           time.Now().UTC(),
		ResponseTime: responseTime,
		Uptime:       int64(sum.Data.System.Uptime),
	}
	// SRS reports percentages as fractions of 1.
	cpu := clampPct(sum.Data.System.CPUPercent * 100)
	m.CPUUsage = &cpu
	memPct := clampPct(sum.Data.System.MemRAMPercent * 100)
	m.MemoryUsage = &memPct
	m.MemoryTotal = sum.Data.System.MemRAMKbyte * 1024
	m.MemoryUsed = int64(float64(m.MemoryTotal) * sum.Data.System.MemRAMPercent)
	if m.Uptime == 0 {
		m.Uptime = int64(sum.Data.Self.SrsUptime)
	}

	if clients, err := a.fetchClients(ctx, server, base); err == nil {
		m.ActiveConnections = len(clients.Clients)
		for _, c := range clients.Clients {
			if strings.HasPrefix(c.Type, "hls") {
				m.HLSConnections++
			}
		}
	}

	if streams, err := a.fetchStreams(ctx, server, base); err == nil {
		var kbpsIn, kbpsOut float64
		for _, st := range streams {
			kbpsIn += st.Kbps.Recv30s
			kbpsOut += st.Kbps.Send30s
			m.BytesReceived += streamRecvBytes(st)
			m.BytesSent += streamSendBytes(st)
			if st.Publish.Active {
				m.StreamCount++
			}
		}
		m.BandwidthIn = kbpsIn / 1000
		m.BandwidthOut = kbpsOut / 1000
	}
	return m, nil
}

// Streams returns the live stream list for the web layer's per-server view.
func (a *SRS) Streams(ctx context.Context, server models.Server) ([]models.StreamInfo, error) {
	raw, err := a.fetchStreams(ctx, server, endpointURL(server))
	if err != nil {
		return nil, err
	}
	out := make([]models.StreamInfo, 0, len(raw))
	for _, st := range raw {
		out = append(out, models.StreamInfo{
			ID:       st.ID.String(),
			Name:     st.Name,
			App:      st.App,
			Clients:  st.Clients,
			Active:   st.Publish.Active,
			SendKbps: st.Kbps.Send30s,
			RecvKbps: st.Kbps.Recv30s,
		})
	}
	return out, nil
}

func (a *SRS) fetchClients(ctx context.Context, server models.Server, base string) (srsClients, error) {
	body, _, err := get(ctx, a.client, server, base+"/api/v1/clients")
	if err != nil {
		return srsClients{}, err
	}
	var out srsClients
	if err := json.Unmarshal(body, &out); err != nil {
		return srsClients{}, &ParseError{URL: base + "/api/v1/clients", Err: err}
	}
	return out, nil
}

func (a *SRS) fetchStreams(ctx context.Context, server models.Server, base string) ([]srsStream, error) {
	url := base + "/api/v1/streams"
	body, _, err := get(ctx, a.client, server, url)
	if err != nil {
		return nil, err
	}
	var out srsStreams
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}
	if out.Streams != nil {
		return out.Streams, nil
	}
	// Some SRS builds return the list bare or nested under data.streams.
	var bare []srsStream
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}
	var nested struct {
		Data srsStreams `json:"data"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Data.Streams != nil {
		return nested.Data.Streams, nil
	}
	return nil, nil
}

func streamRecvBytes(st srsStream) int64 {
	if st.Bytes.Recv > 0 {
		return st.Bytes.Recv
	}
	return st.RecvBytes
}

func streamSendBytes(st srsStream) int64 {
	if st.Bytes.Send > 0 {
		return st.Bytes.Send
	}
	return st.SendBytes
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
