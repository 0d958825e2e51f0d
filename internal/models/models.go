package models

import "time"

// Server roles.
const (
	RoleOrigin       = "origin"
	RoleEdge         = "edge"
	RoleLoadBalancer = "load-balancer"
)

// API flavors a server can expose.
const (
	APITypeSRS     = "srs"
	APITypeNginx   = "nginx"
	APITypeGeneric = "http"
)

// Health states.
const (
	StatusUp      = "up"
	StatusDown    = "down"
	StatusUnknown = "unknown"
)

// Alert types.
const (
	AlertServerDown       = "server_down"
	AlertCPUHigh          = "cpu_high"
	AlertMemoryHigh       = "memory_high"
	AlertConnectionFailed = "connection_failed"
	AlertAPIError         = "api_error"
)

// Alert severities, ordered weakest to strongest.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// SeverityRank orders severities so the alert engine can detect escalation.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Server is one registered CDN node. Configuration fields are owned by the
// registry and read-only to the polling pipeline; Status and StatusChangedAt
// are written only through Repository.SetStatus.
type Server struct {
	ID              int64      `json:"id"`
	Hostname        string     `json:"hostname"`
	IPAddress       string     `json:"ip_address"`
	Port            int        `json:"port"`
	Role            string     `json:"role"`
	Status          string     `json:"status"`
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	APIEndpoint     string     `json:"api_endpoint"`
	APIType         string     `json:"api_type"`
	APIToken        string     `json:"-"`
	APIUsername     string     `json:"-"`
	APIPassword     string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Metric is one polling outcome for one server at one instant. Exactly one
// row is appended per server per completed poll attempt, failed attempts
// included. Nil cpu/memory means the source did not report the value.
type Metric struct {
	ID       int64     `json:"id"`
	ServerID int64     `json:"server_id"`
	TS       time.Time `json:"timestamp"`

	CPUUsage    *float64 `json:"cpu_usage"`    // percent, 0-100
	MemoryUsage *float64 `json:"memory_usage"` // percent, 0-100
	MemoryTotal int64    `json:"memory_total"` // bytes
	MemoryUsed  int64    `json:"memory_used"`  // bytes

	ActiveConnections int `json:"active_connections"`
	HLSConnections    int `json:"hls_connections"`

	BytesSent     int64   `json:"bytes_sent"`
	BytesReceived int64   `json:"bytes_received"`
	BandwidthIn   float64 `json:"bandwidth_in"`  // Mbps
	BandwidthOut  float64 `json:"bandwidth_out"` // Mbps
	StreamCount   int     `json:"stream_count"`

	Uptime       int64   `json:"uptime"`        // seconds
	ResponseTime float64 `json:"response_time"` // milliseconds
	ErrorCount   int     `json:"error_count"`
}

// Alert references its server with a pointer because alerts outlive server
// deletion: the reference is detached, the row is kept.
type Alert struct {
	ID             int64      `json:"id"`
	ServerID       *int64     `json:"server_id"`
	AlertType      string     `json:"alert_type"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	Acknowledged   bool       `json:"acknowledged"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// StreamInfo is one live stream on an SRS server.
type StreamInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	App      string  `json:"app"`
	Clients  int     `json:"clients"`
	Active   bool    `json:"active"`
	SendKbps float64 `json:"send_kbps"`
	RecvKbps float64 `json:"recv_kbps"`
}

// Snapshot is the cluster-wide rollup served to the dashboard. Ephemeral,
// recomputed on every read from the latest metric per server.
type Snapshot struct {
	TotalServers     int            `json:"total_servers"`
	StatusCounts     map[string]int `json:"status_counts"`
	RoleCounts       map[string]int `json:"role_counts"`
	TotalConnections int            `json:"total_connections"`
	TotalStreams     int            `json:"total_streams"`
	TotalBandwidthIn float64        `json:"total_bandwidth_in"`
	TotalBandwidthUp float64        `json:"total_bandwidth_out"`
}
