package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cdnmon/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

const serverColumns = `id,hostname,ip_address,port,role,status,status_changed_at,api_endpoint,api_type,api_token,api_username,api_password,created_at,updated_at`

func scanServer(row interface{ Scan(...any) error }) (models.Server, error) {
	var s models.Server
	var changed sql.NullTime
	err := row.Scan(&s.ID, &s.Hostname, &s.IPAddress, &s.Port, &s.Role, &s.Status, &changed,
		&s.APIEndpoint, &s.APIType, &s.APIToken, &s.APIUsername, &s.APIPassword, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return models.Server{}, err
	}
	if changed.Valid {
		t := changed.Time
		s.StatusChangedAt = &t
	}
	return s, nil
}

func (r *Repository) ListServers(ctx context.Context) ([]models.Server, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY hostname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetServer(ctx context.Context, id int64) (models.Server, error) {
	s, err := scanServer(r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) ServerByHostname(ctx context.Context, hostname string) (models.Server, error) {
	s, err := scanServer(r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE hostname=?`, hostname))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) CreateServer(ctx context.Context, s models.Server) (int64, error) {
	now := time.Now().UTC()
	status := s.Status
	if status == "" {
		status = models.StatusUnknown
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO servers
		(hostname,ip_address,port,role,status,api_endpoint,api_type,api_token,api_username,api_password,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.Hostname, s.IPAddress, s.Port, s.Role, status, s.APIEndpoint, s.APIType, s.APIToken, s.APIUsername, s.APIPassword, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) UpdateServer(ctx context.Context, s models.Server) error {
	res, err := r.db.ExecContext(ctx, `UPDATE servers SET
		hostname=?,ip_address=?,port=?,role=?,api_endpoint=?,api_type=?,api_token=?,api_username=?,api_password=?,updated_at=?
		WHERE id=?`,
		s.Hostname, s.IPAddress, s.Port, s.Role, s.APIEndpoint, s.APIType, s.APIToken, s.APIUsername, s.APIPassword, time.Now().UTC(), s.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// DeleteServer removes the server row. Metrics cascade away with it; alert
// rows are kept with their server reference nulled by the schema.
func (r *Repository) DeleteServer(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM servers WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// SetStatus is the single mutation path for server health state.
func (r *Repository) SetStatus(ctx context.Context, id int64, status string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE servers SET status=?, status_changed_at=? WHERE id=?`, status, at.UTC(), id)
	return err
}

const metricColumns = `id,server_id,ts,cpu_usage,memory_usage,memory_total,memory_used,active_connections,hls_connections,bytes_sent,bytes_received,bandwidth_in,bandwidth_out,stream_count,uptime,response_time,error_count`

func scanMetric(row interface{ Scan(...any) error }) (models.Metric, error) {
	var m models.Metric
	var cpu, mem sql.NullFloat64
	err := row.Scan(&m.ID, &m.ServerID, &m.TS, &cpu, &mem, &m.MemoryTotal, &m.MemoryUsed,
		&m.ActiveConnections, &m.HLSConnections, &m.BytesSent, &m.BytesReceived,
		&m.BandwidthIn, &m.BandwidthOut, &m.StreamCount, &m.Uptime, &m.ResponseTime, &m.ErrorCount)
	if err != nil {
		return models.Metric{}, err
	}
	if cpu.Valid {
		v := cpu.Float64
		m.CPUUsage = &v
	}
	if mem.Valid {
		v := mem.Float64
		m.MemoryUsage = &v
	}
	return m, nil
}

// AppendMetric writes one complete sample in a single insert. A sample is
// never partially visible to readers.
func (r *Repository) AppendMetric(ctx context.Context, m models.Metric) (int64, error) {
	var cpu, mem any
	if m.CPUUsage != nil {
		cpu = *m.CPUUsage
	}
	if m.MemoryUsage != nil {
		mem = *m.MemoryUsage
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO metrics
		(server_id,ts,cpu_usage,memory_usage,memory_total,memory_used,active_connections,hls_connections,
		 bytes_sent,bytes_received,bandwidth_in,bandwidth_out,stream_count,uptime,response_time,error_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ServerID, m.TS.UTC(), cpu, mem, m.MemoryTotal, m.MemoryUsed, m.ActiveConnections, m.HLSConnections,
		m.BytesSent, m.BytesReceived, m.BandwidthIn, m.BandwidthOut, m.StreamCount, m.Uptime, m.ResponseTime, m.ErrorCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) LatestMetric(ctx context.Context, serverID int64) (models.Metric, error) {
	m, err := scanMetric(r.db.QueryRowContext(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE server_id=? ORDER BY ts DESC, id DESC LIMIT 1`, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Metric{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) RecentMetrics(ctx context.Context, serverID int64, since time.Time, limit int) ([]models.Metric, error) {
	if limit <= 0 || limit > 1000 {
		limit = 288
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE server_id=? AND ts >= ? ORDER BY ts DESC LIMIT ?`,
		serverID, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Metric, 0, limit)
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetricCount exists for tests asserting the one-sample-per-cycle invariant.
func (r *Repository) MetricCount(ctx context.Context, serverID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics WHERE server_id=?`, serverID).Scan(&n)
	return n, err
}

func (r *Repository) AppendAlert(ctx context.Context, a models.Alert) (int64, error) {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var serverID any
	if a.ServerID != nil {
		serverID = *a.ServerID
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (server_id,alert_type,severity,message,acknowledged,created_at) VALUES (?,?,?,?,0,?)`,
		serverID, a.AlertType, a.Severity, a.Message, created.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanAlert(row interface{ Scan(...any) error }) (models.Alert, error) {
	var a models.Alert
	var serverID sql.NullInt64
	var acked int
	var ackedAt sql.NullTime
	err := row.Scan(&a.ID, &serverID, &a.AlertType, &a.Severity, &a.Message, &acked, &a.CreatedAt, &ackedAt)
	if err != nil {
		return models.Alert{}, err
	}
	if serverID.Valid {
		v := serverID.Int64
		a.ServerID = &v
	}
	a.Acknowledged = acked == 1
	if ackedAt.Valid {
		t := ackedAt.Time
		a.AcknowledgedAt = &t
	}
	return a, nil
}

// ListOpenAlerts returns unacknowledged alerts, optionally filtered by server
// and alert type. Alerts whose server was deleted are returned with a nil
// server reference.
func (r *Repository) ListOpenAlerts(ctx context.Context, serverID *int64, alertType string) ([]models.Alert, error) {
	query := `SELECT id,server_id,alert_type,severity,message,acknowledged,created_at,acknowledged_at
		FROM alerts WHERE acknowledged=0`
	args := []any{}
	if serverID != nil {
		query += ` AND server_id=?`
		args = append(args, *serverID)
	}
	if alertType != "" {
		query += ` AND alert_type=?`
		args = append(args, alertType)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,server_id,alert_type,severity,message,acknowledged,created_at,acknowledged_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Alert, 0, limit)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert sets the flag and timestamp. The operation is never
// reversed; acknowledging an already-acknowledged alert is a no-op.
func (r *Repository) AcknowledgeAlert(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged=1, acknowledged_at=? WHERE id=? AND acknowledged=0`, at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if qerr := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE id=?`, id).Scan(&exists); qerr != nil {
			return qerr
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ServerRollup is one row of the latest-per-server view consumed by the
// snapshot builder: the server's current health plus its most recent sample,
// read in a single statement.
type ServerRollup struct {
	ServerID    int64
	Role        string
	Status      string
	Connections int
	Streams     int
	BandwidthIn float64
	BandwidthUp float64
}

func (r *Repository) LatestPerServer(ctx context.Context) ([]ServerRollup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT s.id, s.role, s.status,
		COALESCE(m.active_connections,0), COALESCE(m.stream_count,0),
		COALESCE(m.bandwidth_in,0), COALESCE(m.bandwidth_out,0)
		FROM servers s
		LEFT JOIN metrics m ON m.id = (
			SELECT id FROM metrics WHERE server_id = s.id ORDER BY ts DESC, id DESC LIMIT 1
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ServerRollup
	for rows.Next() {
		var row ServerRollup
		if err := rows.Scan(&row.ServerID, &row.Role, &row.Status, &row.Connections, &row.Streams, &row.BandwidthIn, &row.BandwidthUp); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteOlderThan purges expired metric samples and acknowledged alerts.
// Open alerts are never swept.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	queries := []string{
		`DELETE FROM metrics WHERE ts < ?`,
		`DELETE FROM alerts WHERE created_at < ? AND acknowledged=1`,
	}
	for _, q := range queries {
		if _, err := r.db.ExecContext(ctx, q, cutoff.UTC()); err != nil {
			return err
		}
	}
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
	return nil
}
