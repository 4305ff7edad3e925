package obs

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink durably mirrors raw histogram observations to ClickHouse,
// for offline percentile audits beyond the in-process 10k-sample buffer
// (e.g. computing p99.9 over a week of traffic). Counters are not mirrored;
// ClickHouse is a raw-observation log, not a counter store.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseSink opens a connection and ensures the observations table
// exists. addr is a single ClickHouse host:port.
func NewClickHouseSink(ctx context.Context, addr, database, username, password string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS metric_observations (
	observed_at DateTime64(3),
	name String,
	value Float64,
	labels Map(String, String)
) ENGINE = MergeTree()
ORDER BY (name, observed_at)
TTL observed_at + INTERVAL 30 DAY
`
	if err := conn.Exec(ctx, ddl); err != nil {
		return nil, err
	}
	return &ClickHouseSink{conn: conn, table: "metric_observations"}, nil
}

// IncCounter is a no-op: ClickHouseSink only durably logs histogram samples.
func (s *ClickHouseSink) IncCounter(name string, labels map[string]string) {}

func (s *ClickHouseSink) ObserveHistogram(name string, value float64, labels map[string]string) {
	if s == nil || s.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best-effort: a ClickHouse hiccup must never affect the request path,
	// matching the registry's fail-open contract.
	_ = s.conn.Exec(ctx,
		`INSERT INTO metric_observations (observed_at, name, value, labels) VALUES (?, ?, ?, ?)`,
		time.Now(), name, value, labels)
}

func (s *ClickHouseSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
