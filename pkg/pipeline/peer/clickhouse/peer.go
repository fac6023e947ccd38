package clickhouse

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
)

var errNotConnected = errors.New("ClickHouse peer not connected")

// Config selects the server and the table results are appended to.
type Config struct {
	Addr     []string `json:"addr"`
	Database string   `json:"database"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Table    string   `json:"table"`
	// CreateTable creates the results table on connect if it does not exist
	CreateTable bool `json:"createTable"`
}

func (c *Config) setDefaults() {
	if len(c.Addr) == 0 {
		c.Addr = []string{cmp.Or(os.Getenv("TXACTION_CLICKHOUSE_ADDR"), "localhost:9000")}
	}
	c.Database = cmp.Or(c.Database, os.Getenv("TXACTION_CLICKHOUSE_DATABASE"), "default")
	c.Username = cmp.Or(c.Username, os.Getenv("TXACTION_CLICKHOUSE_USERNAME"), "default")
	c.Password = cmp.Or(c.Password, os.Getenv("TXACTION_CLICKHOUSE_PASSWORD"))
	c.Table = cmp.Or(c.Table, "txaction_results")
}

func (c *Config) table() string {
	return fmt.Sprintf("`%s`.`%s`", c.Database, c.Table)
}

func (c *Config) ddl() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tx_id     String,
	action    LowCardinality(String),
	kind      LowCardinality(String),
	entity    LowCardinality(String),
	record    String,
	loaded_at DateTime64(3)
) ENGINE = MergeTree
ORDER BY (action, tx_id)`, c.table())
}

// PeerClickHouse appends every entity of a result as one row of an
// append-only log, keeping deletes and updates as rows of their own kind.
type PeerClickHouse struct {
	conn   driver.Conn
	config Config
}

func (p *PeerClickHouse) Connect(config json.RawMessage, _ ...any) error {
	var cfg Config
	if len(config) > 0 && string(config) != "null" {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return fmt.Errorf("failed to parse ClickHouse config: %w", err)
		}
	}
	cfg.setDefaults()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if cfg.CreateTable {
		if err := conn.Exec(ctx, cfg.ddl()); err != nil {
			conn.Close()
			return fmt.Errorf("failed to create table %s: %w", cfg.table(), err)
		}
	}

	p.conn = conn
	p.config = cfg
	return nil
}

// Pub appends the result's entities in a single batch.
func (p *PeerClickHouse) Pub(result action.Result, _ ...any) error {
	if p.conn == nil {
		return errNotConnected
	}

	rows, err := resultRows(result, time.Now())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ctx := context.Background()
	batch, err := p.conn.PrepareBatch(ctx, "INSERT INTO "+p.config.table())
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer batch.Close()

	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append tx %s: %w", result.TxID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert into ClickHouse: %w", err)
	}
	return nil
}

// resultRows renders one row per entity in column order.
func resultRows(result action.Result, loadedAt time.Time) ([][]any, error) {
	rows := make([][]any, 0, len(result.Entities))
	for _, e := range result.Entities {
		record, err := json.Marshal(e.Record)
		if err != nil {
			return nil, fmt.Errorf("marshal entity %s: %w", e.Name, err)
		}
		rows = append(rows, []any{
			result.TxID,
			result.Action,
			string(result.Kind),
			e.Name,
			string(record),
			loadedAt,
		})
	}
	return rows, nil
}

func (p *PeerClickHouse) Sub(_ ...any) (<-chan cdc.Event, error) {
	return nil, pipeline.ErrConnectorTypeMismatch
}

func (p *PeerClickHouse) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePub
}

func (p *PeerClickHouse) Disconnect() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorClickHouse, &PeerClickHouse{})
}
