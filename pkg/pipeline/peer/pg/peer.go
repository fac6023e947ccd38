package pg

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pglogrepl"
	pg "github.com/edgeflare/txaction/pkg/pgx"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errNotConnected = errors.New("not connected")

// PeerPG reads changes through logical replication when its connection
// string carries replication=database, and otherwise loads results into
// tables, one database transaction per result.
type PeerPG struct {
	pool *pgxpool.Pool
	conn *pgconn.PgConn
	cfg  Config
	keys sync.Map // table identifier -> []string primary key columns
}

type Config struct {
	ConnString  string           `json:"connString"`
	Replication pglogrepl.Config `json:"replication"`
	// Entities maps result entities to tables. Unlisted entities load into
	// the table of the same name in the public schema.
	Entities map[string]Target `json:"entities"`
	// Upsert loads insert results with INSERT ... ON CONFLICT on the key.
	Upsert bool `json:"upsert"`
}

// Target is the table an entity is loaded into. Key defaults to the table's
// primary key.
type Target struct {
	Schema string   `json:"schema"`
	Table  string   `json:"table"`
	Key    []string `json:"key"`
}

func (p *PeerPG) Connect(config json.RawMessage, _ ...any) error {
	if err := json.Unmarshal(config, &p.cfg); err != nil {
		return fmt.Errorf("config parse: %w", err)
	}

	connConfig, err := pgx.ParseConfig(p.cfg.ConnString)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	// for replication connection ensure p.conn
	ctx := context.Background()
	if connConfig.RuntimeParams["replication"] == "database" {
		if p.conn, err = pgconn.Connect(ctx, p.cfg.ConnString); err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL server: %w", err)
		}
		return nil
	}

	// otherwise ensure p.pool
	if p.pool, err = pgxpool.New(ctx, p.cfg.ConnString); err != nil {
		return err
	}

	if err = p.pool.Ping(ctx); err != nil {
		p.pool.Close()
		return fmt.Errorf("error connecting to database: %w", err)
	}
	return nil
}

func (p *PeerPG) Sub(_ ...any) (<-chan cdc.Event, error) {
	if p.conn == nil {
		return nil, errNotConnected
	}
	return pglogrepl.Stream(context.Background(), p.conn, &p.cfg.Replication)
}

// Pub writes every entity of the result in a single database transaction.
func (p *PeerPG) Pub(result action.Result, _ ...any) error {
	if p.pool == nil {
		return errNotConnected
	}

	ctx := context.Background()
	dbtx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer dbtx.Rollback(ctx)

	for _, entity := range result.Entities {
		target, err := p.target(ctx, entity.Name)
		if err != nil {
			return err
		}
		if err := p.load(ctx, dbtx, result.Kind, target, entity.Record); err != nil {
			return fmt.Errorf("tx %s: action %s: entity %s: %w", result.TxID, result.Action, entity.Name, err)
		}
	}

	return dbtx.Commit(ctx)
}

func (p *PeerPG) load(ctx context.Context, conn pg.Execer, kind tx.Kind, target Target, row map[string]any) error {
	switch kind {
	case tx.Insert:
		if p.cfg.Upsert {
			return pg.UpsertRow(ctx, conn, target.Table, row, target.Key, target.Schema)
		}
		return pg.InsertRow(ctx, conn, target.Table, row, target.Schema)
	case tx.Update:
		if onlyKey(row, target.Key) {
			return nil
		}
		return pg.UpdateRow(ctx, conn, target.Table, row, target.Key, target.Schema)
	case tx.Delete:
		return pg.DeleteRow(ctx, conn, target.Table, row, target.Key, target.Schema)
	default:
		return fmt.Errorf("unknown operation kind %q", kind)
	}
}

// target resolves the table of an entity, looking up the primary key when
// the configuration does not name one.
func (p *PeerPG) target(ctx context.Context, entity string) (Target, error) {
	target := p.cfg.Entities[entity]
	target.Table = cmp.Or(target.Table, entity)
	target.Schema = cmp.Or(target.Schema, "public")
	if len(target.Key) > 0 {
		return target, nil
	}

	id := target.Schema + "." + target.Table
	if keys, ok := p.keys.Load(id); ok {
		target.Key = keys.([]string)
		return target, nil
	}

	keys, err := pg.PrimaryKeys(ctx, p.pool, target.Schema, target.Table)
	if err != nil {
		return target, fmt.Errorf("primary key of %s: %w", id, err)
	}
	if len(keys) == 0 {
		return target, fmt.Errorf("table %s has no primary key; configure entities.%s.key", id, entity)
	}
	p.keys.Store(id, keys)
	target.Key = keys
	return target, nil
}

// onlyKey reports whether row carries nothing besides its key columns.
func onlyKey(row map[string]any, key []string) bool {
	for column := range row {
		if !slices.Contains(key, column) {
			return false
		}
	}
	return true
}

func (p *PeerPG) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePubSub
}

func (p *PeerPG) Disconnect() error {
	if p.pool != nil {
		p.pool.Close()
	}
	if p.conn != nil {
		return p.conn.Close(context.Background())
	}
	return nil
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorPostgres, &PeerPG{})
}
