package pglogrepl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"
)

// Stream sets up the publication and slot, starts logical replication on a
// replication connection and returns the CDC events of committed
// transactions in commit order. Replication resumes from the slot's confirmed
// position. The channel is closed when ctx is canceled or the connection fails.
func Stream(ctx context.Context, conn *pgconn.PgConn, cfg *Config) (<-chan cdc.Event, error) {
	if conn == nil {
		return nil, errors.New("nil connection")
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r := &reader{
		conn:   conn,
		cfg:    c,
		dec:    newDecoder(conn.Conn().RemoteAddr().String(), conn.Config().Database),
		logger: zap.L().Named("pglogrepl").With(zap.String("slot", c.Slot)),
	}
	if err := r.setup(ctx); err != nil {
		return nil, fmt.Errorf("setup replication: %w", err)
	}

	events := make(chan cdc.Event, c.BufferSize)
	go r.run(ctx, events)
	return events, nil
}

type reader struct {
	conn   *pgconn.PgConn
	cfg    Config
	dec    *decoder
	logger *zap.Logger

	// received is the highest WAL position seen; flushed is the end of the
	// last transaction whose events were all handed off
	received pglogrepl.LSN
	flushed  pglogrepl.LSN
}

func (r *reader) setup(ctx context.Context) error {
	exists, err := queryExists(ctx, r.conn, "SELECT 1 FROM pg_publication WHERE pubname = "+quoteLiteral(r.cfg.Publication))
	if err != nil {
		return fmt.Errorf("publication: %w", err)
	}
	if !exists {
		if _, err := r.conn.Exec(ctx, publicationSQL(r.cfg)).ReadAll(); err != nil {
			return fmt.Errorf("create publication: %w", err)
		}
	}

	for table, identity := range r.cfg.ReplicaIdentity {
		clause, _ := identity.clause()
		stmt := fmt.Sprintf("ALTER TABLE %s REPLICA IDENTITY %s", qualified(table), clause)
		if _, err := r.conn.Exec(ctx, stmt).ReadAll(); err != nil {
			return fmt.Errorf("replica identity of %s: %w", table, err)
		}
	}

	sysID, err := pglogrepl.IdentifySystem(ctx, r.conn)
	if err != nil {
		return fmt.Errorf("identify system: %w", err)
	}

	exists, err = queryExists(ctx, r.conn, "SELECT 1 FROM pg_replication_slots WHERE slot_name = "+quoteLiteral(r.cfg.Slot))
	if err != nil {
		return fmt.Errorf("slot: %w", err)
	}
	if !exists {
		if _, err := pglogrepl.CreateReplicationSlot(ctx, r.conn, r.cfg.Slot, r.cfg.Plugin, pglogrepl.CreateReplicationSlotOptions{}); err != nil {
			return fmt.Errorf("create slot: %w", err)
		}
		r.logger.Info("created replication slot", zap.String("plugin", r.cfg.Plugin))
	}

	r.logger.Info("starting replication",
		zap.String("systemID", sysID.SystemID),
		zap.Int32("timeline", sysID.Timeline),
		zap.Stringer("serverWAL", sysID.XLogPos))

	return pglogrepl.StartReplication(ctx, r.conn, r.cfg.Slot, 0, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			fmt.Sprintf("proto_version '%d'", r.cfg.ProtoVersion),
			"publication_names " + quoteLiteral(r.cfg.Publication),
			"streaming 'true'",
		},
	})
}

func (r *reader) run(ctx context.Context, events chan<- cdc.Event) {
	defer close(events)
	nextStandby := time.Now().Add(r.cfg.StandbyUpdateInterval)

	for {
		if time.Now().After(nextStandby) {
			if err := r.sendStandby(ctx); err != nil {
				return
			}
			nextStandby = time.Now().Add(r.cfg.StandbyUpdateInterval)
		}

		msgCtx, cancel := context.WithDeadline(ctx, nextStandby)
		msg, err := r.conn.ReceiveMessage(msgCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			if ctx.Err() == nil {
				r.logger.Error("receive message failed", zap.Error(err))
			}
			return
		}

		copyData, ok := msg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				r.logger.Warn("invalid keepalive", zap.Error(err))
				continue
			}
			r.advance(pkm.ServerWALEnd)
			if pkm.ReplyRequested {
				nextStandby = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				r.logger.Warn("invalid XLogData", zap.Error(err))
				continue
			}
			r.advance(xld.WALStart + pglogrepl.LSN(len(xld.WALData)))

			decoded, err := r.dec.decode(xld.WALData)
			if err != nil {
				r.logger.Error("decoding WAL message failed", zap.Stringer("lsn", xld.WALStart), zap.Error(err))
				continue
			}
			for _, event := range decoded {
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
			r.flushed = r.dec.committed
		}
	}
}

func (r *reader) advance(lsn pglogrepl.LSN) {
	if lsn > r.received {
		r.received = lsn
	}
}

// sendStandby reports progress. Only handed-off transactions are confirmed
// as flushed, so the slot retains anything still buffered in the decoder.
func (r *reader) sendStandby(ctx context.Context) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, r.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: r.received,
		WALFlushPosition: r.flushed,
		WALApplyPosition: r.flushed,
	})
	if err != nil && ctx.Err() == nil {
		r.logger.Error("standby status update failed", zap.Error(err))
	}
	return err
}

// publicationSQL builds the CREATE PUBLICATION statement for cfg.
func publicationSQL(cfg Config) string {
	var b strings.Builder
	b.WriteString("CREATE PUBLICATION ")
	b.WriteString(pgx.Identifier{cfg.Publication}.Sanitize())

	tp := parsePublicationTables(cfg.Tables)
	switch {
	case tp.allTables:
		b.WriteString(" FOR ALL TABLES")
	case len(tp.schemas) > 0 || len(tp.tables) > 0:
		var objects []string
		if len(tp.tables) > 0 {
			tables := make([]string, len(tp.tables))
			for i, t := range tp.tables {
				tables[i] = qualified(t)
			}
			objects = append(objects, "TABLE "+strings.Join(tables, ", "))
		}
		if len(tp.schemas) > 0 {
			schemas := make([]string, len(tp.schemas))
			for i, s := range tp.schemas {
				schemas[i] = pgx.Identifier{s}.Sanitize()
			}
			objects = append(objects, "TABLES IN SCHEMA "+strings.Join(schemas, ", "))
		}
		b.WriteString(" FOR " + strings.Join(objects, ", "))
	}

	var params []string
	if len(cfg.Ops) > 0 {
		ops := make([]string, len(cfg.Ops))
		for i, o := range cfg.Ops {
			ops[i] = string(o)
		}
		params = append(params, "publish = "+quoteLiteral(strings.Join(ops, ", ")))
	}
	if cfg.PartitionRoot {
		params = append(params, "publish_via_partition_root = true")
	}
	if len(params) > 0 {
		b.WriteString(" WITH (" + strings.Join(params, ", ") + ")")
	}
	return b.String()
}

type tablePattern struct {
	allTables bool
	schemas   []string // from schema.* patterns
	tables    []string
}

func parsePublicationTables(patterns []string) tablePattern {
	var tp tablePattern
	for _, p := range patterns {
		if p == "*" || p == "*.*" {
			return tablePattern{allTables: true}
		}
		if schema, ok := strings.CutSuffix(p, ".*"); ok && schema != "" {
			tp.schemas = append(tp.schemas, schema)
			continue
		}
		tp.tables = append(tp.tables, p)
	}
	return tp
}

// qualified quotes a table name that may carry a schema prefix.
func qualified(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// queryExists runs a simple query on a replication connection, which does not
// support the extended protocol, and reports whether it returned a row.
func queryExists(ctx context.Context, conn *pgconn.PgConn, sql string) (bool, error) {
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return false, err
	}
	return len(results) > 0 && len(results[0].Rows) > 0, nil
}
