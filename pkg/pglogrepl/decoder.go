package pglogrepl

import (
	"strconv"
	"time"

	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// pendingTx buffers the changes of one source transaction until its commit.
type pendingTx struct {
	events []cdc.Event
}

// decoder turns pgoutput messages into CDC events. Changes are held back until
// their transaction commits and are then released together, carrying the
// transaction id, their position and the total event count.
type decoder struct {
	relations map[uint32]*pglogrepl.RelationMessageV2
	typeMap   *pgtype.Map
	inStream  bool
	server    string
	database  string

	// current is the transaction between Begin and Commit
	xid     uint32
	lsn     pglogrepl.LSN
	ts      time.Time
	current *pendingTx
	// streamed holds in-progress transactions sent with streaming enabled
	streamed  map[uint32]*pendingTx
	streamXid uint32

	// committed is the end of the last transaction returned by handle
	committed pglogrepl.LSN
}

func newDecoder(server, database string) *decoder {
	return &decoder{
		relations: make(map[uint32]*pglogrepl.RelationMessageV2),
		typeMap:   pgtype.NewMap(),
		server:    server,
		database:  database,
		streamed:  make(map[uint32]*pendingTx),
	}
}

// decode parses one WAL data message and returns the events of any
// transaction it completed.
func (d *decoder) decode(walData []byte) ([]cdc.Event, error) {
	msg, err := pglogrepl.ParseV2(walData, d.inStream)
	if err != nil {
		return nil, err
	}
	return d.handle(msg), nil
}

func (d *decoder) handle(msg pglogrepl.Message) []cdc.Event {
	switch msg := msg.(type) {
	case *pglogrepl.RelationMessageV2:
		d.relations[msg.RelationID] = msg

	case *pglogrepl.BeginMessage:
		d.xid, d.lsn, d.ts = msg.Xid, msg.FinalLSN, msg.CommitTime
		d.current = &pendingTx{}

	case *pglogrepl.CommitMessage:
		if d.current == nil {
			return nil
		}
		events := finish(d.current.events, d.xid)
		d.current = nil
		d.committed = msg.TransactionEndLSN
		return events

	case *pglogrepl.StreamStartMessageV2:
		d.inStream = true
		d.streamXid = msg.Xid
		if _, ok := d.streamed[msg.Xid]; !ok {
			d.streamed[msg.Xid] = &pendingTx{}
		}

	case *pglogrepl.StreamStopMessageV2:
		d.inStream = false

	case *pglogrepl.StreamCommitMessageV2:
		pending, ok := d.streamed[msg.Xid]
		if !ok {
			return nil
		}
		delete(d.streamed, msg.Xid)
		ts := msg.CommitTime.UnixMilli()
		for i := range pending.events {
			pending.events[i].Payload.Source.TsMs = ts
			pending.events[i].Payload.Source.Lsn = int64(msg.CommitLSN)
		}
		d.committed = msg.TransactionEndLSN
		return finish(pending.events, msg.Xid)

	case *pglogrepl.StreamAbortMessageV2:
		if msg.SubXid == msg.Xid {
			delete(d.streamed, msg.Xid)
		}

	case *pglogrepl.InsertMessageV2:
		d.add(msg.Xid, msg.RelationID, cdc.OpCreate, nil, msg.Tuple)

	case *pglogrepl.UpdateMessageV2:
		d.add(msg.Xid, msg.RelationID, cdc.OpUpdate, msg.OldTuple, msg.NewTuple)

	case *pglogrepl.DeleteMessageV2:
		d.add(msg.Xid, msg.RelationID, cdc.OpDelete, msg.OldTuple, nil)

	case *pglogrepl.TruncateMessageV2:
		for _, relationID := range msg.RelationIDs {
			d.add(msg.Xid, relationID, cdc.OpTruncate, nil, nil)
		}
	}

	return nil
}

// add buffers one change in the transaction it belongs to.
func (d *decoder) add(xid uint32, relationID uint32, op cdc.Operation, before, after *pglogrepl.TupleData) {
	rel, ok := d.relations[relationID]
	if !ok {
		zap.L().Error("unknown relation ID", zap.Uint32("relationID", relationID))
		return
	}

	pending, txID, lsn, ts := d.current, d.xid, d.lsn, d.ts
	if d.inStream {
		pending, txID, lsn, ts = d.streamed[d.streamXid], d.streamXid, 0, time.Time{}
		if xid != 0 {
			txID = xid
		}
	}
	if pending == nil {
		zap.L().Warn("change outside of a transaction",
			zap.String("table", rel.RelationName),
			zap.String("op", string(op)))
		return
	}

	source := cdc.NewSourceBuilder("postgresql", d.server).
		WithDatabase(d.database).
		WithSchema(rel.Namespace).
		WithTable(rel.RelationName).
		WithTransaction(int64(txID), int64(lsn)).
		WithTimestamp(ts.UnixMilli()).
		Build()

	builder := cdc.NewEventBuilder().
		WithSource(source).
		WithOperation(op).
		WithTimestamp(time.Now().UnixMilli())
	if before != nil {
		builder.WithBefore(d.tupleValues(rel, before))
	}
	if after != nil {
		builder.WithAfter(d.tupleValues(rel, after))
	}

	pending.events = append(pending.events, builder.Build())
}

// tupleValues decodes a row image. Unchanged TOAST columns are left out so
// they cannot overwrite the stored value when payloads are merged.
func (d *decoder) tupleValues(rel *pglogrepl.RelationMessageV2, tuple *pglogrepl.TupleData) map[string]any {
	values := make(map[string]any, len(tuple.Columns))
	for idx, col := range tuple.Columns {
		if idx >= len(rel.Columns) {
			break
		}
		column := rel.Columns[idx]
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[column.Name] = nil
		case pglogrepl.TupleDataTypeToast:
		case pglogrepl.TupleDataTypeText:
			values[column.Name] = d.decodeText(rel, column, col.Data)
		default:
			zap.L().Warn("unknown column data type",
				zap.String("table", rel.RelationName),
				zap.String("column", column.Name),
				zap.Uint8("dataType", col.DataType))
		}
	}
	return values
}

// decodeText converts a text-format column with the codec registered for its
// type OID. Unknown types stay strings.
func (d *decoder) decodeText(rel *pglogrepl.RelationMessageV2, column *pglogrepl.RelationMessageColumn, data []byte) any {
	dt, ok := d.typeMap.TypeForOID(column.DataType)
	if !ok {
		return string(data)
	}
	val, err := dt.Codec.DecodeValue(d.typeMap, column.DataType, pgtype.TextFormatCode, data)
	if err != nil {
		zap.L().Error("error decoding column data",
			zap.String("table", rel.RelationName),
			zap.String("column", column.Name),
			zap.Error(err))
		return nil
	}
	return val
}

// finish stamps the transaction block on every event of a committed
// transaction.
func finish(events []cdc.Event, xid uint32) []cdc.Event {
	id := strconv.FormatUint(uint64(xid), 10)
	perTable := make(map[string]int64)
	for i := range events {
		table := events[i].Payload.Source.Schema + "." + events[i].Payload.Source.Table
		perTable[table]++
		events[i].Payload.Transaction = &cdc.Transaction{
			ID:                  id,
			TotalOrder:          int64(i + 1),
			DataCollectionOrder: perTable[table],
			EventCount:          int64(len(events)),
		}
	}
	return events
}
