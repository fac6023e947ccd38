package pglogrepl

import (
	"testing"
	"time"

	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relation(id uint32, table string, columns ...string) *pglogrepl.RelationMessageV2 {
	rel := &pglogrepl.RelationMessageV2{}
	rel.RelationID = id
	rel.Namespace = "public"
	rel.RelationName = table
	for i, name := range columns {
		dataType := uint32(pgtype.TextOID)
		if i == 0 {
			dataType = pgtype.Int4OID
		}
		rel.Columns = append(rel.Columns, &pglogrepl.RelationMessageColumn{Name: name, DataType: dataType})
	}
	return rel
}

func tuple(values ...string) *pglogrepl.TupleData {
	data := &pglogrepl.TupleData{}
	for _, v := range values {
		data.Columns = append(data.Columns, &pglogrepl.TupleDataColumn{DataType: 't', Data: []byte(v)})
	}
	return data
}

func insert(relationID uint32, values ...string) *pglogrepl.InsertMessageV2 {
	msg := &pglogrepl.InsertMessageV2{}
	msg.RelationID = relationID
	msg.Tuple = tuple(values...)
	return msg
}

func TestDecoderBuffersUntilCommit(t *testing.T) {
	d := newDecoder("localhost:5432", "zenodo")
	commitTime := time.UnixMilli(1689325284000)

	assert.Nil(t, d.handle(relation(1, "userprofiles_userprofile", "user_id", "username")))
	assert.Nil(t, d.handle(relation(2, "accounts_user", "id", "email")))

	begin := &pglogrepl.BeginMessage{Xid: 7701, CommitTime: commitTime}
	assert.Nil(t, d.handle(begin))
	assert.Nil(t, d.handle(insert(1, "123456", "LegacyUser")))
	assert.Nil(t, d.handle(insert(2, "123456", "legacy@zenodo.org")))

	events := d.handle(&pglogrepl.CommitMessage{CommitTime: commitTime})
	require.Len(t, events, 2)

	first, second := events[0].Payload, events[1].Payload
	assert.Equal(t, cdc.OpCreate, first.Op)
	assert.Equal(t, "userprofiles_userprofile", first.Source.Table)
	assert.Equal(t, "public", first.Source.Schema)
	assert.Equal(t, "zenodo", first.Source.Db)
	assert.Equal(t, int64(1689325284000), first.Source.TsMs)
	assert.Equal(t, map[string]any{"user_id": int32(123456), "username": "LegacyUser"}, first.After)

	assert.Equal(t, &cdc.Transaction{ID: "7701", TotalOrder: 1, DataCollectionOrder: 1, EventCount: 2}, first.Transaction)
	assert.Equal(t, &cdc.Transaction{ID: "7701", TotalOrder: 2, DataCollectionOrder: 1, EventCount: 2}, second.Transaction)
	assert.False(t, first.Transaction.Last())
	assert.True(t, second.Transaction.Last())
	assert.Equal(t, "7701", second.TxID())
}

func TestDecoderUpdateAndDelete(t *testing.T) {
	d := newDecoder("", "")
	d.handle(relation(1, "accounts_user", "id", "email"))
	d.handle(&pglogrepl.BeginMessage{Xid: 9})

	update := &pglogrepl.UpdateMessageV2{}
	update.RelationID = 1
	update.OldTuple = tuple("5", "old@x.y")
	update.NewTuple = tuple("5", "new@x.y")
	d.handle(update)

	del := &pglogrepl.DeleteMessageV2{}
	del.RelationID = 1
	del.OldTuple = tuple("5", "new@x.y")
	d.handle(del)

	events := d.handle(&pglogrepl.CommitMessage{})
	require.Len(t, events, 2)
	assert.Equal(t, cdc.OpUpdate, events[0].Payload.Op)
	assert.Equal(t, "old@x.y", events[0].Payload.Before["email"])
	assert.Equal(t, "new@x.y", events[0].Payload.After["email"])
	assert.Equal(t, cdc.OpDelete, events[1].Payload.Op)
	assert.Nil(t, events[1].Payload.After)
	assert.Equal(t, int64(2), events[1].Payload.Transaction.DataCollectionOrder)
}

func TestDecoderStreamedTransactions(t *testing.T) {
	d := newDecoder("", "")
	d.handle(relation(1, "accounts_user", "id", "email"))

	d.handle(&pglogrepl.StreamStartMessageV2{Xid: 42})
	msg := insert(1, "1", "a@b.c")
	msg.Xid = 42
	assert.Nil(t, d.handle(msg))
	d.handle(&pglogrepl.StreamStopMessageV2{})

	d.handle(&pglogrepl.StreamStartMessageV2{Xid: 43})
	aborted := insert(1, "2", "d@e.f")
	aborted.Xid = 43
	d.handle(aborted)
	d.handle(&pglogrepl.StreamStopMessageV2{})
	assert.Nil(t, d.handle(&pglogrepl.StreamAbortMessageV2{Xid: 43, SubXid: 43}))

	events := d.handle(&pglogrepl.StreamCommitMessageV2{Xid: 42, CommitTime: time.UnixMilli(1000)})
	require.Len(t, events, 1)
	assert.Equal(t, "42", events[0].Payload.Transaction.ID)
	assert.Equal(t, int64(1000), events[0].Payload.Source.TsMs)
	assert.True(t, events[0].Payload.Transaction.Last())
	assert.Empty(t, d.streamed)
}

func TestDecoderTruncateAndUnknownRelation(t *testing.T) {
	d := newDecoder("", "")
	d.handle(relation(1, "a", "id"))
	d.handle(relation(2, "b", "id"))
	d.handle(&pglogrepl.BeginMessage{Xid: 3})

	truncate := &pglogrepl.TruncateMessageV2{}
	truncate.RelationIDs = []uint32{1, 2}
	d.handle(truncate)
	d.handle(insert(99, "1"))

	events := d.handle(&pglogrepl.CommitMessage{})
	require.Len(t, events, 2)
	assert.Equal(t, cdc.OpTruncate, events[0].Payload.Op)
	assert.Equal(t, "a", events[0].Payload.Source.Table)
	assert.Equal(t, "b", events[1].Payload.Source.Table)
}

func TestConfig(t *testing.T) {
	cfg := Config{Tables: []string{"accounts_user"}}
	cfg.setDefaults()
	assert.Equal(t, "txaction_pub", cfg.Publication)
	assert.Equal(t, "txaction_slot", cfg.Slot)
	assert.Equal(t, 2, cfg.ProtoVersion)
	assert.Len(t, cfg.Ops, 4)
	assert.NoError(t, cfg.Validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"index identity", func(c *Config) { c.ReplicaIdentity = map[string]ReplicaIdentity{"accounts_user": ReplicaIdentityIndex} }},
		{"unknown op", func(c *Config) { c.Ops = []Op{"upsert"} }},
		{"proto version", func(c *Config) { c.ProtoVersion = 1 }},
		{"standby interval", func(c *Config) { c.StandbyUpdateInterval = time.Millisecond }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	cfg.ReplicaIdentity = map[string]ReplicaIdentity{"public.accounts_user": "full", "userprofiles_userprofile": ReplicaIdentityFull}
	assert.NoError(t, cfg.Validate())
}

func TestPublicationSQL(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "all tables",
			cfg:  Config{Publication: "pub", Tables: []string{"*"}},
			want: `CREATE PUBLICATION "pub" FOR ALL TABLES`,
		},
		{
			name: "tables and schemas",
			cfg: Config{
				Publication: "pub",
				Tables:      []string{"accounts_user", "public.userprofiles_userprofile", "legacy.*"},
				Ops:         []Op{OpInsert, OpUpdate},
			},
			want: `CREATE PUBLICATION "pub" FOR TABLE "accounts_user", "public"."userprofiles_userprofile", ` +
				`TABLES IN SCHEMA "legacy" WITH (publish = 'insert, update')`,
		},
		{
			name: "partition root",
			cfg:  Config{Publication: "p'ub", PartitionRoot: true},
			want: `CREATE PUBLICATION "p'ub" WITH (publish_via_partition_root = true)`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, publicationSQL(tc.cfg))
		})
	}

	assert.Equal(t, `'it''s'`, quoteLiteral("it's"))
}

func TestParsePublicationTables(t *testing.T) {
	assert.True(t, parsePublicationTables([]string{"a", "*"}).allTables)

	tp := parsePublicationTables([]string{"accounts_user", "profiles.*"})
	assert.Equal(t, []string{"profiles"}, tp.schemas)
	assert.Equal(t, []string{"accounts_user"}, tp.tables)
}

func TestDecoderTracksCommittedLSN(t *testing.T) {
	d := newDecoder("", "")
	d.handle(relation(1, "accounts_user", "id", "email"))

	d.handle(&pglogrepl.BeginMessage{Xid: 1})
	d.handle(insert(1, "1", "a@b.c"))
	assert.Zero(t, d.committed)

	d.handle(&pglogrepl.CommitMessage{TransactionEndLSN: 0x16B3748})
	assert.Equal(t, pglogrepl.LSN(0x16B3748), d.committed)
}

func TestDecoderColumnTypes(t *testing.T) {
	d := newDecoder("", "")
	rel := relation(1, "accounts_user", "id", "email", "password", "note")

	row := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte("7")},
		{DataType: pglogrepl.TupleDataTypeNull},
		{DataType: pglogrepl.TupleDataTypeToast},
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte("hi")},
	}}

	values := d.tupleValues(rel, row)
	assert.Equal(t, map[string]any{"id": int32(7), "email": nil, "note": "hi"}, values)
	assert.NotContains(t, values, "password")
}
