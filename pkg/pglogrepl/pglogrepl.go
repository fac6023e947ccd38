// Package pglogrepl reads committed transactions from PostgreSQL logical
// replication (pgoutput) and emits them as Debezium-compatible CDC events.
//
// Changes are held back until their transaction commits and are then released
// together, each event carrying the transaction id, its position within the
// transaction and the transaction's event count, so downstream consumers can
// regroup them. The slot's flush position only advances past a transaction
// once all of its events have been handed off.
package pglogrepl

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// Op is a change kind published by the publication.
type Op string

const (
	OpInsert   Op = "insert"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
	OpTruncate Op = "truncate"
)

const (
	defaultPublication           = "txaction_pub"
	defaultSlot                  = "txaction_slot"
	defaultPlugin                = "pgoutput"
	defaultProtoVersion          = 2
	defaultStandbyUpdateInterval = 10 * time.Second
	defaultBufferSize            = 1000
)

// Config holds replication configuration.
type Config struct {
	Publication string `json:"publication"`
	Slot        string `json:"slot"`
	Plugin      string `json:"plugin"`
	// ProtoVersion of pgoutput; 2 or later is needed for streamed transactions
	ProtoVersion int `json:"protoVersion"`
	// Tables to add to the publication, e.g. ["accounts_user", "public.userprofiles_userprofile",
	// "legacy.*"]; ["*"] publishes all tables
	Tables        []string `json:"tables"`
	Ops           []Op     `json:"ops"`
	PartitionRoot bool     `json:"partitionRoot"`
	// ReplicaIdentity is applied to the listed (optionally schema qualified)
	// tables before replication starts
	ReplicaIdentity       map[string]ReplicaIdentity `json:"relreplident"`
	StandbyUpdateInterval time.Duration              `json:"standbyUpdateInterval"`
	BufferSize            int                        `json:"bufferSize"`
}

func (c *Config) setDefaults() {
	c.Publication = cmp.Or(c.Publication, defaultPublication)
	c.Slot = cmp.Or(c.Slot, defaultSlot)
	c.Plugin = cmp.Or(c.Plugin, defaultPlugin)
	c.ProtoVersion = cmp.Or(c.ProtoVersion, defaultProtoVersion)
	c.StandbyUpdateInterval = cmp.Or(c.StandbyUpdateInterval, defaultStandbyUpdateInterval)
	c.BufferSize = cmp.Or(c.BufferSize, defaultBufferSize)
	if len(c.Ops) == 0 {
		c.Ops = []Op{OpInsert, OpUpdate, OpDelete, OpTruncate}
	}
}

// Validate checks a config that has its defaults applied.
func (c *Config) Validate() error {
	for _, op := range c.Ops {
		switch op {
		case OpInsert, OpUpdate, OpDelete, OpTruncate:
		default:
			return fmt.Errorf("invalid operation: %s", op)
		}
	}
	for table, identity := range c.ReplicaIdentity {
		if _, err := identity.clause(); err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
	}
	if c.ProtoVersion < 2 {
		return fmt.Errorf("protoVersion %d does not support streamed transactions", c.ProtoVersion)
	}
	if c.StandbyUpdateInterval < time.Second {
		return fmt.Errorf("standby update interval must be at least 1 second")
	}
	return nil
}

// ReplicaIdentity is how much of the old row PostgreSQL logs for updates and
// deletes. Either the pg_class.relreplident letter or the keyword is accepted.
type ReplicaIdentity string

const (
	// ReplicaIdentityDefault logs the primary key columns
	ReplicaIdentityDefault ReplicaIdentity = "d"
	// ReplicaIdentityNothing logs no old row
	ReplicaIdentityNothing ReplicaIdentity = "n"
	// ReplicaIdentityFull logs every column; edit actions need it to see the before image
	ReplicaIdentityFull ReplicaIdentity = "f"
	// ReplicaIdentityIndex logs the columns of a unique index and cannot be
	// configured here since it needs an index name
	ReplicaIdentityIndex ReplicaIdentity = "i"
)

func (r ReplicaIdentity) clause() (string, error) {
	switch strings.ToLower(string(r)) {
	case "d", "default":
		return "DEFAULT", nil
	case "n", "nothing":
		return "NOTHING", nil
	case "f", "full":
		return "FULL", nil
	}
	return "", fmt.Errorf("unsupported replica identity %q", string(r))
}
