package models

import (
	"time"

	"github.com/uptrace/bun"
)

// StorageRow is one logical row. Data holds the CBOR-encoded field map.
type StorageRow struct {
	bun.BaseModel `bun:"table:sparse_rows,alias:r"`

	RowID        string    `bun:"rid,pk,type:varchar(64)"`
	Keyspace     string    `bun:"keyspace,notnull,type:varchar(128)"`
	ColumnFamily string    `bun:"column_family,notnull,type:varchar(128)"`
	RowKey       string    `bun:"row_key,notnull"`
	Data         []byte    `bun:"data,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// RowIndexEntry supports equality lookup on string fields. One entry per
// (row, field, value); []string fields produce one entry per element.
type RowIndexEntry struct {
	bun.BaseModel `bun:"table:sparse_row_index,alias:ri"`

	RowID        string `bun:"rid,pk,type:varchar(64)"`
	Field        string `bun:"field,pk,type:varchar(255)"`
	Value        string `bun:"value,pk,type:varchar(512)"`
	Keyspace     string `bun:"keyspace,notnull,type:varchar(128)"`
	ColumnFamily string `bun:"column_family,notnull,type:varchar(128)"`
}
