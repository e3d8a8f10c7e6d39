package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowID_SingleKey(t *testing.T) {
	r := Row{"id": "42", "x": "a"}
	rid, ok := r.RowID([]string{"id"})
	assert.True(t, ok)
	assert.Equal(t, RowID("42"), rid)
}

func TestRowID_CompositeKeyJoinsInDeclaredOrder(t *testing.T) {
	r := Row{"a": "1", "b": "2"}
	rid, ok := r.RowID([]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, RowID("1&2"), rid)

	rid, ok = r.RowID([]string{"b", "a"})
	assert.True(t, ok)
	assert.Equal(t, RowID("2&1"), rid)
}

func TestRowID_MissingKeyColumn(t *testing.T) {
	r := Row{"id": "1"}
	_, ok := r.RowID([]string{"uuid"})
	assert.False(t, ok)

	_, ok = r.RowID(nil)
	assert.False(t, ok)
}

func TestColumnsSorted(t *testing.T) {
	r := Row{"x": "1", "cdc_action": "insert", "a": "2", "cdc_ts": "10"}
	assert.Equal(t, []string{"a", "cdc_action", "cdc_ts", "x"}, r.Columns())
}

func TestCloneIsIndependent(t *testing.T) {
	r := Row{"id": "1"}
	c := r.Clone()
	c["id"] = "2"
	assert.Equal(t, "1", r["id"])
}

func TestNewTable(t *testing.T) {
	assert.Equal(t, Table("db.orders"), NewTable("db", "orders"))
}
