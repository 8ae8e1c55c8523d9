package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utkarsh5026/bulkload/internal/protocol"
	"github.com/utkarsh5026/bulkload/internal/sink"
)

func TestDecodeRecord(t *testing.T) {
	record, err := decodeRecord(json.RawMessage(`{
		" registro_car ": " X ",
		"uf": "",
		"municipio": null,
		"area": 1e3,
		"active": true,
		"tags": ["a", "b"]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "X", *record["registro_car"])
	assert.Nil(t, record["uf"], "empty string becomes null")
	assert.Contains(t, record, "municipio")
	assert.Nil(t, record["municipio"])
	assert.Equal(t, "1e3", *record["area"], "numbers keep their literal form")
	assert.Equal(t, "true", *record["active"])
	assert.Equal(t, `["a","b"]`, *record["tags"])
}

func TestDecodeRecord_KeyCollisionIsDeterministic(t *testing.T) {
	for range 20 {
		record, err := decodeRecord(json.RawMessage(`{"uf ": "first", " uf": "second"}`))
		require.NoError(t, err)
		// " uf" sorts before "uf ", so "uf " wins.
		assert.Equal(t, "first", *record["uf"])
	}
}

func TestNormalizeRecord_Idempotent(t *testing.T) {
	inputs := []protocol.Record{
		{" a ": protocol.String("  1 "), "b": protocol.String(""), "c": nil},
		{"x": protocol.String("\tvalue\n"), " x": protocol.String("other")},
		{},
	}
	for _, in := range inputs {
		once := NormalizeRecord(in)
		twice := NormalizeRecord(once)
		assert.Equal(t, once, twice)
	}

	out := NormalizeRecord(inputs[0])
	assert.Equal(t, "1", *out["a"])
	assert.Nil(t, out["b"])
	assert.Nil(t, out["c"])
}

func TestExecute_NormalizationIsIdempotent(t *testing.T) {
	first := sink.NewMemory()
	_, fatal := New(first).Execute(context.Background(), request(t, "1", `[
		{" registro_car ": " A-1 ", "uf": " MT", "municipio": "", "area": 12.50, "ok": true},
		{"registro_car": "B-2\t", "uf ": "first", " uf": "second", "tags": [1, "x"]}
	]`))
	require.NoError(t, fatal)
	once := first.Rows()
	require.Len(t, once, 2)

	// Feed the stored rows back through the same path.
	items, err := json.Marshal(once)
	require.NoError(t, err)
	second := sink.NewMemory()
	resp, fatal := New(second).Execute(context.Background(), request(t, "2", string(items)))
	require.NoError(t, fatal)
	processed, skipped := resp.Counts()
	assert.Equal(t, 2, processed)
	assert.Zero(t, skipped)

	assert.Equal(t, once, second.Rows())
	assert.Equal(t, "A-1", *once[0]["registro_car"])
	assert.Equal(t, "12.50", *once[0]["area"])
	assert.Equal(t, "first", *once[1]["uf"])
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(protocol.Record{"k": protocol.String("v")}, "k", "NULL"))
	assert.False(t, IsValid(protocol.Record{"k": protocol.String("NULL")}, "k", "NULL"))
	assert.False(t, IsValid(protocol.Record{"k": nil}, "k", "NULL"))
	assert.False(t, IsValid(protocol.Record{}, "k", "NULL"))
}
