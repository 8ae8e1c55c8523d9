// Package sink is the storage side of a worker: it bulk-writes normalized
// records into the target table.
package sink

import (
	"context"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// DefaultTable is the table records are loaded into when none is configured.
const DefaultTable = "car_gov"

// Columns is the fixed insert schema. Record fields outside it are ignored and
// columns missing from a record are written as NULL.
var Columns = []string{
	"registro_car",
	"uf",
	"municipio",
	"codigo_ibge",
	"area_do_imovel",
	"situacao_cadastro",
	"condicao_cadastro",
	"latitude",
	"longitude",
	"tipo_imovel_rural",
	"modulos_fiscais",
	"origem",
	"descricao",
	"data_processamento",
	"area_de_conflito",
	"percentual",
}

// notNullColumns are declared NOT NULL by CreateTable.
var notNullColumns = map[string]bool{
	"registro_car": true,
	"uf":           true,
	"municipio":    true,
	"codigo_ibge":  true,
}

// Sink stores batches of records.
type Sink interface {
	// InsertMany writes all records in one bulk operation.
	InsertMany(ctx context.Context, records []protocol.Record) error
	Count(ctx context.Context) (int64, error)
	Truncate(ctx context.Context) error
	CreateTable(ctx context.Context) error
	Close()
}

// Row projects a record onto Columns.
func Row(r protocol.Record) []any {
	row := make([]any, len(Columns))
	for i, col := range Columns {
		if v := r[col]; v != nil {
			row[i] = *v
		}
	}
	return row
}

// IsResourceExhausted reports whether err means the database refused the
// connection because it has run out of client slots. A worker hitting this is
// not expected to recover.
func IsResourceExhausted(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.TooManyConnections {
		return true
	}
	return strings.Contains(err.Error(), "too many clients")
}
