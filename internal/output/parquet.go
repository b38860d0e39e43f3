// Package output persists feature tables as parquet artifacts with a
// sidecar JSON manifest of processed units.
package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/skyward-obs/features-cli/internal/model"
)

// metaKey is the file-level key-value metadata entry holding the run
// provenance record.
const metaKey = "run_meta"

// WriteTable writes a feature table to a parquet file. The run record is
// embedded in the file footer metadata. An empty table still produces a
// valid file so downstream readers can distinguish "processed, nothing
// survived" from "never processed".
func WriteTable(path string, table *model.FeatureTable, meta model.RunMeta) error {
	schema, err := buildSchema(table)
	if err != nil {
		return err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "output: marshal run meta")
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", path)
	}

	w := parquet.NewGenericWriter[map[string]any](f, schema,
		parquet.KeyValueMetadata(metaKey, string(metaJSON)),
		parquet.Compression(&parquet.Snappy),
	)

	for _, id := range table.IDs() {
		if _, err := w.Write([]map[string]any{table.Row(id)}); err != nil {
			f.Close()
			return eris.Wrapf(err, "output: write row %d", id)
		}
	}

	if err := w.Close(); err != nil {
		f.Close()
		return eris.Wrap(err, "output: close writer")
	}
	return eris.Wrapf(f.Close(), "output: close %s", path)
}

// ReadTable loads a parquet artifact back into a feature table. Column
// order follows the file schema.
func ReadTable(path string) (*model.FeatureTable, *model.RunMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "output: open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "output: stat %s", path)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, nil, eris.Wrapf(err, "output: open parquet %s", path)
	}

	var meta *model.RunMeta
	if raw, ok := pf.Lookup(metaKey); ok {
		meta = &model.RunMeta{}
		if err := json.Unmarshal([]byte(raw), meta); err != nil {
			return nil, nil, eris.Wrap(err, "output: unmarshal run meta")
		}
	}

	schema := pf.Schema()
	table := model.NewFeatureTable()

	buf := make([]parquet.Row, 64)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				row := make(map[string]any)
				if err := schema.Reconstruct(&row, buf[i]); err != nil {
					rows.Close()
					return nil, nil, eris.Wrap(err, "output: reconstruct row")
				}
				if err := addRow(table, schema, row); err != nil {
					rows.Close()
					return nil, nil, err
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				rows.Close()
				return nil, nil, eris.Wrap(readErr, "output: read rows")
			}
		}
		if err := rows.Close(); err != nil {
			return nil, nil, eris.Wrap(err, "output: close rows")
		}
	}

	return table, meta, nil
}

// buildSchema derives a parquet schema from the table's registered
// columns. Each column's type comes from its first non-nil value; columns
// other than the identifier are optional so dropped values encode as
// nulls. An empty table yields an identifier-only schema.
func buildSchema(table *model.FeatureTable) (*parquet.Schema, error) {
	group := parquet.Group{}
	cols := table.Columns()
	if len(cols) == 0 {
		cols = []string{"_id"}
	}

	for _, col := range cols {
		if col == "_id" {
			group[col] = parquet.Int(64)
			continue
		}
		node, err := columnNode(table, col)
		if err != nil {
			return nil, err
		}
		group[col] = parquet.Optional(node)
	}

	return parquet.NewSchema("features", group), nil
}

func columnNode(table *model.FeatureTable, col string) (parquet.Node, error) {
	for _, id := range table.IDs() {
		v, ok := table.Row(id)[col]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case float64:
			return parquet.Leaf(parquet.DoubleType), nil
		case int64:
			return parquet.Int(64), nil
		case string:
			return parquet.String(), nil
		default:
			return nil, eris.Errorf("output: column %s has unsupported type %T", col, v)
		}
	}
	// A registered column with no surviving values defaults to double.
	return parquet.Leaf(parquet.DoubleType), nil
}

func addRow(table *model.FeatureTable, schema *parquet.Schema, row map[string]any) error {
	rawID, ok := row["_id"]
	if !ok {
		return eris.New("output: row missing _id column")
	}
	id, ok := asID(rawID)
	if !ok {
		return eris.Errorf("output: _id has unsupported type %T", rawID)
	}
	table.Add(id)

	for _, field := range schema.Fields() {
		name := field.Name()
		if name == "_id" {
			table.SetInt(id, "_id", int64(id))
			continue
		}
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			table.Set(id, name, val)
		case int64:
			table.SetInt(id, name, val)
		case string:
			table.SetString(id, name, val)
		}
	}
	return nil
}

func asID(v any) (uint64, bool) {
	switch id := v.(type) {
	case int64:
		return uint64(id), true
	case uint64:
		return id, true
	default:
		return 0, false
	}
}
