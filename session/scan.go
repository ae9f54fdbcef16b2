package session

import (
	"database/sql"
)

// scanAll drains rows into positional value slices and closes them
func scanAll(rows *sql.Rows) ([][]interface{}, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, ConvertDBError(err)
	}

	var out [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ConvertDBError(err)
		}
		out = append(out, values)
	}
	return out, ConvertDBError(rows.Err())
}

// scanMaps drains rows into flat maps keyed by the driver's column names
func scanMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, ConvertDBError(err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ConvertDBError(err)
		}
		rec := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	return out, ConvertDBError(rows.Err())
}
