// Package sqlutil provides SQL identifier helpers shared by the planner.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table, alias or column name)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifyColumn renders a binding-qualified column reference, e.g.
// `users__role`.`name`. An empty binding yields just the quoted column.
func QualifyColumn(binding, column string) string {
	if binding == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(binding) + "." + QuoteIdentifier(column)
}

// QualifyColumns applies QualifyColumn to each column in order.
func QualifyColumns(binding string, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = QualifyColumn(binding, col)
	}
	return out
}
