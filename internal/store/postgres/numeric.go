package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// NUMERIC values cross the driver as text so no precision is lost on the
// way in or out. Reads cast with ::text and parse here.

func numeric(d decimal.Decimal) string {
	return d.String()
}

func nullNumeric(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseNumeric(col, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("postgres: parse %s %q: %w", col, s, err)
	}
	return d, nil
}

func parseNullNumeric(col string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseNumeric(col, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// windowClause appends inclusive bounds on column for opts.Since and
// opts.Until.
func windowClause(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}
	return query, args
}

// pageClause appends LIMIT/OFFSET placeholders for the given page.
func pageClause(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
