package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// exec runs a built statement and returns the affected row count.
func exec(ctx context.Context, q dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res stdsql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// withTx runs fn inside a transaction, rolling back when fn fails.
func withTx(ctx context.Context, drv *entsql.Driver, fn func(tx dialect.Tx) error) error {
	tx, err := drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullString(s *string) stdsql.NullString {
	if s == nil {
		return stdsql.NullString{}
	}
	return stdsql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) stdsql.NullTime {
	if t == nil {
		return stdsql.NullTime{}
	}
	return stdsql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) stdsql.NullFloat64 {
	if f == nil {
		return stdsql.NullFloat64{}
	}
	return stdsql.NullFloat64{Float64: *f, Valid: true}
}

func stringPtr(ns stdsql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt stdsql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func floatPtr(nf stdsql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// jsonColumn marshals v for a JSON column; nil stays NULL.
func jsonColumn(v any) (stdsql.NullString, error) {
	if v == nil {
		return stdsql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return stdsql.NullString{}, err
	}
	return stdsql.NullString{String: string(b), Valid: true}, nil
}
