package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// childTables are re-pointed by a merge, in this order.
var childTables = []string{
	core.TableSoilProperties,
	core.TableMonthlyWeather,
	core.TableCropYields,
	core.TableDistrictInputs,
	core.TableNormalRainfall,
}

// MergeResult reports what a district merge changed per table.
type MergeResult struct {
	From    string         `json:"from"`
	Into    string         `json:"into"`
	Moved   map[string]int `json:"moved"`
	Dropped map[string]int `json:"dropped"`
}

// MergeDistricts folds district from into district into. Child rows move
// to into unless into already has a row with the same key, in which case
// into's row is kept and from's row is dropped. from's aliases are
// re-pointed as merge aliases and from's canonical name is kept as one, so
// later rebuilds resolve them to into with into's own rows taking precedence.
func (s *Store) MergeDistricts(ctx context.Context, from, into string) (*MergeResult, error) {
	if from == into {
		return nil, fmt.Errorf("cannot merge district %s into itself", from)
	}
	res := &MergeResult{From: from, Into: into, Moved: make(map[string]int), Dropped: make(map[string]int)}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var name, normName, normState string
		err := tx.QueryRowContext(ctx,
			`SELECT canonical_name, normalized_name, normalized_state FROM districts WHERE district_id = ?`, from,
		).Scan(&name, &normName, &normState)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("district %s: %w", from, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read district %s: %w", from, err)
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM districts WHERE district_id = ?`, into).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("district %s: %w", into, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read district %s: %w", into, err)
		}

		for _, table := range childTables {
			moved, err := execCount(ctx, tx, "UPDATE OR IGNORE "+table+" SET district_id = ? WHERE district_id = ?", into, from) //nolint:gosec // table names are constants
			if err != nil {
				return fmt.Errorf("failed to re-point %s: %w", table, err)
			}
			dropped, err := execCount(ctx, tx, "DELETE FROM "+table+" WHERE district_id = ?", from) //nolint:gosec // table names are constants
			if err != nil {
				return fmt.Errorf("failed to drop merged rows from %s: %w", table, err)
			}
			res.Moved[table] = moved
			res.Dropped[table] = dropped
		}

		if _, err := tx.ExecContext(ctx, `UPDATE district_aliases SET district_id = ?, source = ? WHERE district_id = ?`,
			into, resolve.MergeSource, from); err != nil {
			return fmt.Errorf("failed to re-point aliases: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO district_aliases (normalized, scope, raw, district_id, source)
			VALUES (?, ?, ?, ?, ?)`, normName, normState, name, into, resolve.MergeSource); err != nil {
			return fmt.Errorf("failed to record merge alias: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM districts WHERE district_id = ?`, from); err != nil {
			return fmt.Errorf("failed to delete district %s: %w", from, err)
		}
		return bumpGeneration(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("merged districts", "from", from, "into", into)
	return res, nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	r, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := r.RowsAffected()
	return int(n), err
}
