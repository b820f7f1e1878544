package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/IANDYI/progress-service/internal/core/domain"
)

// ExpectedColumns lists every column a condition table must carry
func ExpectedColumns(registry *domain.Registry, d *domain.Descriptor) []string {
	cols := append([]string(nil), systemColumns...)
	for _, f := range registry.Fields(d) {
		cols = append(cols, f.Name)
	}
	return cols
}

// VerifySchema compares information_schema with every registered descriptor.
// A missing table or column fails with domain.ErrSchemaDrift.
func (r *SQLRepository) VerifySchema(ctx context.Context) error {
	const query = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`

	var missing []string
	for _, d := range r.registry.Descriptors() {
		result, err := r.schemaCB.Execute(func() (interface{}, error) {
			present := make(map[string]bool)
			err := r.executeWithRetry(ctx, func() error {
				rows, err := r.db.QueryContext(ctx, query, d.Table())
				if err != nil {
					return err
				}
				defer rows.Close()

				for rows.Next() {
					var name string
					if err := rows.Scan(&name); err != nil {
						return err
					}
					present[name] = true
				}
				return rows.Err()
			})
			return present, err
		})
		if err != nil {
			return classifyError(ctx, "verify "+d.Table(), err)
		}

		present := result.(map[string]bool)
		if len(present) == 0 {
			missing = append(missing, d.Table())
			continue
		}
		for _, col := range ExpectedColumns(r.registry, d) {
			if !present[col] {
				missing = append(missing, d.Table()+"."+col)
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrSchemaDrift, strings.Join(missing, ", "))
	}
	r.logger.Info("entry schema verified")
	return nil
}
