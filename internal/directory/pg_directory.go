package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDirectory reads the users table shared with the identity service.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) ListByRole(ctx context.Context, role Role) ([]Person, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, full_name, role
		FROM users
		WHERE role = $1
		ORDER BY full_name, id
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("query users by role: %w", err)
	}

	people, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Person, error) {
		var p Person
		err := row.Scan(&p.ID, &p.Name, &p.Role)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return people, nil
}

func (d *PgDirectory) Get(ctx context.Context, id string) (Person, error) {
	var p Person
	err := d.pool.QueryRow(ctx, `
		SELECT id, full_name, role
		FROM users
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, ErrPersonNotFound
		}
		return Person{}, fmt.Errorf("get user: %w", err)
	}
	return p, nil
}
