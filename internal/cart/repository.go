package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

var (
	ErrItemNotFound    = errors.New("cart item not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrNoItems         = errors.New("no items to add")
)

const itemColumns = `id, user_id, entry_id, product_url, quantity, niche_selected, service_selected, item_total, created_at, updated_at`

type Repository interface {
	FetchByUser(ctx context.Context, userID uuid.UUID) ([]LineItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*LineItem, error)
	Delete(ctx context.Context, id uuid.UUID) error
	InsertMany(ctx context.Context, items []LineItem) error
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type postgresRepository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &postgresRepository{db: db}
}

func scanItem(row pgx.Row) (*LineItem, error) {
	var (
		item           LineItem
		niche, service []byte
	)
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.EntryID,
		&item.ProductURL,
		&item.Quantity,
		&niche,
		&service,
		&item.ItemTotal,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if niche != nil {
		item.NicheSelection = json.RawMessage(niche)
	}
	if service != nil {
		item.ServiceSelection = json.RawMessage(service)
	}
	return &item, nil
}

func (r *postgresRepository) FetchByUser(ctx context.Context, userID uuid.UUID) ([]LineItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM cart_line_items
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for user id %s: %w", userID, err)
	}
	defer rows.Close()

	items := make([]LineItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for user id %s: %w", userID, err)
		}
		items = append(items, *item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating cart items for user id %s: %w", userID, err)
	}

	return items, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_line_items WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart item by id %s: %w", id, err)
	}
	return item, nil
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, patch Patch) (*LineItem, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Quantity != nil {
		set("quantity", *patch.Quantity)
	}
	if patch.NicheSelection != nil {
		set("niche_selected", []byte(patch.NicheSelection))
	}
	if patch.ServiceSelection != nil {
		set("service_selected", []byte(patch.ServiceSelection))
	}
	if patch.ItemTotal != nil {
		set("item_total", *patch.ItemTotal)
	}
	set("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE cart_line_items SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), len(args), itemColumns)

	item, err := scanItem(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Stringer("item_id", id).Msg("repository: cart item not found for update")
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to update cart item %s: %w", id, err)
	}
	return item, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_line_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart item %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) InsertMany(ctx context.Context, items []LineItem) (err error) {
	if len(items) == 0 {
		return ErrNoItems
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback cart insert")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	query := `
		INSERT INTO cart_line_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i := range items {
		item := &items[i]
		_, err = tx.Exec(ctx, query,
			item.ID,
			item.UserID,
			item.EntryID,
			item.ProductURL,
			item.Quantity,
			[]byte(item.NicheSelection),
			[]byte(item.ServiceSelection),
			item.ItemTotal,
			item.CreatedAt,
			item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert cart item for entry %s: %w", item.EntryID, err)
		}
	}
	return nil
}
