package cart_test

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
)

var db *pgxpool.Pool

// Repository tests run against a migrated database named by TEST_DATABASE_URL
// and are skipped without one.
func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		var err error
		db, err = pgxpool.New(context.Background(), dsn)
		if err != nil {
			log.Fatalf("Failed to connect to test database: %v", err)
		}
	}

	exitCode := m.Run()

	if db != nil {
		db.Close()
	}
	os.Exit(exitCode)
}

func setupRepo(t *testing.T) cart.Repository {
	t.Helper()
	if db == nil {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	truncate := func() {
		if _, err := db.Exec(context.Background(), "TRUNCATE TABLE cart_line_items"); err != nil {
			t.Fatalf("Failed to truncate table: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)

	return cart.NewRepository(db)
}

func newRow(userID uuid.UUID, created time.Time) cart.LineItem {
	total := 150.0
	return cart.LineItem{
		ID:               uuid.Must(uuid.NewV4()),
		UserID:           userID,
		EntryID:          uuid.Must(uuid.NewV4()),
		ProductURL:       "blog.example.com",
		Quantity:         1,
		NicheSelection:   json.RawMessage(`{"niche": "Finance", "price": 100}`),
		ServiceSelection: json.RawMessage(`"Pacote Premium"`),
		ItemTotal:        &total,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestPostgresRepository_InsertAndFetch(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := newRow(userID, now.Add(-time.Minute))
	second := newRow(userID, now)
	other := newRow(uuid.Must(uuid.NewV4()), now)

	require.NoError(t, repo.InsertMany(ctx, []cart.LineItem{second, first, other}))

	items, err := repo.FetchByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID, "rows come back oldest first")
	assert.Equal(t, second.ID, items[1].ID)
	assert.JSONEq(t, string(first.NicheSelection), string(items[0].NicheSelection))
	assert.JSONEq(t, `"Pacote Premium"`, string(items[0].ServiceSelection))
	require.NotNil(t, items[0].ItemTotal)
	assert.Equal(t, 150.0, *items[0].ItemTotal)
}

func TestPostgresRepository_UpdatePatch(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	row := newRow(uuid.Must(uuid.NewV4()), time.Now().UTC())
	require.NoError(t, repo.InsertMany(ctx, []cart.LineItem{row}))

	qty := 3
	total := 450.0
	updated, err := repo.Update(ctx, row.ID, cart.Patch{Quantity: &qty, ItemTotal: &total})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity)
	assert.Equal(t, 450.0, *updated.ItemTotal)
	assert.JSONEq(t, string(row.NicheSelection), string(updated.NicheSelection), "untouched columns are kept")

	_, err = repo.Update(ctx, uuid.Must(uuid.NewV4()), cart.Patch{Quantity: &qty})
	assert.ErrorIs(t, err, cart.ErrItemNotFound)
}

func TestPostgresRepository_Delete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	row := newRow(uuid.Must(uuid.NewV4()), time.Now().UTC())
	require.NoError(t, repo.InsertMany(ctx, []cart.LineItem{row}))

	require.NoError(t, repo.Delete(ctx, row.ID))
	assert.ErrorIs(t, repo.Delete(ctx, row.ID), cart.ErrItemNotFound)

	_, err := repo.GetByID(ctx, row.ID)
	assert.ErrorIs(t, err, cart.ErrItemNotFound)
}
