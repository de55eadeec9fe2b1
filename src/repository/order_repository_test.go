package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"riskexecutor/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func TestOrderRepositoryFindByID(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "symbol", "side", "order_type", "quantity", "status", "filled_quantity", "retry_count", "idempotency_key", "created_at"}).
		AddRow("ord-1", "BTCUSD", "BUY", "MARKET", int64(10), "submitted", int64(0), 0, "key-1", createdAt)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE id = $1 ORDER BY "orders"."id" LIMIT $2`)).
		WithArgs("ord-1", 1).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("expected FindByID to succeed, got %v", err)
	}
	if found == nil || found.Symbol != "BTCUSD" || found.Status != model.OrderStatusSubmitted {
		t.Fatalf("unexpected order returned: %+v", found)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE id = $1 ORDER BY "orders"."id" LIMIT $2`)).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	missing, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected not-found to be nil error, got %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil order for missing id, got %+v", missing)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderRepositoryFindOpen(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	rows := sqlmock.NewRows([]string{"id", "symbol", "status"}).
		AddRow("ord-1", "BTCUSD", "pending").
		AddRow("ord-2", "ETHUSD", "submitted")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE status IN ($1,$2,$3) ORDER BY created_at ASC`)).
		WithArgs("pending", "submitted", "partially_filled").
		WillReturnRows(rows)

	open, err := repo.FindOpen(context.Background())
	if err != nil {
		t.Fatalf("expected FindOpen to succeed, got %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open orders, got %d", len(open))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderRepositoryFindLatestBySymbol(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	rows := sqlmock.NewRows([]string{"id", "symbol", "status"}).
		AddRow("ord-9", "BTCUSD", "filled").
		AddRow("ord-8", "BTCUSD", "cancelled")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs("BTCUSD", 20).
		WillReturnRows(rows)

	orders, err := repo.FindLatestBySymbol(context.Background(), "BTCUSD", 0)
	if err != nil {
		t.Fatalf("expected FindLatestBySymbol to succeed, got %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "ord-9" {
		t.Fatalf("orders not returned in expected order: %+v", orders)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderRepositoryCreateLog(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "order_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	entry := &model.OrderLog{
		OrderID:  "ord-1",
		Symbol:   "BTCUSD",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Attempt:  2,
		Outcome:  model.OrderLogRetried,
		Reason:   "gateway timeout",
	}
	if err := repo.CreateLog(context.Background(), entry); err != nil {
		t.Fatalf("expected CreateLog to succeed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
