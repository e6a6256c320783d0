package advisory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"trustlink/escrow"
)

var seller = common.HexToAddress("0x00000000000000000000000000000000000000C5")

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := NewGormStore(db, NewHub(4), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestGormStoreMissingRowIsNone(t *testing.T) {
	store := newTestStore(t)
	row, ok, err := store.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || row.Status != escrow.AdvisoryNone {
		t.Fatalf("expected absent row with status none, got ok=%v %+v", ok, row)
	}
}

func TestGormStoreUpsertIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, Row{OrderID: 1, Seller: seller, Status: escrow.AdvisoryAccepted}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := store.Upsert(ctx, Row{OrderID: 1, Seller: seller, Status: escrow.AdvisoryShipped}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	_, err := store.Upsert(ctx, Row{OrderID: 1, Seller: seller, Status: escrow.AdvisoryAccepted})
	if !errors.Is(err, ErrStatusRegression) || !errors.Is(err, escrow.ErrWriteFailed) {
		t.Fatalf("expected regression error, got %v", err)
	}
	row, err := store.Upsert(ctx, Row{OrderID: 1, Seller: seller, Status: escrow.AdvisoryShipped})
	if err != nil || row.Status != escrow.AdvisoryShipped {
		t.Fatalf("repeat ship should be a no-op, got %+v err=%v", row, err)
	}
	if _, err := store.Upsert(ctx, Row{OrderID: 2, Seller: seller, Status: escrow.AdvisoryNone}); !errors.Is(err, escrow.ErrWriteFailed) {
		t.Fatalf("writing none must fail, got %v", err)
	}

	got, ok, err := store.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != escrow.AdvisoryShipped || got.Seller != seller {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestGormStoreAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for id := uint64(1); id <= 3; id++ {
		if _, err := store.Upsert(ctx, Row{OrderID: id, Seller: seller, Status: escrow.AdvisoryAccepted}); err != nil {
			t.Fatalf("upsert %d: %v", id, err)
		}
	}
	rows, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(rows) != 3 || rows[2].Status != escrow.AdvisoryAccepted {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestGormStoreNotifiesSubscribers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	updates, cancel := store.Subscribe(5)
	defer cancel()
	other, cancelOther := store.Subscribe(6)
	defer cancelOther()

	if _, err := store.Upsert(ctx, Row{OrderID: 5, Seller: seller, Status: escrow.AdvisoryAccepted}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case row := <-updates:
		if row.OrderID != 5 || row.Status != escrow.AdvisoryAccepted {
			t.Fatalf("unexpected notification %+v", row)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected notification")
	}
	select {
	case row := <-other:
		t.Fatalf("unexpected notification for other order: %+v", row)
	default:
	}
}

func TestGormStoreWatchPublishesExternalWrites(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	watched, err := NewGormStore(db, NewHub(4), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	// A second store on the same table stands in for another client.
	writer, err := NewGormStore(db, NewHub(4), nil)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, unsubscribe := watched.Subscribe(9)
	defer unsubscribe()
	go watched.Watch(ctx, 5*time.Millisecond)

	if _, err := writer.Upsert(context.Background(), Row{OrderID: 9, Seller: seller, Status: escrow.AdvisoryShipped}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case row := <-updates:
		if row.Status != escrow.AdvisoryShipped {
			t.Fatalf("unexpected row %+v", row)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not publish external write")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestMissingRowsDoNotLog(t *testing.T) {
	var buf bytes.Buffer
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(log.New(&buf, "", 0))})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store, err := NewGormStore(db, NewHub(1), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	buf.Reset()
	for id := uint64(1); id <= 3; id++ {
		if _, ok, err := store.Get(context.Background(), id); err != nil || ok {
			t.Fatalf("get %d: ok=%v err=%v", id, ok, err)
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("missing rows produced log output: %s", buf.String())
	}
}
