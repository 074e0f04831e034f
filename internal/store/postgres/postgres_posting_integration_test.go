package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("BACKOFFICE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BACKOFFICE_TEST_DATABASE_URL to run postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestAllocateNumberConcurrencyIntegration(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	series, err := s.CreateSeries(ctx, domain.Series{
		Code:         fmt.Sprintf("IT%d", stamp%100000),
		DocumentType: domain.DocTypeNotaVenta,
	}, domain.Counter{Step: 1, Size: 8, NextValue: 1})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM counters WHERE series_id = $1`, series.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM series WHERE id = $1`, series.ID)
	})

	const workers = 20
	codes := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := s.AllocateNumber(ctx, series.ID)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			codes <- number.Code()
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, workers)
	for code := range codes {
		if seen[code] {
			t.Fatalf("duplicate number: %s", code)
		}
		seen[code] = true
	}

	counter, err := s.GetCounter(ctx, series.ID)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if counter.NextValue != int64(len(seen))+1 {
		t.Fatalf("expected next value %d, got %d", len(seen)+1, counter.NextValue)
	}
}

func TestSalePostingRollsBackOnFailureIntegration(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	series, err := s.CreateSeries(ctx, domain.Series{
		Code:         fmt.Sprintf("RB%d", stamp%100000),
		DocumentType: domain.DocTypeBoleta,
	}, domain.Counter{Step: 1, Size: 8, NextValue: 1})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	warehouse, err := s.CreateWarehouse(ctx, domain.Warehouse{Name: fmt.Sprintf("IT-%d", stamp)})
	if err != nil {
		t.Fatalf("create warehouse: %v", err)
	}
	variant, err := s.CreateVariant(ctx, domain.Variant{
		SKU:   fmt.Sprintf("SKU-IT-%d", stamp),
		Name:  "Integration Variant",
		Price: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}

	sale, err := s.CreateSaleDraft(ctx, domain.Sale{
		SeriesID:     series.ID,
		DocumentType: domain.DocTypeBoleta,
		WarehouseID:  warehouse.ID,
		Lines: []domain.SaleLine{{
			VariantID: variant.ID,
			Quantity:  decimal.NewFromInt(5),
			UnitPrice: decimal.NewFromInt(10),
		}},
	})
	if err != nil {
		t.Fatalf("create sale draft: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE variant_id = $1`, variant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variants WHERE id = $1`, variant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM warehouses WHERE id = $1`, warehouse.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM counters WHERE series_id = $1`, series.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM series WHERE id = $1`, series.ID)
	})

	// Enforced oversell fails inside the posting transaction: the counter
	// and the ledger must come out untouched.
	if _, err := s.PostSale(ctx, sale.ID, true); err == nil {
		t.Fatalf("expected enforced oversell to fail")
	}

	counter, err := s.GetCounter(ctx, series.ID)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if counter.NextValue != 1 {
		t.Fatalf("counter advanced despite rollback: %d", counter.NextValue)
	}
	entries, err := s.Kardex(ctx, variant.ID, warehouse.ID)
	if err != nil {
		t.Fatalf("kardex: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no ledger entries after rollback, got %d", len(entries))
	}

	got, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.Status != domain.DocStatusDraft {
		t.Fatalf("expected sale to stay draft, got %s", got.Status)
	}

	// The permissive path posts and books the exit at the zero average.
	posted, err := s.PostSale(ctx, sale.ID, false)
	if err != nil {
		t.Fatalf("permissive post: %v", err)
	}
	if posted.Number == "" {
		t.Fatalf("expected allocated number")
	}
	entries, err = s.Kardex(ctx, variant.ID, warehouse.ID)
	if err != nil {
		t.Fatalf("kardex: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if !entries[0].BalanceQuantity.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("expected balance -5, got %s", entries[0].BalanceQuantity)
	}
}

func TestCreditNotePostingReleasesNumberOnFailureIntegration(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	saleSeries, err := s.CreateSeries(ctx, domain.Series{
		Code:         fmt.Sprintf("BN%d", stamp%100000),
		DocumentType: domain.DocTypeBoleta,
	}, domain.Counter{Step: 1, Size: 8, NextValue: 1})
	if err != nil {
		t.Fatalf("create sale series: %v", err)
	}
	creditSeries, err := s.CreateSeries(ctx, domain.Series{
		Code:         fmt.Sprintf("CN%d", stamp%100000),
		DocumentType: domain.DocTypeCreditNote,
	}, domain.Counter{Step: 1, Size: 8, NextValue: 1})
	if err != nil {
		t.Fatalf("create credit series: %v", err)
	}
	warehouse, err := s.CreateWarehouse(ctx, domain.Warehouse{Name: fmt.Sprintf("CN-%d", stamp)})
	if err != nil {
		t.Fatalf("create warehouse: %v", err)
	}
	variant, err := s.CreateVariant(ctx, domain.Variant{
		SKU:   fmt.Sprintf("SKU-CN-%d", stamp),
		Name:  "Integration Variant",
		Price: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}

	sale, err := s.CreateSaleDraft(ctx, domain.Sale{
		SeriesID:     saleSeries.ID,
		DocumentType: domain.DocTypeBoleta,
		WarehouseID:  warehouse.ID,
		Lines: []domain.SaleLine{{
			VariantID: variant.ID,
			Quantity:  decimal.NewFromInt(5),
			UnitPrice: decimal.NewFromInt(10),
		}},
	})
	if err != nil {
		t.Fatalf("create sale draft: %v", err)
	}
	if _, err := s.PostSale(ctx, sale.ID, false); err != nil {
		t.Fatalf("post sale: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credit_note_lines WHERE credit_note_id IN (SELECT id FROM credit_notes WHERE original_sale_id = $1)`, sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credit_notes WHERE original_sale_id = $1`, sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE variant_id = $1`, variant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variants WHERE id = $1`, variant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM warehouses WHERE id = $1`, warehouse.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM counters WHERE series_id IN ($1, $2)`, saleSeries.ID, creditSeries.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM series WHERE id IN ($1, $2)`, saleSeries.ID, creditSeries.ID)
	})

	note := domain.CreditNote{
		OriginalSaleID: sale.ID,
		SeriesID:       creditSeries.ID,
		WarehouseID:    warehouse.ID + 1000000,
		RefundTotal:    decimal.NewFromInt(20),
		Lines: []domain.SaleLine{{
			VariantID: variant.ID,
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.NewFromInt(10),
		}},
	}

	// The bogus warehouse trips a foreign key on the credit note insert,
	// after the counter row was already locked and advanced inside the
	// transaction. The rollback must release the allocated value.
	if _, err := s.PostCreditNote(ctx, note); err == nil {
		t.Fatalf("expected posting against a missing warehouse to fail")
	}

	counter, err := s.GetCounter(ctx, creditSeries.ID)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if counter.NextValue != 1 {
		t.Fatalf("counter advanced despite rollback: %d", counter.NextValue)
	}

	// A correct posting right after still gets the first correlative.
	note.WarehouseID = warehouse.ID
	posted, err := s.PostCreditNote(ctx, note)
	if err != nil {
		t.Fatalf("post credit note: %v", err)
	}
	if posted.Number != creditSeries.Code+"-00000001" {
		t.Fatalf("expected first correlative, got %s", posted.Number)
	}
}
