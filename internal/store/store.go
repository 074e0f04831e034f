package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidDocument     = errors.New("invalid document")
	ErrSeriesNotConfigured = errors.New("no credit note series configured")
	ErrConflict            = errors.New("concurrent update conflict")
)

// ValidationError identifies the offending field of a rejected request, so
// the API layer can surface it without string matching.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type Repository interface {
	// Series and counters. AllocateNumber runs in one atomic transaction
	// holding an exclusive lock on the counter; PreviewNumber is lock-free
	// and advisory only.
	CreateSeries(ctx context.Context, series domain.Series, counter domain.Counter) (*domain.Series, error)
	GetSeries(ctx context.Context, seriesID int64) (*domain.Series, error)
	ListSeries(ctx context.Context, documentType string, registerID string) ([]domain.Series, error)
	GetCounter(ctx context.Context, seriesID int64) (*domain.Counter, error)
	AllocateNumber(ctx context.Context, seriesID int64) (*domain.DocumentNumber, error)
	PreviewNumber(ctx context.Context, seriesID int64) (*domain.DocumentNumber, error)

	// Setup surface for ledger keys.
	CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
	CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error)
	GetVariant(ctx context.Context, variantID int64) (*domain.Variant, error)
	ListVariants(ctx context.Context) ([]domain.Variant, error)

	// Inventory ledger reads. Writes happen only through document posting.
	LastBalance(ctx context.Context, variantID, warehouseID int64) (*domain.LedgerBalance, error)
	Kardex(ctx context.Context, variantID, warehouseID int64) ([]domain.LedgerEntry, error)

	// Documents. Posting operations are single transactions combining the
	// number allocation, the ledger entries for every line, and the status
	// transition; a failure in any step rolls back all of them.
	CreateSaleDraft(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID int64) (*domain.Sale, error)
	PostSale(ctx context.Context, saleID int64, enforceStock bool) (*domain.Sale, error)
	CreatePurchaseDraft(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, purchaseID int64) (*domain.Purchase, error)
	PostPurchase(ctx context.Context, purchaseID int64) (*domain.Purchase, error)
	PostAdjustment(ctx context.Context, adjustment domain.Adjustment) (*domain.Adjustment, error)

	// Credit notes. CreditedQuantities sums returned quantity per variant
	// across all posted credit notes referencing the original sale.
	PostCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error)
	GetCreditNote(ctx context.Context, noteID int64) (*domain.CreditNote, error)
	ListCreditNotes(ctx context.Context, originalSaleID int64) ([]domain.CreditNote, error)
	CreditedQuantities(ctx context.Context, originalSaleID int64) (map[int64]decimal.Decimal, error)
}
