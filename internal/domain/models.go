package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DocTypeBoleta     = "boleta"
	DocTypeFactura    = "factura"
	DocTypeNotaVenta  = "nota_venta"
	DocTypeCreditNote = "nota_credito"
)

const (
	DocStatusDraft  = "draft"
	DocStatusPosted = "posted"
	DocStatusVoid   = "void"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

const (
	OwnerSale       = "sale"
	OwnerPurchase   = "purchase"
	OwnerAdjustment = "adjustment"
	OwnerCreditNote = "credit_note"
)

// Series is a named document counter scope. RegisterID is empty for
// company-wide series and set for series bound to one POS register.
type Series struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	DocumentType string    `json:"document_type"`
	Fiscal       bool      `json:"fiscal"`
	RegisterID   string    `json:"register_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Counter holds the allocation state of a series. NextValue only ever
// advances by Step, inside an allocation transaction.
type Counter struct {
	SeriesID  int64 `json:"series_id"`
	Step      int   `json:"step"`
	Size      int   `json:"size"`
	NextValue int64 `json:"next_value"`
}

type SeriesCreateRequest struct {
	Code         string `json:"code"`
	DocumentType string `json:"document_type"`
	Fiscal       bool   `json:"fiscal"`
	RegisterID   string `json:"register_id,omitempty"`
	Step         int    `json:"step"`
	Size         int    `json:"size"`
	NextValue    int64  `json:"next_value"`
}

// DocumentNumber is an allocated (or previewed) document identity.
type DocumentNumber struct {
	SeriesCode  string `json:"series_code"`
	Correlative string `json:"correlative"`
}

func (n DocumentNumber) Code() string {
	return n.SeriesCode + "-" + n.Correlative
}

type Warehouse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type WarehouseCreateRequest struct {
	Name string `json:"name"`
}

type Variant struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

type VariantCreateRequest struct {
	SKU   string          `json:"sku"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// OwnerRef points at the document that caused a ledger entry. It is kept
// for audit traceability only; the ledger never dereferences it.
type OwnerRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// LedgerEntry is one immutable stock movement for a (variant, warehouse)
// key, carrying the running balances after the movement was applied.
type LedgerEntry struct {
	ID              int64           `json:"id"`
	VariantID       int64           `json:"variant_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	Direction       string          `json:"direction"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	BalanceQuantity decimal.Decimal `json:"balance_quantity"`
	BalanceUnitCost decimal.Decimal `json:"balance_unit_cost"`
	BalanceValue    decimal.Decimal `json:"balance_value"`
	Owner           OwnerRef        `json:"owner"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LedgerBalance is the running state of one (variant, warehouse) key.
type LedgerBalance struct {
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Value    decimal.Decimal `json:"value"`
	AsOf     time.Time       `json:"as_of"`
}

type SaleLine struct {
	ID        int64           `json:"id"`
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

type Sale struct {
	ID           int64           `json:"id"`
	SeriesID     int64           `json:"series_id"`
	DocumentType string          `json:"document_type"`
	Number       string          `json:"number,omitempty"`
	Status       string          `json:"status"`
	RegisterID   string          `json:"register_id,omitempty"`
	WarehouseID  int64           `json:"warehouse_id"`
	CustomerName string          `json:"customer_name,omitempty"`
	Lines        []SaleLine      `json:"lines"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxTotal     decimal.Decimal `json:"tax_total"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
}

type SaleLineRequest struct {
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

type SaleCreateRequest struct {
	SeriesID     int64             `json:"series_id"`
	RegisterID   string            `json:"register_id,omitempty"`
	WarehouseID  int64             `json:"warehouse_id"`
	CustomerName string            `json:"customer_name,omitempty"`
	Lines        []SaleLineRequest `json:"lines"`
}

type SalePostRequest struct {
	// EnforceStock rejects the posting when any line would oversell.
	// Default is the permissive ledger behavior (balance may go negative).
	EnforceStock bool `json:"enforce_stock"`
}

type PurchaseLine struct {
	ID        int64           `json:"id"`
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Purchase struct {
	ID           int64           `json:"id"`
	SeriesID     int64           `json:"series_id"`
	Number       string          `json:"number,omitempty"`
	Status       string          `json:"status"`
	WarehouseID  int64           `json:"warehouse_id"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Lines        []PurchaseLine  `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
}

type PurchaseLineRequest struct {
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type PurchaseCreateRequest struct {
	SeriesID     int64                 `json:"series_id"`
	WarehouseID  int64                 `json:"warehouse_id"`
	SupplierName string                `json:"supplier_name,omitempty"`
	Lines        []PurchaseLineRequest `json:"lines"`
}

type Adjustment struct {
	ID          int64           `json:"id"`
	VariantID   int64           `json:"variant_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AdjustmentRequest struct {
	VariantID   int64           `json:"variant_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reason      string          `json:"reason,omitempty"`
}

type CreditNote struct {
	ID             int64           `json:"id"`
	OriginalSaleID int64           `json:"original_sale_id"`
	SeriesID       int64           `json:"series_id"`
	Number         string          `json:"number,omitempty"`
	Status         string          `json:"status"`
	RegisterID     string          `json:"register_id,omitempty"`
	WarehouseID    int64           `json:"warehouse_id"`
	Reason         string          `json:"reason,omitempty"`
	Lines          []SaleLine      `json:"lines"`
	RefundTotal    decimal.Decimal `json:"refund_total"`
	CreatedAt      time.Time       `json:"created_at"`
	PostedAt       *time.Time      `json:"posted_at,omitempty"`
}

type ReturnItem struct {
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type CreditNoteRequest struct {
	OriginalSaleID int64        `json:"original_sale_id"`
	RegisterID     string       `json:"register_id,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Items          []ReturnItem `json:"items"`
}

// ReturnAvailability reports, per variant of the original sale, how much
// quantity remains eligible for return.
type ReturnAvailability struct {
	SaleID    int64                     `json:"sale_id"`
	Original  map[int64]decimal.Decimal `json:"original"`
	Credited  map[int64]decimal.Decimal `json:"credited"`
	Available map[int64]decimal.Decimal `json:"available"`
}

// StockStatus carries the exact running balance plus Units, the balance
// quantity truncated toward zero. Sufficiency checks count whole units.
type StockStatus struct {
	VariantID   int64           `json:"variant_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Units       int64           `json:"units"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Value       decimal.Decimal `json:"value"`
}
