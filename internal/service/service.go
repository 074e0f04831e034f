package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Jcrispin99/gym-app-sub001/internal/cache"
	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
	"github.com/Jcrispin99/gym-app-sub001/internal/numbering"
	"github.com/Jcrispin99/gym-app-sub001/internal/store"
)

// availabilityEpsilon absorbs the rounding noise of quantities that went
// through decimal serialization on their way in.
var availabilityEpsilon = decimal.NewFromFloat(1e-5)

// Tax rates come in as percentages: 18 means 18%.
var percentBase = decimal.NewFromInt(100)

type Service struct {
	repo               store.Repository
	stockCache         cache.StockCache
	logger             *logrus.Logger
	defaultWarehouseID int64
	stockTTL           time.Duration
}

func New(repo store.Repository, stockCache cache.StockCache, logger *logrus.Logger, defaultWarehouseID int64, stockTTL time.Duration) *Service {
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if defaultWarehouseID < 1 {
		defaultWarehouseID = 1
	}
	if stockTTL <= 0 {
		stockTTL = 15 * time.Second
	}

	return &Service{
		repo:               repo,
		stockCache:         stockCache,
		logger:             logger,
		defaultWarehouseID: defaultWarehouseID,
		stockTTL:           stockTTL,
	}
}

func (s *Service) CreateSeries(ctx context.Context, req domain.SeriesCreateRequest) (domain.Series, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Code == "" {
		return domain.Series{}, store.NewValidationError("code", "code is required")
	}
	switch req.DocumentType {
	case domain.DocTypeBoleta, domain.DocTypeFactura, domain.DocTypeNotaVenta, domain.DocTypeCreditNote:
	default:
		return domain.Series{}, store.NewValidationError("document_type", "unknown document type %q", req.DocumentType)
	}
	if req.Step < 1 {
		req.Step = 1
	}
	if req.Size < 1 {
		req.Size = 8
	}
	if req.NextValue < 1 {
		req.NextValue = 1
	}

	created, err := s.repo.CreateSeries(ctx, domain.Series{
		Code:         req.Code,
		DocumentType: req.DocumentType,
		Fiscal:       req.Fiscal,
		RegisterID:   req.RegisterID,
	}, domain.Counter{
		Step:      req.Step,
		Size:      req.Size,
		NextValue: req.NextValue,
	})
	if err != nil {
		return domain.Series{}, err
	}
	return *created, nil
}

func (s *Service) ListSeries(ctx context.Context, documentType string, registerID string) ([]domain.Series, error) {
	return s.repo.ListSeries(ctx, documentType, registerID)
}

func (s *Service) GetSeries(ctx context.Context, seriesID int64) (domain.Series, error) {
	series, err := s.repo.GetSeries(ctx, seriesID)
	if err != nil {
		return domain.Series{}, err
	}
	return *series, nil
}

// AllocateNumber hands out the next correlative of a series. Each call
// consumes the value even if the caller never uses it; document posting
// allocates inside its own transaction instead, so a failed posting does
// not burn a number.
func (s *Service) AllocateNumber(ctx context.Context, seriesID int64) (domain.DocumentNumber, error) {
	number, err := s.repo.AllocateNumber(ctx, seriesID)
	if err != nil {
		return domain.DocumentNumber{}, err
	}
	return *number, nil
}

// PreviewNumber shows the next correlative without consuming it. Two
// previews with no allocation in between return the same value; the
// preview is advisory and may be stale by the time a posting runs.
func (s *Service) PreviewNumber(ctx context.Context, seriesID int64) (domain.DocumentNumber, error) {
	number, err := s.repo.PreviewNumber(ctx, seriesID)
	if err != nil {
		return domain.DocumentNumber{}, err
	}
	return *number, nil
}

func (s *Service) CreateWarehouse(ctx context.Context, req domain.WarehouseCreateRequest) (domain.Warehouse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return domain.Warehouse{}, store.NewValidationError("name", "name is required")
	}
	created, err := s.repo.CreateWarehouse(ctx, domain.Warehouse{Name: req.Name})
	if err != nil {
		return domain.Warehouse{}, err
	}
	return *created, nil
}

func (s *Service) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) CreateVariant(ctx context.Context, req domain.VariantCreateRequest) (domain.Variant, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" {
		return domain.Variant{}, store.NewValidationError("sku", "sku is required")
	}
	if req.Name == "" {
		return domain.Variant{}, store.NewValidationError("name", "name is required")
	}
	if req.Price.IsNegative() {
		return domain.Variant{}, store.NewValidationError("price", "price must not be negative")
	}

	created, err := s.repo.CreateVariant(ctx, domain.Variant{
		SKU:   req.SKU,
		Name:  req.Name,
		Price: req.Price,
	})
	if err != nil {
		return domain.Variant{}, err
	}
	return *created, nil
}

func (s *Service) ListVariants(ctx context.Context) ([]domain.Variant, error) {
	return s.repo.ListVariants(ctx)
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	if req.WarehouseID < 1 {
		req.WarehouseID = s.defaultWarehouseID
	}
	if len(req.Lines) == 0 {
		return domain.Purchase{}, store.NewValidationError("lines", "at least one line is required")
	}

	lines := make([]domain.PurchaseLine, 0, len(req.Lines))
	total := decimal.Zero
	for i, line := range req.Lines {
		if !line.Quantity.IsPositive() {
			return domain.Purchase{}, store.NewValidationError(fmt.Sprintf("lines.%d.quantity", i), "quantity must be positive")
		}
		if line.UnitCost.IsNegative() {
			return domain.Purchase{}, store.NewValidationError(fmt.Sprintf("lines.%d.unit_cost", i), "unit cost must not be negative")
		}
		subtotal := line.Subtotal
		if !subtotal.IsPositive() {
			subtotal = line.Quantity.Mul(line.UnitCost)
		}
		lines = append(lines, domain.PurchaseLine{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitCost:  line.UnitCost,
			Subtotal:  subtotal,
		})
		total = total.Add(subtotal)
	}

	created, err := s.repo.CreatePurchaseDraft(ctx, domain.Purchase{
		SeriesID:     req.SeriesID,
		WarehouseID:  req.WarehouseID,
		SupplierName: req.SupplierName,
		Lines:        lines,
		Total:        total,
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return *created, nil
}

func (s *Service) GetPurchase(ctx context.Context, purchaseID int64) (domain.Purchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func (s *Service) PostPurchase(ctx context.Context, purchaseID int64) (domain.Purchase, error) {
	posted, err := s.repo.PostPurchase(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	for _, line := range posted.Lines {
		s.invalidateStock(ctx, line.VariantID, posted.WarehouseID)
	}
	return *posted, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if req.WarehouseID < 1 {
		req.WarehouseID = s.defaultWarehouseID
	}
	if len(req.Lines) == 0 {
		return domain.Sale{}, store.NewValidationError("lines", "at least one line is required")
	}
	series, err := s.repo.GetSeries(ctx, req.SeriesID)
	if err != nil {
		return domain.Sale{}, err
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for i, line := range req.Lines {
		if !line.Quantity.IsPositive() {
			return domain.Sale{}, store.NewValidationError(fmt.Sprintf("lines.%d.quantity", i), "quantity must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return domain.Sale{}, store.NewValidationError(fmt.Sprintf("lines.%d.unit_price", i), "unit price must not be negative")
		}
		if line.TaxRate.IsNegative() {
			return domain.Sale{}, store.NewValidationError(fmt.Sprintf("lines.%d.tax_rate", i), "tax rate must not be negative")
		}
		lineSubtotal := line.Quantity.Mul(line.UnitPrice)
		taxAmount := lineSubtotal.Mul(line.TaxRate).Div(percentBase)
		lines = append(lines, domain.SaleLine{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
			TaxAmount: taxAmount,
		})
		subtotal = subtotal.Add(lineSubtotal)
		taxTotal = taxTotal.Add(taxAmount)
	}

	created, err := s.repo.CreateSaleDraft(ctx, domain.Sale{
		SeriesID:     req.SeriesID,
		DocumentType: series.DocumentType,
		RegisterID:   req.RegisterID,
		WarehouseID:  req.WarehouseID,
		CustomerName: req.CustomerName,
		Lines:        lines,
		Subtotal:     subtotal,
		TaxTotal:     taxTotal,
		Total:        subtotal.Add(taxTotal),
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) PostSale(ctx context.Context, saleID int64, req domain.SalePostRequest) (domain.Sale, error) {
	posted, err := s.repo.PostSale(ctx, saleID, req.EnforceStock)
	if err != nil {
		return domain.Sale{}, err
	}
	for _, line := range posted.Lines {
		s.invalidateStock(ctx, line.VariantID, posted.WarehouseID)
	}
	return *posted, nil
}

func (s *Service) CreateAdjustment(ctx context.Context, req domain.AdjustmentRequest) (domain.Adjustment, error) {
	if req.WarehouseID < 1 {
		req.WarehouseID = s.defaultWarehouseID
	}
	if req.Quantity.IsZero() {
		return domain.Adjustment{}, store.NewValidationError("quantity", "quantity must not be zero")
	}
	if req.Quantity.IsPositive() && !req.UnitCost.IsPositive() {
		return domain.Adjustment{}, store.NewValidationError("unit_cost", "positive adjustments need a unit cost")
	}

	created, err := s.repo.PostAdjustment(ctx, domain.Adjustment{
		VariantID:   req.VariantID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		Reason:      req.Reason,
	})
	if err != nil {
		return domain.Adjustment{}, err
	}
	s.invalidateStock(ctx, created.VariantID, created.WarehouseID)
	return *created, nil
}

func (s *Service) Kardex(ctx context.Context, variantID, warehouseID int64) ([]domain.LedgerEntry, error) {
	if warehouseID < 1 {
		warehouseID = s.defaultWarehouseID
	}
	if _, err := s.repo.GetVariant(ctx, variantID); err != nil {
		return nil, err
	}
	return s.repo.Kardex(ctx, variantID, warehouseID)
}

// CurrentStock reads the running balance of one key, through the cache.
func (s *Service) CurrentStock(ctx context.Context, variantID, warehouseID int64) (domain.StockStatus, error) {
	if warehouseID < 1 {
		warehouseID = s.defaultWarehouseID
	}

	key := stockKey(variantID, warehouseID)
	if cached, hit, err := s.stockCache.Get(ctx, key); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("stock cache read failed")
	}

	if _, err := s.repo.GetVariant(ctx, variantID); err != nil {
		return domain.StockStatus{}, err
	}
	balance, err := s.repo.LastBalance(ctx, variantID, warehouseID)
	if err != nil {
		return domain.StockStatus{}, err
	}

	status := domain.StockStatus{
		VariantID:   variantID,
		WarehouseID: warehouseID,
		Quantity:    balance.Quantity,
		Units:       balance.Quantity.Truncate(0).IntPart(),
		UnitCost:    balance.UnitCost,
		Value:       balance.Value,
	}
	if err := s.stockCache.Set(ctx, key, &status, s.stockTTL); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("stock cache write failed")
	}
	return status, nil
}

// HasEnoughStock answers whether the whole-unit count covers the quantity.
// A balance of 4.9 covers 4, not 4.5. It is advisory: callers that must not
// oversell pass enforce_stock at posting time, where the check reruns under
// the ledger lock.
func (s *Service) HasEnoughStock(ctx context.Context, variantID, warehouseID int64, quantity decimal.Decimal) (bool, error) {
	status, err := s.CurrentStock(ctx, variantID, warehouseID)
	if err != nil {
		return false, err
	}
	return decimal.NewFromInt(status.Units).GreaterThanOrEqual(quantity), nil
}

func (s *Service) invalidateStock(ctx context.Context, variantID, warehouseID int64) {
	key := stockKey(variantID, warehouseID)
	if err := s.stockCache.Invalidate(ctx, key); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("stock cache invalidation failed")
	}
}

func stockKey(variantID, warehouseID int64) string {
	return fmt.Sprintf("stock:%d:%d", variantID, warehouseID)
}

// ReturnAvailability reports how much of each variant on a posted sale can
// still be returned: the sold quantity minus what posted credit notes have
// already credited, floored at zero.
func (s *Service) ReturnAvailability(ctx context.Context, saleID int64) (domain.ReturnAvailability, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReturnAvailability{}, err
	}
	if sale.Status != domain.DocStatusPosted {
		return domain.ReturnAvailability{}, store.ErrInvalidDocument
	}

	credited, err := s.repo.CreditedQuantities(ctx, saleID)
	if err != nil {
		return domain.ReturnAvailability{}, err
	}

	original := make(map[int64]decimal.Decimal, len(sale.Lines))
	for _, line := range sale.Lines {
		original[line.VariantID] = original[line.VariantID].Add(line.Quantity)
	}

	available := make(map[int64]decimal.Decimal, len(original))
	for variantID, sold := range original {
		remaining := sold.Sub(credited[variantID])
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		available[variantID] = remaining
	}

	return domain.ReturnAvailability{
		SaleID:    saleID,
		Original:  original,
		Credited:  credited,
		Available: available,
	}, nil
}

// CreateCreditNote validates a return against the original sale, prices it
// at the original sale prices, resolves the credit-note series and posts
// note, numbering and restock entries in one store transaction.
func (s *Service) CreateCreditNote(ctx context.Context, req domain.CreditNoteRequest) (domain.CreditNote, error) {
	sale, err := s.repo.GetSale(ctx, req.OriginalSaleID)
	if err != nil {
		return domain.CreditNote{}, err
	}
	if sale.Status != domain.DocStatusPosted {
		return domain.CreditNote{}, store.ErrInvalidDocument
	}

	availability, err := s.ReturnAvailability(ctx, req.OriginalSaleID)
	if err != nil {
		return domain.CreditNote{}, err
	}
	if err := validateReturnItems(req.Items, availability); err != nil {
		return domain.CreditNote{}, err
	}

	lines, refundTotal := priceReturnLines(*sale, req.Items)

	registerID := req.RegisterID
	if registerID == "" {
		registerID = sale.RegisterID
	}
	series, err := s.resolveCreditNoteSeries(ctx, *sale, registerID)
	if err != nil {
		return domain.CreditNote{}, err
	}

	posted, err := s.repo.PostCreditNote(ctx, domain.CreditNote{
		OriginalSaleID: sale.ID,
		SeriesID:       series.ID,
		RegisterID:     registerID,
		WarehouseID:    sale.WarehouseID,
		Reason:         req.Reason,
		Lines:          lines,
		RefundTotal:    refundTotal,
	})
	if err != nil {
		return domain.CreditNote{}, err
	}
	for _, line := range posted.Lines {
		s.invalidateStock(ctx, line.VariantID, posted.WarehouseID)
	}
	return *posted, nil
}

func (s *Service) GetCreditNote(ctx context.Context, noteID int64) (domain.CreditNote, error) {
	note, err := s.repo.GetCreditNote(ctx, noteID)
	if err != nil {
		return domain.CreditNote{}, err
	}
	return *note, nil
}

func (s *Service) ListCreditNotes(ctx context.Context, originalSaleID int64) ([]domain.CreditNote, error) {
	return s.repo.ListCreditNotes(ctx, originalSaleID)
}

func validateReturnItems(items []domain.ReturnItem, availability domain.ReturnAvailability) error {
	if len(items) == 0 {
		return store.NewValidationError("items", "at least one item is required")
	}
	for _, item := range items {
		field := fmt.Sprintf("items.%d", item.VariantID)
		if !item.Quantity.IsPositive() {
			return store.NewValidationError(field, "quantity must be positive")
		}
		sold, onSale := availability.Original[item.VariantID]
		if !onSale {
			return store.NewValidationError(field, "variant was not on the original sale")
		}
		available := availability.Available[item.VariantID]
		if item.Quantity.GreaterThan(available.Add(availabilityEpsilon)) {
			return store.NewValidationError(field,
				"requested %s exceeds available %s (sold %s)",
				item.Quantity.String(), available.String(), sold.String())
		}
	}
	return nil
}

// priceReturnLines prices returned quantities at the original sale's
// prices. When a variant appears on several lines the refund uses the
// variant's aggregate price and tax, prorated by the returned share.
func priceReturnLines(sale domain.Sale, items []domain.ReturnItem) ([]domain.SaleLine, decimal.Decimal) {
	type variantTotals struct {
		quantity decimal.Decimal
		subtotal decimal.Decimal
		tax      decimal.Decimal
		taxRate  decimal.Decimal
	}
	totals := make(map[int64]variantTotals, len(sale.Lines))
	for _, line := range sale.Lines {
		t := totals[line.VariantID]
		if t.quantity.IsZero() {
			t.taxRate = line.TaxRate
		}
		t.quantity = t.quantity.Add(line.Quantity)
		t.subtotal = t.subtotal.Add(line.Quantity.Mul(line.UnitPrice))
		t.tax = t.tax.Add(line.TaxAmount)
		totals[line.VariantID] = t
	}

	lines := make([]domain.SaleLine, 0, len(items))
	refundTotal := decimal.Zero
	for _, item := range items {
		t := totals[item.VariantID]
		unitPrice := decimal.Zero
		taxShare := decimal.Zero
		if t.quantity.IsPositive() {
			unitPrice = t.subtotal.Div(t.quantity)
			taxShare = t.tax.Mul(item.Quantity).Div(t.quantity)
		}
		lines = append(lines, domain.SaleLine{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
			TaxRate:   t.taxRate,
			TaxAmount: taxShare,
		})
		refundTotal = refundTotal.Add(item.Quantity.Mul(unitPrice)).Add(taxShare)
	}
	return lines, refundTotal
}

// resolveCreditNoteSeries picks the series new credit notes post against.
// Preference order: the code derived from the original series (B07 pairs
// with BC07), then any series with the matching type prefix, then whatever
// credit-note series the register has.
func (s *Service) resolveCreditNoteSeries(ctx context.Context, sale domain.Sale, registerID string) (domain.Series, error) {
	inScope, err := s.repo.ListSeries(ctx, domain.DocTypeCreditNote, registerID)
	if err != nil {
		return domain.Series{}, err
	}

	originalSeries, err := s.repo.GetSeries(ctx, sale.SeriesID)
	if err != nil {
		return domain.Series{}, err
	}

	picked := numbering.PickCreditNoteSeries(sale.DocumentType, originalSeries.Code, inScope)
	if picked == nil {
		return domain.Series{}, fmt.Errorf("register %q: %w", registerID, store.ErrSeriesNotConfigured)
	}
	return *picked, nil
}

// IsValidation reports whether err is a request validation failure, as
// opposed to a missing resource or an infrastructure error.
func IsValidation(err error) bool {
	var ve *store.ValidationError
	return errors.As(err, &ve)
}
