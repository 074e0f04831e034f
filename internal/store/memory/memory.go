package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
	"github.com/Jcrispin99/gym-app-sub001/internal/ledger"
	"github.com/Jcrispin99/gym-app-sub001/internal/numbering"
	"github.com/Jcrispin99/gym-app-sub001/internal/store"
)

// Store is the in-memory Repository used for dev mode and tests. The single
// mutex gives the same serialization the postgres store gets from row locks:
// counter advances and ledger appends are read-modify-write under exclusive
// access, and posting operations stage every change before applying any.
type Store struct {
	mu sync.RWMutex

	seriesByID    map[int64]domain.Series
	countersByID  map[int64]domain.Counter
	warehouses    map[int64]domain.Warehouse
	variants      map[int64]domain.Variant
	entriesByKey  map[string][]domain.LedgerEntry
	salesByID     map[int64]domain.Sale
	purchasesByID map[int64]domain.Purchase
	creditNotes   map[int64]domain.CreditNote
	adjustments   map[int64]domain.Adjustment

	nextSeriesID     int64
	nextWarehouseID  int64
	nextVariantID    int64
	nextEntryID      int64
	nextSaleID       int64
	nextPurchaseID   int64
	nextCreditNoteID int64
	nextAdjustmentID int64
}

func New() *Store {
	return &Store{
		seriesByID:    make(map[int64]domain.Series),
		countersByID:  make(map[int64]domain.Counter),
		warehouses:    make(map[int64]domain.Warehouse),
		variants:      make(map[int64]domain.Variant),
		entriesByKey:  make(map[string][]domain.LedgerEntry),
		salesByID:     make(map[int64]domain.Sale),
		purchasesByID: make(map[int64]domain.Purchase),
		creditNotes:   make(map[int64]domain.CreditNote),
		adjustments:   make(map[int64]domain.Adjustment),
	}
}

// NewSeeded returns a store preloaded with the demo catalog: one warehouse,
// a handful of variants, and the fiscal series a small Peruvian business
// would configure (boleta B01, factura F01, credit notes BC01/FC01, internal
// nota de venta NV01).
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	_, _ = s.CreateWarehouse(ctx, domain.Warehouse{Name: "Almacén Principal"})

	seedVariants := []domain.Variant{
		{SKU: "PROT-WHEY-1KG", Name: "Proteína Whey 1kg", Price: decimal.NewFromInt(159)},
		{SKU: "SHAKER-600", Name: "Shaker 600ml", Price: decimal.NewFromInt(25)},
		{SKU: "BEBIDA-ISO-500", Name: "Bebida Isotónica 500ml", Price: decimal.NewFromInt(6)},
		{SKU: "TOALLA-GYM", Name: "Toalla Deportiva", Price: decimal.NewFromInt(19)},
		{SKU: "GUANTES-M", Name: "Guantes de Entrenamiento M", Price: decimal.NewFromInt(45)},
	}
	for _, v := range seedVariants {
		v.Active = true
		_, _ = s.CreateVariant(ctx, v)
	}

	seedSeries := []domain.SeriesCreateRequest{
		{Code: "B01", DocumentType: domain.DocTypeBoleta, Fiscal: true, Step: 1, Size: 8, NextValue: 1},
		{Code: "F01", DocumentType: domain.DocTypeFactura, Fiscal: true, Step: 1, Size: 8, NextValue: 1},
		{Code: "BC01", DocumentType: domain.DocTypeCreditNote, Fiscal: true, Step: 1, Size: 8, NextValue: 1},
		{Code: "FC01", DocumentType: domain.DocTypeCreditNote, Fiscal: true, Step: 1, Size: 8, NextValue: 1},
		{Code: "NV01", DocumentType: domain.DocTypeNotaVenta, Fiscal: false, Step: 1, Size: 8, NextValue: 1},
	}
	for _, req := range seedSeries {
		_, _ = s.CreateSeries(ctx, domain.Series{
			Code:         req.Code,
			DocumentType: req.DocumentType,
			Fiscal:       req.Fiscal,
		}, domain.Counter{Step: req.Step, Size: req.Size, NextValue: req.NextValue})
	}

	return s
}

func ledgerKey(variantID, warehouseID int64) string {
	return fmt.Sprintf("%d/%d", variantID, warehouseID)
}

func (s *Store) CreateSeries(_ context.Context, series domain.Series, counter domain.Counter) (*domain.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series.Code = strings.ToUpper(strings.TrimSpace(series.Code))
	if series.Code == "" || series.DocumentType == "" {
		return nil, store.ErrInvalidDocument
	}
	if counter.Step < 1 || counter.Size < 1 || counter.NextValue < 1 {
		return nil, store.ErrInvalidDocument
	}
	for _, existing := range s.seriesByID {
		if existing.Code == series.Code && existing.RegisterID == series.RegisterID {
			return nil, store.ErrInvalidDocument
		}
	}

	s.nextSeriesID++
	series.ID = s.nextSeriesID
	series.CreatedAt = time.Now().UTC()
	counter.SeriesID = series.ID
	s.seriesByID[series.ID] = series
	s.countersByID[series.ID] = counter

	created := series
	return &created, nil
}

func (s *Store) GetSeries(_ context.Context, seriesID int64) (*domain.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, exists := s.seriesByID[seriesID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := series
	return &found, nil
}

func (s *Store) ListSeries(_ context.Context, documentType string, registerID string) ([]domain.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Series, 0, len(s.seriesByID))
	for _, series := range s.seriesByID {
		if documentType != "" && series.DocumentType != documentType {
			continue
		}
		if registerID != "" && series.RegisterID != "" && series.RegisterID != registerID {
			continue
		}
		result = append(result, series)
	}
	slices.SortFunc(result, func(a, b domain.Series) int {
		return strings.Compare(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) GetCounter(_ context.Context, seriesID int64) (*domain.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counter, exists := s.countersByID[seriesID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := counter
	return &found, nil
}

func (s *Store) AllocateNumber(_ context.Context, seriesID int64) (*domain.DocumentNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(seriesID)
}

// allocateLocked advances the counter and returns the allocated number.
// Callers must hold the write lock.
func (s *Store) allocateLocked(seriesID int64) (*domain.DocumentNumber, error) {
	series, exists := s.seriesByID[seriesID]
	if !exists {
		return nil, store.ErrNotFound
	}
	counter, exists := s.countersByID[seriesID]
	if !exists {
		return nil, store.ErrNotFound
	}

	number := domain.DocumentNumber{
		SeriesCode:  series.Code,
		Correlative: numbering.FormatCorrelative(counter.NextValue, counter.Size),
	}
	counter.NextValue += int64(counter.Step)
	s.countersByID[seriesID] = counter
	return &number, nil
}

func (s *Store) PreviewNumber(_ context.Context, seriesID int64) (*domain.DocumentNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, exists := s.seriesByID[seriesID]
	if !exists {
		return nil, store.ErrNotFound
	}
	counter, exists := s.countersByID[seriesID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &domain.DocumentNumber{
		SeriesCode:  series.Code,
		Correlative: numbering.FormatCorrelative(counter.NextValue, counter.Size),
	}, nil
}

func (s *Store) CreateWarehouse(_ context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	warehouse.Name = strings.TrimSpace(warehouse.Name)
	if warehouse.Name == "" {
		return nil, store.ErrInvalidDocument
	}

	s.nextWarehouseID++
	warehouse.ID = s.nextWarehouseID
	warehouse.CreatedAt = time.Now().UTC()
	s.warehouses[warehouse.ID] = warehouse

	created := warehouse
	return &created, nil
}

func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Warehouse, 0, len(s.warehouses))
	for _, w := range s.warehouses {
		result = append(result, w)
	}
	slices.SortFunc(result, func(a, b domain.Warehouse) int {
		return int(a.ID - b.ID)
	})
	return result, nil
}

func (s *Store) CreateVariant(_ context.Context, variant domain.Variant) (*domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	variant.SKU = strings.ToUpper(strings.TrimSpace(variant.SKU))
	variant.Name = strings.TrimSpace(variant.Name)
	if variant.SKU == "" || variant.Name == "" {
		return nil, store.ErrInvalidDocument
	}
	for _, existing := range s.variants {
		if existing.SKU == variant.SKU {
			return nil, store.ErrInvalidDocument
		}
	}

	s.nextVariantID++
	variant.ID = s.nextVariantID
	variant.Active = true
	variant.CreatedAt = time.Now().UTC()
	s.variants[variant.ID] = variant

	created := variant
	return &created, nil
}

func (s *Store) GetVariant(_ context.Context, variantID int64) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variant, exists := s.variants[variantID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := variant
	return &found, nil
}

func (s *Store) ListVariants(_ context.Context) ([]domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		result = append(result, v)
	}
	slices.SortFunc(result, func(a, b domain.Variant) int {
		return int(a.ID - b.ID)
	})
	return result, nil
}

func (s *Store) LastBalance(_ context.Context, variantID, warehouseID int64) (*domain.LedgerBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := s.lastBalanceLocked(variantID, warehouseID)
	return &balance, nil
}

func (s *Store) lastBalanceLocked(variantID, warehouseID int64) domain.LedgerBalance {
	entries := s.entriesByKey[ledgerKey(variantID, warehouseID)]
	if len(entries) == 0 {
		return ledger.ZeroBalance()
	}
	last := entries[len(entries)-1]
	return domain.LedgerBalance{
		Quantity: last.BalanceQuantity,
		UnitCost: last.BalanceUnitCost,
		Value:    last.BalanceValue,
		AsOf:     last.CreatedAt,
	}
}

func (s *Store) Kardex(_ context.Context, variantID, warehouseID int64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entriesByKey[ledgerKey(variantID, warehouseID)]
	result := make([]domain.LedgerEntry, len(entries))
	copy(result, entries)
	return result, nil
}

// buildEntry computes an incoming ledger entry without appending it.
func (s *Store) buildEntry(owner domain.OwnerRef, variantID, warehouseID int64, quantity, unitCost decimal.Decimal, note string, at time.Time) domain.LedgerEntry {
	last := s.lastBalanceLocked(variantID, warehouseID)
	balance := ledger.EntryBalance(last, quantity, unitCost)
	return domain.LedgerEntry{
		VariantID:       variantID,
		WarehouseID:     warehouseID,
		Direction:       domain.DirectionIn,
		Quantity:        quantity,
		UnitCost:        unitCost,
		BalanceQuantity: balance.Quantity,
		BalanceUnitCost: balance.UnitCost,
		BalanceValue:    balance.Value,
		Owner:           owner,
		Note:            note,
		CreatedAt:       at,
	}
}

// buildExit computes an outgoing ledger entry without appending it.
func (s *Store) buildExit(owner domain.OwnerRef, variantID, warehouseID int64, quantity decimal.Decimal, note string, at time.Time) domain.LedgerEntry {
	last := s.lastBalanceLocked(variantID, warehouseID)
	balance, exitCost := ledger.ExitBalance(last, quantity)
	return domain.LedgerEntry{
		VariantID:       variantID,
		WarehouseID:     warehouseID,
		Direction:       domain.DirectionOut,
		Quantity:        quantity,
		UnitCost:        exitCost,
		BalanceQuantity: balance.Quantity,
		BalanceUnitCost: balance.UnitCost,
		BalanceValue:    balance.Value,
		Owner:           owner,
		Note:            note,
		CreatedAt:       at,
	}
}

func (s *Store) appendEntry(entry domain.LedgerEntry) {
	s.nextEntryID++
	entry.ID = s.nextEntryID
	key := ledgerKey(entry.VariantID, entry.WarehouseID)
	s.entriesByKey[key] = append(s.entriesByKey[key], entry)
}

func (s *Store) CreateSaleDraft(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seriesByID[sale.SeriesID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.warehouses[sale.WarehouseID]; !exists {
		return nil, store.ErrNotFound
	}
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}
	for _, line := range sale.Lines {
		if _, exists := s.variants[line.VariantID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	s.nextSaleID++
	sale.ID = s.nextSaleID
	sale.Status = domain.DocStatusDraft
	sale.Number = ""
	sale.PostedAt = nil
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range sale.Lines {
		sale.Lines[i].ID = int64(i + 1)
	}
	s.salesByID[sale.ID] = sale

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, saleID int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) PostSale(_ context.Context, saleID int64, enforceStock bool) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.DocStatusDraft {
		return nil, store.ErrInvalidDocument
	}

	if enforceStock {
		required := make(map[string]decimal.Decimal)
		for _, line := range sale.Lines {
			key := ledgerKey(line.VariantID, sale.WarehouseID)
			required[key] = required[key].Add(line.Quantity)
		}
		for _, line := range sale.Lines {
			key := ledgerKey(line.VariantID, sale.WarehouseID)
			// Whole units only, matching the sufficiency contract.
			available := s.lastBalanceLocked(line.VariantID, sale.WarehouseID).Quantity.Truncate(0)
			if available.LessThan(required[key]) {
				return nil, fmt.Errorf("variant %d: %w", line.VariantID, store.ErrInsufficientStock)
			}
		}
	}

	number, err := s.allocateLocked(sale.SeriesID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	owner := domain.OwnerRef{Kind: domain.OwnerSale, ID: sale.ID}
	// Exits chain off each other when a sale repeats a variant, so they are
	// built and appended one at a time.
	for _, line := range sale.Lines {
		entry := s.buildExit(owner, line.VariantID, sale.WarehouseID, line.Quantity, "venta "+number.Code(), now)
		s.appendEntry(entry)
	}

	sale.Number = number.Code()
	sale.Status = domain.DocStatusPosted
	sale.PostedAt = &now
	s.salesByID[sale.ID] = sale

	posted := cloneSale(sale)
	return &posted, nil
}

func (s *Store) CreatePurchaseDraft(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seriesByID[purchase.SeriesID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.warehouses[purchase.WarehouseID]; !exists {
		return nil, store.ErrNotFound
	}
	if len(purchase.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}
	for _, line := range purchase.Lines {
		if _, exists := s.variants[line.VariantID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	s.nextPurchaseID++
	purchase.ID = s.nextPurchaseID
	purchase.Status = domain.DocStatusDraft
	purchase.Number = ""
	purchase.PostedAt = nil
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	for i := range purchase.Lines {
		purchase.Lines[i].ID = int64(i + 1)
	}
	s.purchasesByID[purchase.ID] = purchase

	created := clonePurchase(purchase)
	return &created, nil
}

func (s *Store) GetPurchase(_ context.Context, purchaseID int64) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, exists := s.purchasesByID[purchaseID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := clonePurchase(purchase)
	return &found, nil
}

func (s *Store) PostPurchase(_ context.Context, purchaseID int64) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, exists := s.purchasesByID[purchaseID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if purchase.Status != domain.DocStatusDraft {
		return nil, store.ErrInvalidDocument
	}

	number, err := s.allocateLocked(purchase.SeriesID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	owner := domain.OwnerRef{Kind: domain.OwnerPurchase, ID: purchase.ID}
	for _, line := range purchase.Lines {
		unitCost := ledger.UnitCostBasis(line.Subtotal, line.Quantity, line.UnitCost)
		entry := s.buildEntry(owner, line.VariantID, purchase.WarehouseID, line.Quantity, unitCost, "compra "+number.Code(), now)
		s.appendEntry(entry)
	}

	purchase.Number = number.Code()
	purchase.Status = domain.DocStatusPosted
	purchase.PostedAt = &now
	s.purchasesByID[purchase.ID] = purchase

	posted := clonePurchase(purchase)
	return &posted, nil
}

func (s *Store) PostAdjustment(_ context.Context, adjustment domain.Adjustment) (*domain.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.variants[adjustment.VariantID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.warehouses[adjustment.WarehouseID]; !exists {
		return nil, store.ErrNotFound
	}

	s.nextAdjustmentID++
	adjustment.ID = s.nextAdjustmentID
	now := time.Now().UTC()
	adjustment.CreatedAt = now

	owner := domain.OwnerRef{Kind: domain.OwnerAdjustment, ID: adjustment.ID}
	note := adjustment.Reason
	if note == "" {
		note = "ajuste manual"
	}
	if adjustment.Quantity.Sign() >= 0 {
		entry := s.buildEntry(owner, adjustment.VariantID, adjustment.WarehouseID, adjustment.Quantity, adjustment.UnitCost, note, now)
		s.appendEntry(entry)
	} else {
		entry := s.buildExit(owner, adjustment.VariantID, adjustment.WarehouseID, adjustment.Quantity.Abs(), note, now)
		s.appendEntry(entry)
	}
	s.adjustments[adjustment.ID] = adjustment

	created := adjustment
	return &created, nil
}

func (s *Store) PostCreditNote(_ context.Context, note domain.CreditNote) (*domain.CreditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[note.OriginalSaleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.DocStatusPosted {
		return nil, store.ErrInvalidDocument
	}
	if _, exists := s.seriesByID[note.SeriesID]; !exists {
		return nil, store.ErrNotFound
	}
	if len(note.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}

	// Re-check availability under the lock: a concurrent credit note may
	// have consumed quantity between validation and posting.
	credited := s.creditedLocked(note.OriginalSaleID)
	original := make(map[int64]decimal.Decimal)
	for _, line := range sale.Lines {
		original[line.VariantID] = original[line.VariantID].Add(line.Quantity)
	}
	for _, line := range note.Lines {
		available := original[line.VariantID].Sub(credited[line.VariantID])
		if line.Quantity.GreaterThan(available.Add(availabilityEpsilon)) {
			return nil, store.NewValidationError(
				fmt.Sprintf("items.%d", line.VariantID),
				"requested %s exceeds available %s", line.Quantity.String(), available.String(),
			)
		}
	}

	number, err := s.allocateLocked(note.SeriesID)
	if err != nil {
		return nil, err
	}

	s.nextCreditNoteID++
	note.ID = s.nextCreditNoteID
	now := time.Now().UTC()
	note.Number = number.Code()
	note.Status = domain.DocStatusPosted
	note.CreatedAt = now
	note.PostedAt = &now

	owner := domain.OwnerRef{Kind: domain.OwnerCreditNote, ID: note.ID}
	for i := range note.Lines {
		note.Lines[i].ID = int64(i + 1)
		line := note.Lines[i]
		unitCost := ledger.UnitCostBasis(line.Quantity.Mul(line.UnitPrice), line.Quantity, line.UnitPrice)
		entry := s.buildEntry(owner, line.VariantID, note.WarehouseID, line.Quantity, unitCost, "devolución "+number.Code(), now)
		s.appendEntry(entry)
	}
	s.creditNotes[note.ID] = note

	created := cloneCreditNote(note)
	return &created, nil
}

var availabilityEpsilon = decimal.NewFromFloat(1e-5)

func (s *Store) GetCreditNote(_ context.Context, noteID int64) (*domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	note, exists := s.creditNotes[noteID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneCreditNote(note)
	return &found, nil
}

func (s *Store) ListCreditNotes(_ context.Context, originalSaleID int64) ([]domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CreditNote, 0, 4)
	for _, note := range s.creditNotes {
		if note.OriginalSaleID == originalSaleID {
			result = append(result, cloneCreditNote(note))
		}
	}
	slices.SortFunc(result, func(a, b domain.CreditNote) int {
		return int(a.ID - b.ID)
	})
	return result, nil
}

func (s *Store) CreditedQuantities(_ context.Context, originalSaleID int64) (map[int64]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creditedLocked(originalSaleID), nil
}

func (s *Store) creditedLocked(originalSaleID int64) map[int64]decimal.Decimal {
	credited := make(map[int64]decimal.Decimal)
	for _, note := range s.creditNotes {
		if note.OriginalSaleID != originalSaleID || note.Status != domain.DocStatusPosted {
			continue
		}
		for _, line := range note.Lines {
			credited[line.VariantID] = credited[line.VariantID].Add(line.Quantity)
		}
	}
	return credited
}

func cloneSale(sale domain.Sale) domain.Sale {
	lines := make([]domain.SaleLine, len(sale.Lines))
	copy(lines, sale.Lines)
	sale.Lines = lines
	return sale
}

func clonePurchase(purchase domain.Purchase) domain.Purchase {
	lines := make([]domain.PurchaseLine, len(purchase.Lines))
	copy(lines, purchase.Lines)
	purchase.Lines = lines
	return purchase
}

func cloneCreditNote(note domain.CreditNote) domain.CreditNote {
	lines := make([]domain.SaleLine, len(note.Lines))
	copy(lines, note.Lines)
	note.Lines = lines
	return note
}
