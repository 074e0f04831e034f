package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
	"github.com/Jcrispin99/gym-app-sub001/internal/ledger"
	"github.com/Jcrispin99/gym-app-sub001/internal/numbering"
	"github.com/Jcrispin99/gym-app-sub001/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSeries(ctx context.Context, series domain.Series, counter domain.Counter) (*domain.Series, error) {
	series.Code = strings.ToUpper(strings.TrimSpace(series.Code))
	if series.Code == "" || series.DocumentType == "" {
		return nil, store.ErrInvalidDocument
	}
	if counter.Step < 1 || counter.Size < 1 || counter.NextValue < 1 {
		return nil, store.ErrInvalidDocument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	series.CreatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO series (code, document_type, fiscal, register_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, series.Code, series.DocumentType, series.Fiscal, nullIfEmpty(series.RegisterID), series.CreatedAt).Scan(&series.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidDocument
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO counters (series_id, step, size, next_value)
		VALUES ($1,$2,$3,$4)
	`, series.ID, counter.Step, counter.Size, counter.NextValue)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := series
	return &created, nil
}

func (s *Store) GetSeries(ctx context.Context, seriesID int64) (*domain.Series, error) {
	var series domain.Series
	var registerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, document_type, fiscal, register_id, created_at
		FROM series
		WHERE id = $1
	`, seriesID).Scan(&series.ID, &series.Code, &series.DocumentType, &series.Fiscal, &registerID, &series.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	series.RegisterID = registerID.String
	return &series, nil
}

func (s *Store) ListSeries(ctx context.Context, documentType string, registerID string) ([]domain.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, document_type, fiscal, register_id, created_at
		FROM series
		WHERE ($1 = '' OR document_type = $1)
		  AND ($2 = '' OR register_id IS NULL OR register_id = $2)
		ORDER BY code
	`, documentType, registerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Series, 0, 8)
	for rows.Next() {
		var series domain.Series
		var reg sql.NullString
		if err := rows.Scan(&series.ID, &series.Code, &series.DocumentType, &series.Fiscal, &reg, &series.CreatedAt); err != nil {
			return nil, err
		}
		series.RegisterID = reg.String
		result = append(result, series)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetCounter(ctx context.Context, seriesID int64) (*domain.Counter, error) {
	var counter domain.Counter
	err := s.db.QueryRowContext(ctx, `
		SELECT series_id, step, size, next_value
		FROM counters
		WHERE series_id = $1
	`, seriesID).Scan(&counter.SeriesID, &counter.Step, &counter.Size, &counter.NextValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

// runSerializable wraps fn in a serializable transaction. Postgres may raise
// a serialization failure on any statement inside the transaction, not just
// at commit, so every error on the way out goes through mapTxError.
func (s *Store) runSerializable(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return mapTxError(err)
	}
	return mapTxError(tx.Commit())
}

func (s *Store) AllocateNumber(ctx context.Context, seriesID int64) (*domain.DocumentNumber, error) {
	var number *domain.DocumentNumber
	err := s.runSerializable(ctx, func(tx *sql.Tx) error {
		var err error
		number, err = s.allocateTx(ctx, tx, seriesID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return number, nil
}

// allocateTx locks the counter row, renders the number and advances the
// counter. The caller's transaction scopes the lock, so a posting that
// fails after allocation releases the value with the rollback.
func (s *Store) allocateTx(ctx context.Context, tx *sql.Tx, seriesID int64) (*domain.DocumentNumber, error) {
	var code string
	var step, size int
	var nextValue int64
	err := tx.QueryRowContext(ctx, `
		SELECT s.code, c.step, c.size, c.next_value
		FROM counters c
		JOIN series s ON s.id = c.series_id
		WHERE c.series_id = $1
		FOR UPDATE OF c
	`, seriesID).Scan(&code, &step, &size, &nextValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE counters SET next_value = next_value + step WHERE series_id = $1
	`, seriesID)
	if err != nil {
		return nil, err
	}

	return &domain.DocumentNumber{
		SeriesCode:  code,
		Correlative: numbering.FormatCorrelative(nextValue, size),
	}, nil
}

func (s *Store) PreviewNumber(ctx context.Context, seriesID int64) (*domain.DocumentNumber, error) {
	var code string
	var size int
	var nextValue int64
	err := s.db.QueryRowContext(ctx, `
		SELECT s.code, c.size, c.next_value
		FROM counters c
		JOIN series s ON s.id = c.series_id
		WHERE c.series_id = $1
	`, seriesID).Scan(&code, &size, &nextValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &domain.DocumentNumber{
		SeriesCode:  code,
		Correlative: numbering.FormatCorrelative(nextValue, size),
	}, nil
}

func (s *Store) CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	warehouse.Name = strings.TrimSpace(warehouse.Name)
	if warehouse.Name == "" {
		return nil, store.ErrInvalidDocument
	}

	warehouse.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO warehouses (name, created_at)
		VALUES ($1,$2)
		RETURNING id
	`, warehouse.Name, warehouse.CreatedAt).Scan(&warehouse.ID)
	if err != nil {
		return nil, err
	}
	created := warehouse
	return &created, nil
}

func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM warehouses
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Warehouse, 0, 8)
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error) {
	variant.SKU = strings.ToUpper(strings.TrimSpace(variant.SKU))
	variant.Name = strings.TrimSpace(variant.Name)
	if variant.SKU == "" || variant.Name == "" {
		return nil, store.ErrInvalidDocument
	}

	variant.Active = true
	variant.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO variants (sku, name, price, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, variant.SKU, variant.Name, variant.Price, variant.Active, variant.CreatedAt).Scan(&variant.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidDocument
		}
		return nil, err
	}
	created := variant
	return &created, nil
}

func (s *Store) GetVariant(ctx context.Context, variantID int64) (*domain.Variant, error) {
	var variant domain.Variant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, price, active, created_at
		FROM variants
		WHERE id = $1
	`, variantID).Scan(&variant.ID, &variant.SKU, &variant.Name, &variant.Price, &variant.Active, &variant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &variant, nil
}

func (s *Store) ListVariants(ctx context.Context) ([]domain.Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, price, active, created_at
		FROM variants
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Variant, 0, 32)
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &v.Price, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) LastBalance(ctx context.Context, variantID, warehouseID int64) (*domain.LedgerBalance, error) {
	balance, err := lastBalanceQuery(ctx, s.db, variantID, warehouseID, false)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lastBalanceQuery reads the running balance of a (variant, warehouse) key.
// With forUpdate it locks the newest entry row, serializing concurrent
// postings against the same key inside the caller's transaction.
func lastBalanceQuery(ctx context.Context, q querier, variantID, warehouseID int64, forUpdate bool) (domain.LedgerBalance, error) {
	query := `
		SELECT balance_quantity, balance_unit_cost, balance_value, created_at
		FROM ledger_entries
		WHERE variant_id = $1 AND warehouse_id = $2
		ORDER BY id DESC
		LIMIT 1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var balance domain.LedgerBalance
	err := q.QueryRowContext(ctx, query, variantID, warehouseID).Scan(
		&balance.Quantity, &balance.UnitCost, &balance.Value, &balance.AsOf,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ZeroBalance(), nil
	}
	if err != nil {
		return domain.LedgerBalance{}, err
	}
	return balance, nil
}

func (s *Store) Kardex(ctx context.Context, variantID, warehouseID int64) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, warehouse_id, direction, quantity, unit_cost,
		       balance_quantity, balance_unit_cost, balance_value,
		       owner_kind, owner_id, note, created_at
		FROM ledger_entries
		WHERE variant_id = $1 AND warehouse_id = $2
		ORDER BY id
	`, variantID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 64)
	for rows.Next() {
		var e domain.LedgerEntry
		var note sql.NullString
		if err := rows.Scan(
			&e.ID, &e.VariantID, &e.WarehouseID, &e.Direction, &e.Quantity, &e.UnitCost,
			&e.BalanceQuantity, &e.BalanceUnitCost, &e.BalanceValue,
			&e.Owner.Kind, &e.Owner.ID, &note, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Note = note.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// insertEntryTx computes the post-movement balance under the key lock and
// appends the entry. direction decides the formula: entries average the
// incoming cost into the balance, exits book at the current average cost.
func insertEntryTx(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef, variantID, warehouseID int64, direction string, quantity, unitCost decimal.Decimal, note string, at time.Time) error {
	last, err := lastBalanceQuery(ctx, tx, variantID, warehouseID, true)
	if err != nil {
		return err
	}

	var balance domain.LedgerBalance
	bookedCost := unitCost
	if direction == domain.DirectionIn {
		balance = ledger.EntryBalance(last, quantity, unitCost)
	} else {
		balance, bookedCost = ledger.ExitBalance(last, quantity)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			variant_id, warehouse_id, direction, quantity, unit_cost,
			balance_quantity, balance_unit_cost, balance_value,
			owner_kind, owner_id, note, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, variantID, warehouseID, direction, quantity, bookedCost,
		balance.Quantity, balance.UnitCost, balance.Value,
		owner.Kind, owner.ID, nullIfEmpty(note), at)
	return err
}

func (s *Store) CreateSaleDraft(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireRow(ctx, tx, `SELECT 1 FROM series WHERE id = $1`, sale.SeriesID); err != nil {
		return nil, err
	}
	if err := requireRow(ctx, tx, `SELECT 1 FROM warehouses WHERE id = $1`, sale.WarehouseID); err != nil {
		return nil, err
	}

	sale.Status = domain.DocStatusDraft
	sale.Number = ""
	sale.PostedAt = nil
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (series_id, document_type, status, register_id, warehouse_id, customer_name, subtotal, tax_total, total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, sale.SeriesID, sale.DocumentType, sale.Status, nullIfEmpty(sale.RegisterID), sale.WarehouseID,
		nullIfEmpty(sale.CustomerName), sale.Subtotal, sale.TaxTotal, sale.Total, sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		return nil, err
	}

	for i := range sale.Lines {
		line := &sale.Lines[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sale_lines (sale_id, variant_id, quantity, unit_price, tax_rate, tax_amount)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, sale.ID, line.VariantID, line.Quantity, line.UnitPrice, line.TaxRate, line.TaxAmount).Scan(&line.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	sale, err := s.loadSale(ctx, s.db.QueryRowContext, saleID, "")
	if err != nil {
		return nil, err
	}
	sale.Lines, err = s.loadSaleLines(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

type rowQueryFunc func(ctx context.Context, query string, args ...any) *sql.Row

func (s *Store) loadSale(ctx context.Context, queryRow rowQueryFunc, saleID int64, suffix string) (*domain.Sale, error) {
	var sale domain.Sale
	var number, registerID, customerName sql.NullString
	var postedAt sql.NullTime
	err := queryRow(ctx, `
		SELECT id, series_id, document_type, number, status, register_id, warehouse_id,
		       customer_name, subtotal, tax_total, total, created_at, posted_at
		FROM sales
		WHERE id = $1
	`+suffix, saleID).Scan(
		&sale.ID, &sale.SeriesID, &sale.DocumentType, &number, &sale.Status, &registerID,
		&sale.WarehouseID, &customerName, &sale.Subtotal, &sale.TaxTotal, &sale.Total,
		&sale.CreatedAt, &postedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Number = number.String
	sale.RegisterID = registerID.String
	sale.CustomerName = customerName.String
	if postedAt.Valid {
		t := postedAt.Time
		sale.PostedAt = &t
	}
	return &sale, nil
}

func (s *Store) loadSaleLines(ctx context.Context, saleID int64) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity, unit_price, tax_rate, tax_amount
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSaleLines(rows)
}

func scanSaleLines(rows *sql.Rows) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.VariantID, &line.Quantity, &line.UnitPrice, &line.TaxRate, &line.TaxAmount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) PostSale(ctx context.Context, saleID int64, enforceStock bool) (*domain.Sale, error) {
	var sale *domain.Sale
	err := s.runSerializable(ctx, func(tx *sql.Tx) error {
		var err error
		sale, err = s.loadSale(ctx, tx.QueryRowContext, saleID, ` FOR UPDATE`)
		if err != nil {
			return err
		}
		if sale.Status != domain.DocStatusDraft {
			return store.ErrInvalidDocument
		}

		lineRows, err := tx.QueryContext(ctx, `
			SELECT id, variant_id, quantity, unit_price, tax_rate, tax_amount
			FROM sale_lines
			WHERE sale_id = $1
			ORDER BY id
		`, saleID)
		if err != nil {
			return err
		}
		sale.Lines, err = scanSaleLines(lineRows)
		_ = lineRows.Close()
		if err != nil {
			return err
		}
		if len(sale.Lines) == 0 {
			return store.ErrInvalidDocument
		}

		if enforceStock {
			required := make(map[int64]decimal.Decimal, len(sale.Lines))
			for _, line := range sale.Lines {
				required[line.VariantID] = required[line.VariantID].Add(line.Quantity)
			}
			for variantID, quantity := range required {
				last, err := lastBalanceQuery(ctx, tx, variantID, sale.WarehouseID, true)
				if err != nil {
					return err
				}
				// Whole units only, matching the sufficiency contract.
				if last.Quantity.Truncate(0).LessThan(quantity) {
					return fmt.Errorf("variant %d: %w", variantID, store.ErrInsufficientStock)
				}
			}
		}

		number, err := s.allocateTx(ctx, tx, sale.SeriesID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		owner := domain.OwnerRef{Kind: domain.OwnerSale, ID: sale.ID}
		for _, line := range sale.Lines {
			err = insertEntryTx(ctx, tx, owner, line.VariantID, sale.WarehouseID,
				domain.DirectionOut, line.Quantity, decimal.Zero, "venta "+number.Code(), now)
			if err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sales SET number = $2, status = $3, posted_at = $4 WHERE id = $1
		`, sale.ID, number.Code(), domain.DocStatusPosted, now)
		if err != nil {
			return err
		}

		sale.Number = number.Code()
		sale.Status = domain.DocStatusPosted
		sale.PostedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) CreatePurchaseDraft(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if len(purchase.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireRow(ctx, tx, `SELECT 1 FROM series WHERE id = $1`, purchase.SeriesID); err != nil {
		return nil, err
	}
	if err := requireRow(ctx, tx, `SELECT 1 FROM warehouses WHERE id = $1`, purchase.WarehouseID); err != nil {
		return nil, err
	}

	purchase.Status = domain.DocStatusDraft
	purchase.Number = ""
	purchase.PostedAt = nil
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO purchases (series_id, status, warehouse_id, supplier_name, total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, purchase.SeriesID, purchase.Status, purchase.WarehouseID,
		nullIfEmpty(purchase.SupplierName), purchase.Total, purchase.CreatedAt).Scan(&purchase.ID)
	if err != nil {
		return nil, err
	}

	for i := range purchase.Lines {
		line := &purchase.Lines[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO purchase_lines (purchase_id, variant_id, quantity, unit_cost, subtotal)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, purchase.ID, line.VariantID, line.Quantity, line.UnitCost, line.Subtotal).Scan(&line.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := purchase
	return &created, nil
}

func (s *Store) GetPurchase(ctx context.Context, purchaseID int64) (*domain.Purchase, error) {
	purchase, err := s.loadPurchase(ctx, s.db.QueryRowContext, purchaseID, "")
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity, unit_cost, subtotal
		FROM purchase_lines
		WHERE purchase_id = $1
		ORDER BY id
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	purchase.Lines, err = scanPurchaseLines(rows)
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func (s *Store) loadPurchase(ctx context.Context, queryRow rowQueryFunc, purchaseID int64, suffix string) (*domain.Purchase, error) {
	var purchase domain.Purchase
	var number, supplierName sql.NullString
	var postedAt sql.NullTime
	err := queryRow(ctx, `
		SELECT id, series_id, number, status, warehouse_id, supplier_name, total, created_at, posted_at
		FROM purchases
		WHERE id = $1
	`+suffix, purchaseID).Scan(
		&purchase.ID, &purchase.SeriesID, &number, &purchase.Status, &purchase.WarehouseID,
		&supplierName, &purchase.Total, &purchase.CreatedAt, &postedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	purchase.Number = number.String
	purchase.SupplierName = supplierName.String
	if postedAt.Valid {
		t := postedAt.Time
		purchase.PostedAt = &t
	}
	return &purchase, nil
}

func scanPurchaseLines(rows *sql.Rows) ([]domain.PurchaseLine, error) {
	lines := make([]domain.PurchaseLine, 0, 8)
	for rows.Next() {
		var line domain.PurchaseLine
		if err := rows.Scan(&line.ID, &line.VariantID, &line.Quantity, &line.UnitCost, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) PostPurchase(ctx context.Context, purchaseID int64) (*domain.Purchase, error) {
	var purchase *domain.Purchase
	err := s.runSerializable(ctx, func(tx *sql.Tx) error {
		var err error
		purchase, err = s.loadPurchase(ctx, tx.QueryRowContext, purchaseID, ` FOR UPDATE`)
		if err != nil {
			return err
		}
		if purchase.Status != domain.DocStatusDraft {
			return store.ErrInvalidDocument
		}

		lineRows, err := tx.QueryContext(ctx, `
			SELECT id, variant_id, quantity, unit_cost, subtotal
			FROM purchase_lines
			WHERE purchase_id = $1
			ORDER BY id
		`, purchaseID)
		if err != nil {
			return err
		}
		purchase.Lines, err = scanPurchaseLines(lineRows)
		_ = lineRows.Close()
		if err != nil {
			return err
		}
		if len(purchase.Lines) == 0 {
			return store.ErrInvalidDocument
		}

		number, err := s.allocateTx(ctx, tx, purchase.SeriesID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		owner := domain.OwnerRef{Kind: domain.OwnerPurchase, ID: purchase.ID}
		for _, line := range purchase.Lines {
			unitCost := ledger.UnitCostBasis(line.Subtotal, line.Quantity, line.UnitCost)
			err = insertEntryTx(ctx, tx, owner, line.VariantID, purchase.WarehouseID,
				domain.DirectionIn, line.Quantity, unitCost, "compra "+number.Code(), now)
			if err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE purchases SET number = $2, status = $3, posted_at = $4 WHERE id = $1
		`, purchase.ID, number.Code(), domain.DocStatusPosted, now)
		if err != nil {
			return err
		}

		purchase.Number = number.Code()
		purchase.Status = domain.DocStatusPosted
		purchase.PostedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func (s *Store) PostAdjustment(ctx context.Context, adjustment domain.Adjustment) (*domain.Adjustment, error) {
	err := s.runSerializable(ctx, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, `SELECT 1 FROM variants WHERE id = $1`, adjustment.VariantID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, `SELECT 1 FROM warehouses WHERE id = $1`, adjustment.WarehouseID); err != nil {
			return err
		}

		now := time.Now().UTC()
		adjustment.CreatedAt = now
		err := tx.QueryRowContext(ctx, `
			INSERT INTO adjustments (variant_id, warehouse_id, quantity, unit_cost, reason, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, adjustment.VariantID, adjustment.WarehouseID, adjustment.Quantity, adjustment.UnitCost,
			nullIfEmpty(adjustment.Reason), adjustment.CreatedAt).Scan(&adjustment.ID)
		if err != nil {
			return err
		}

		owner := domain.OwnerRef{Kind: domain.OwnerAdjustment, ID: adjustment.ID}
		note := adjustment.Reason
		if note == "" {
			note = "ajuste manual"
		}
		if adjustment.Quantity.Sign() >= 0 {
			return insertEntryTx(ctx, tx, owner, adjustment.VariantID, adjustment.WarehouseID,
				domain.DirectionIn, adjustment.Quantity, adjustment.UnitCost, note, now)
		}
		return insertEntryTx(ctx, tx, owner, adjustment.VariantID, adjustment.WarehouseID,
			domain.DirectionOut, adjustment.Quantity.Abs(), decimal.Zero, note, now)
	})
	if err != nil {
		return nil, err
	}

	created := adjustment
	return &created, nil
}

func (s *Store) PostCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error) {
	if len(note.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}

	err := s.runSerializable(ctx, func(tx *sql.Tx) error {
		sale, err := s.loadSale(ctx, tx.QueryRowContext, note.OriginalSaleID, ` FOR UPDATE`)
		if err != nil {
			return err
		}
		if sale.Status != domain.DocStatusPosted {
			return store.ErrInvalidDocument
		}
		if err := requireRow(ctx, tx, `SELECT 1 FROM series WHERE id = $1`, note.SeriesID); err != nil {
			return err
		}

		// Availability is re-checked under the sale lock: a credit note posted
		// in between must reduce what this one may return.
		original, err := sumQuantities(ctx, tx, `
			SELECT variant_id, COALESCE(SUM(quantity), 0)
			FROM sale_lines
			WHERE sale_id = $1
			GROUP BY variant_id
		`, note.OriginalSaleID)
		if err != nil {
			return err
		}
		credited, err := sumQuantities(ctx, tx, creditedQuantitiesQuery, note.OriginalSaleID)
		if err != nil {
			return err
		}
		for _, line := range note.Lines {
			available := original[line.VariantID].Sub(credited[line.VariantID])
			if line.Quantity.GreaterThan(available.Add(availabilityEpsilon)) {
				return store.NewValidationError(
					fmt.Sprintf("items.%d", line.VariantID),
					"requested %s exceeds available %s", line.Quantity.String(), available.String(),
				)
			}
		}

		number, err := s.allocateTx(ctx, tx, note.SeriesID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		note.Number = number.Code()
		note.Status = domain.DocStatusPosted
		note.CreatedAt = now
		note.PostedAt = &now
		err = tx.QueryRowContext(ctx, `
			INSERT INTO credit_notes (original_sale_id, series_id, number, status, register_id, warehouse_id, reason, refund_total, created_at, posted_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING id
		`, note.OriginalSaleID, note.SeriesID, note.Number, note.Status, nullIfEmpty(note.RegisterID),
			note.WarehouseID, nullIfEmpty(note.Reason), note.RefundTotal, note.CreatedAt, note.PostedAt).Scan(&note.ID)
		if err != nil {
			return err
		}

		owner := domain.OwnerRef{Kind: domain.OwnerCreditNote, ID: note.ID}
		for i := range note.Lines {
			line := &note.Lines[i]
			err = tx.QueryRowContext(ctx, `
				INSERT INTO credit_note_lines (credit_note_id, variant_id, quantity, unit_price, tax_rate, tax_amount)
				VALUES ($1,$2,$3,$4,$5,$6)
				RETURNING id
			`, note.ID, line.VariantID, line.Quantity, line.UnitPrice, line.TaxRate, line.TaxAmount).Scan(&line.ID)
			if err != nil {
				return err
			}

			unitCost := ledger.UnitCostBasis(line.Quantity.Mul(line.UnitPrice), line.Quantity, line.UnitPrice)
			err = insertEntryTx(ctx, tx, owner, line.VariantID, note.WarehouseID,
				domain.DirectionIn, line.Quantity, unitCost, "devolución "+number.Code(), now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	created := note
	return &created, nil
}

func (s *Store) GetCreditNote(ctx context.Context, noteID int64) (*domain.CreditNote, error) {
	var note domain.CreditNote
	var number, registerID, reason sql.NullString
	var postedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_sale_id, series_id, number, status, register_id, warehouse_id, reason, refund_total, created_at, posted_at
		FROM credit_notes
		WHERE id = $1
	`, noteID).Scan(
		&note.ID, &note.OriginalSaleID, &note.SeriesID, &number, &note.Status, &registerID,
		&note.WarehouseID, &reason, &note.RefundTotal, &note.CreatedAt, &postedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	note.Number = number.String
	note.RegisterID = registerID.String
	note.Reason = reason.String
	if postedAt.Valid {
		t := postedAt.Time
		note.PostedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity, unit_price, tax_rate, tax_amount
		FROM credit_note_lines
		WHERE credit_note_id = $1
		ORDER BY id
	`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	note.Lines, err = scanSaleLines(rows)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Store) ListCreditNotes(ctx context.Context, originalSaleID int64) ([]domain.CreditNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM credit_notes
		WHERE original_sale_id = $1
		ORDER BY id
	`, originalSaleID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, 4)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result := make([]domain.CreditNote, 0, len(ids))
	for _, id := range ids {
		note, err := s.GetCreditNote(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *note)
	}
	return result, nil
}

const creditedQuantitiesQuery = `
	SELECT l.variant_id, COALESCE(SUM(l.quantity), 0)
	FROM credit_note_lines l
	JOIN credit_notes n ON n.id = l.credit_note_id
	WHERE n.original_sale_id = $1 AND n.status = 'posted'
	GROUP BY l.variant_id
`

func (s *Store) CreditedQuantities(ctx context.Context, originalSaleID int64) (map[int64]decimal.Decimal, error) {
	return sumQuantities(ctx, s.db, creditedQuantitiesQuery, originalSaleID)
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sumQuantities(ctx context.Context, q rowsQuerier, query string, args ...any) (map[int64]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var variantID int64
		var quantity decimal.Decimal
		if err := rows.Scan(&variantID, &quantity); err != nil {
			return nil, err
		}
		result[variantID] = quantity
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var availabilityEpsilon = decimal.NewFromFloat(1e-5)

func requireRow(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// mapTxError translates postgres serialization failures into the retryable
// conflict sentinel.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return store.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
