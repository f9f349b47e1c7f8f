package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm_backend/internal/orders/domain"
)

const (
	orderColumns = `id, customer_id, contact_email, ship_address, ship_city, ship_postal_code, ship_country,
		payment_method, payment_state, payment_result, paid_at, fulfillment_state, delivered_at, cancelled_at,
		items_total_cents, tax_cents, shipping_cents, grand_total_cents, created_at, updated_at`

	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"

	txAttempts = 3
)

// Repo implements the orders repository.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new orders repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// GetProductsForItems loads the catalog rows referenced by an order.
func (r *Repo) GetProductsForItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ProductSnapshot, error) {
	query := `SELECT id, name, price_cents, image_url, stock_level FROM catalog_products WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get products for items: %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]ProductSnapshot, len(ids))
	for rows.Next() {
		var p ProductSnapshot
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.ImageURL, &p.StockLevel); err != nil {
			return nil, fmt.Errorf("scan product snapshot: %w", err)
		}
		products[p.ID] = p
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate product snapshots: %w", rows.Err())
	}
	return products, nil
}

// CreateWithStock locks the referenced products in id order, decrements each one
// conditionally and inserts the order with its items, all in one transaction.
func (r *Repo) CreateWithStock(ctx context.Context, params CreateOrderParams) (Order, error) {
	var orderID uuid.UUID
	err := r.withTxRetry(ctx, func(tx pgx.Tx) error {
		if err := deductStock(ctx, tx, params.Items); err != nil {
			return err
		}
		id, err := insertOrder(ctx, tx, params)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return r.GetByID(ctx, orderID)
}

type stockLine struct {
	productID uuid.UUID
	name      string
	quantity  int
}

func aggregateLines(items []domain.LineItem) []stockLine {
	index := make(map[uuid.UUID]int, len(items))
	lines := make([]stockLine, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			lines[i].quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, stockLine{productID: item.ProductID, name: item.Name, quantity: item.Quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].productID.String() < lines[j].productID.String() })
	return lines
}

func deductStock(ctx context.Context, tx pgx.Tx, items []domain.LineItem) error {
	lines := aggregateLines(items)
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.productID)
	}

	rows, err := tx.Query(ctx, `SELECT id, stock_level FROM catalog_products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("lock products: %w", err)
	}
	available := make(map[uuid.UUID]int, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var stock int
		if err := rows.Scan(&id, &stock); err != nil {
			rows.Close()
			return fmt.Errorf("scan locked product: %w", err)
		}
		available[id] = stock
	}
	rows.Close()
	if rows.Err() != nil {
		return fmt.Errorf("iterate locked products: %w", rows.Err())
	}

	for _, line := range lines {
		stock, ok := available[line.productID]
		if !ok {
			return domain.ProductNotFound(line.productID)
		}
		if stock < line.quantity {
			return domain.InsufficientStock(domain.StockShortage{
				ProductID: line.productID, Name: line.name, Requested: line.quantity, Available: stock,
			})
		}

		tag, err := tx.Exec(ctx, `
			UPDATE catalog_products
			SET stock_level = stock_level - $2, updated_at = now()
			WHERE id = $1 AND stock_level >= $2`, line.productID, line.quantity)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return domain.InsufficientStock(domain.StockShortage{
				ProductID: line.productID, Name: line.name, Requested: line.quantity, Available: stock,
			})
		}
	}
	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, params CreateOrderParams) (uuid.UUID, error) {
	var orderID uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO orders (
			customer_id, contact_email, ship_address, ship_city, ship_postal_code, ship_country,
			payment_method, items_total_cents, tax_cents, shipping_cents, grand_total_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		params.CustomerID, params.ContactEmail, params.ShipAddress, params.ShipCity, params.ShipPostalCode,
		params.ShipCountry, params.PaymentMethod, params.ItemsTotalCents, params.TaxCents,
		params.ShippingCents, params.GrandTotalCents,
	).Scan(&orderID)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range params.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, name, quantity, unit_price_cents, image_url, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			orderID, item.ProductID, item.Name, item.Quantity, domain.ToCents(item.UnitPrice), item.ImageURL, i,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.UUID{}, fmt.Errorf("insert order items: %w", err)
	}
	return orderID, nil
}

// Cancel performs the conditional state change and the stock restore in one transaction,
// so a repeated cancel never credits stock twice.
func (r *Repo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (Order, bool, error) {
	restored := false
	err := r.withTxRetry(ctx, func(tx pgx.Tx) error {
		restored = false
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET fulfillment_state = 'cancelled', cancelled_at = $2, updated_at = now()
			WHERE id = $1 AND fulfillment_state IN ('pending', 'processing')`, id, at)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			current, err := currentState(ctx, tx, id)
			if err != nil {
				return err
			}
			if current == domain.FulfillmentCancelled {
				return nil
			}
			return domain.InvalidTransition(current, domain.FulfillmentCancelled)
		}

		if err := restoreStock(ctx, tx, id); err != nil {
			return err
		}
		restored = true
		return nil
	})
	if err != nil {
		return Order{}, false, err
	}

	order, err := r.GetByID(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	return order, restored, nil
}

func restoreStock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	rows, err := tx.Query(ctx, `
		SELECT product_id, SUM(quantity)::int
		FROM order_items
		WHERE order_id = $1
		GROUP BY product_id
		ORDER BY product_id`, orderID)
	if err != nil {
		return fmt.Errorf("load order items for restock: %w", err)
	}
	type restock struct {
		productID uuid.UUID
		quantity  int
	}
	var lines []restock
	for rows.Next() {
		var line restock
		if err := rows.Scan(&line.productID, &line.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan restock line: %w", err)
		}
		lines = append(lines, line)
	}
	rows.Close()
	if rows.Err() != nil {
		return fmt.Errorf("iterate restock lines: %w", rows.Err())
	}

	for _, line := range lines {
		if _, err := tx.Exec(ctx, `
			UPDATE catalog_products
			SET stock_level = stock_level + $2, updated_at = now()
			WHERE id = $1`, line.productID, line.quantity); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}
	return nil
}

func currentState(ctx context.Context, q pgx.Tx, id uuid.UUID) (domain.FulfillmentState, error) {
	var state string
	if err := q.QueryRow(ctx, `SELECT fulfillment_state FROM orders WHERE id = $1`, id).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.OrderNotFound()
		}
		return "", fmt.Errorf("get order state: %w", err)
	}
	return domain.FulfillmentState(state), nil
}

// UpdateFulfillment applies a conditional state change. Reaching delivered stamps
// delivered_at once.
func (r *Repo) UpdateFulfillment(ctx context.Context, id uuid.UUID, target domain.FulfillmentState, from []domain.FulfillmentState, at time.Time) (Order, error) {
	sources := make([]string, 0, len(from))
	for _, s := range from {
		sources = append(sources, string(s))
	}

	err := r.withTxRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET fulfillment_state = $2,
				delivered_at = CASE WHEN $2 = 'delivered' THEN COALESCE(delivered_at, $4) ELSE delivered_at END,
				updated_at = now()
			WHERE id = $1 AND fulfillment_state = ANY($3)`, id, string(target), sources, at)
		if err != nil {
			return fmt.Errorf("update fulfillment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			current, err := currentState(ctx, tx, id)
			if err != nil {
				return err
			}
			return domain.InvalidTransition(current, target)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return r.GetByID(ctx, id)
}

// MarkPaid records the payment result for an unpaid, not cancelled order.
func (r *Repo) MarkPaid(ctx context.Context, params MarkPaidParams) (Order, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET payment_state = 'paid', paid_at = $2, payment_result = $3, updated_at = now()
		WHERE id = $1 AND payment_state = 'unpaid' AND fulfillment_state <> 'cancelled'`,
		params.ID, params.PaidAt, params.PaymentResult)
	if err != nil {
		return Order{}, fmt.Errorf("mark order paid: %w", err)
	}

	order, err := r.GetByID(ctx, params.ID)
	if err != nil {
		return Order{}, err
	}
	if tag.RowsAffected() == 0 && order.PaymentState != domain.PaymentPaid {
		return Order{}, domain.CannotPayCancelled()
	}
	return order, nil
}

// GetByID retrieves an order with its items.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, domain.OrderNotFound()
		}
		return Order{}, fmt.Errorf("get order by id: %w", err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return Order{}, err
	}
	order.Items = items[id]
	return order, nil
}

// List lists orders newest first, optionally scoped to one customer.
func (r *Repo) List(ctx context.Context, params ListParams) ([]Order, int, error) {
	whereClauses := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	if params.CustomerID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("customer_id = $%d", argIdx))
		args = append(args, *params.CustomerID)
		argIdx++
	}
	if params.FulfillmentState != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("fulfillment_state = $%d", argIdx))
		args = append(args, params.FulfillmentState)
		argIdx++
	}
	whereClause := strings.Join(whereClauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT $%d OFFSET $%d`, orderColumns, whereClause, argIdx, argIdx+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", rows.Err())
	}

	if len(ids) > 0 {
		items, err := r.itemsFor(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range orders {
			orders[i].Items = items[orders[i].ID]
		}
	}
	return orders, total, nil
}

func (r *Repo) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, id, product_id, name, quantity, unit_price_cents, image_url
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, sort_order`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID uuid.UUID
		var item OrderItem
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPriceCents, &item.ImageURL); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate order items: %w", rows.Err())
	}
	return items, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var paymentState, fulfillmentState string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.ContactEmail, &o.ShipAddress, &o.ShipCity, &o.ShipPostalCode, &o.ShipCountry,
		&o.PaymentMethod, &paymentState, &o.PaymentResult, &o.PaidAt, &fulfillmentState, &o.DeliveredAt, &o.CancelledAt,
		&o.ItemsTotalCents, &o.TaxCents, &o.ShippingCents, &o.GrandTotalCents, &o.CreatedAt, &o.UpdatedAt,
	)
	o.PaymentState = domain.PaymentState(paymentState)
	o.FulfillmentState = domain.FulfillmentState(fulfillmentState)
	return o, err
}

// withTxRetry runs fn in a transaction, retrying on deadlocks and serialization failures.
func (r *Repo) withTxRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		lastErr = r.inTx(ctx, fn)
		if lastErr == nil || !isRetryable(lastErr) || attempt == txAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50*attempt) * time.Millisecond):
		}
	}
	return lastErr
}

func (r *Repo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDeadlockDetected || pgErr.Code == pgSerializationFailure
	}
	return false
}
