package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ListFilter narrows the admin order listing. A zero Status means "every
// status except cancelled", matching the storefront dashboard default.
type ListFilter struct {
	Status      OrderStatus
	BuyerID     uuid.NullUUID
	CreatedFrom time.Time
	CreatedTo   time.Time
	Page        int
	Limit       int
}

// TransitionParams describes one requested status change.
type TransitionParams struct {
	OrderID        uuid.UUID
	Target         OrderStatus
	HandlerID      uuid.NullUUID
	IdempotencyKey string
}

// RevertParams describes a privileged Fulfilled -> Pending revert. The
// secret check happens in the service, before any of this runs.
type RevertParams struct {
	OrderID        uuid.UUID
	HandlerID      uuid.NullUUID
	IdempotencyKey string
}

// TransitionResult reports what a transition actually did. Applied is false
// when the idempotency key matched the last applied one and the call was a
// no-op.
type TransitionResult struct {
	Order    *Order
	Previous OrderStatus
	Applied  bool
}

type Repository interface {
	CreateOrder(ctx context.Context, o *Order) (uuid.UUID, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error)
	GetOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, statuses []OrderStatus) ([]Order, error)
	ApplyTransition(ctx context.Context, p TransitionParams) (*TransitionResult, error)
	RevertFulfilled(ctx context.Context, p RevertParams) (*TransitionResult, error)
	AppendNote(ctx context.Context, orderID uuid.UUID, text string) (*Order, error)
	RemoveNote(ctx context.Context, orderID uuid.UUID, index int) (*Order, error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// withTx runs fn inside one transaction: every write either commits with the
// rest or none of them survive. Failures are folded through classifyPgError
// so serialization aborts surface as ErrTxConflict.
func (r *postgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", classifyPgError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
		}
		return classifyPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", classifyPgError(err))
	}

	return nil
}

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) (uuid.UUID, error) {
	orderID := o.ID
	if orderID == uuid.Nil {
		genID, err := uuid.NewV4()
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		orderID = genID
	}
	o.ID = orderID

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Notes == nil {
		o.Notes = []string{}
	}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO orders (id, buyer_id, status, total_price, delivery_address, notes, handler_id, promised_delivery_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err := tx.Exec(ctx, queryOrder,
			orderID,
			o.BuyerID,
			string(o.Status),
			o.TotalPrice,
			o.DeliveryAddress,
			o.Notes,
			o.HandlerID,
			o.PromisedDeliveryAt,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		for i := range o.LineItems {
			item := &o.LineItems[i]

			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate line item ID: %w", err)
			}
			item.ID = itemID
			item.OrderID = orderID
			item.CreatedAt = now
			item.UpdatedAt = now

			_, err = tx.Exec(ctx, queryItem,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.Quantity,
				item.UnitPrice,
				item.CreatedAt,
				item.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert line item for order %s: %w", orderID, err)
			}
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	return orderID, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return r.getOrder(ctx, r.db, orderID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so reads can run
// either standalone or inside an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *postgresRepository) getOrder(ctx context.Context, q querier, orderID uuid.UUID) (*Order, error) {
	queryOrder := `
		SELECT id, buyer_id, status, total_price, delivery_address, notes, handler_id, promised_delivery_at, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := q.QueryRow(ctx, queryOrder, orderID).Scan(
		&o.ID,
		&o.BuyerID,
		&o.Status,
		&o.TotalPrice,
		&o.DeliveryAddress,
		&o.Notes,
		&o.HandlerID,
		&o.PromisedDeliveryAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, classifyPgError(err))
	}

	items, err := r.loadLineItems(ctx, q, []uuid.UUID{orderID})
	if err != nil {
		return nil, err
	}
	o.LineItems = items[orderID]
	if o.LineItems == nil {
		o.LineItems = []LineItem{}
	}

	return &o, nil
}

func (r *postgresRepository) loadLineItems(ctx context.Context, q querier, orderIDs []uuid.UUID) (map[uuid.UUID][]LineItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, created_at, updated_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`

	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query line items: %w", classifyPgError(err))
	}
	defer rows.Close()

	itemsByOrder := make(map[uuid.UUID][]LineItem)
	for rows.Next() {
		var item LineItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan line item: %w", err)
		}
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating line items: %w", err)
	}

	return itemsByOrder, nil
}

func (r *postgresRepository) ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := ""
	args := []any{}
	addCond := func(cond string, arg any) {
		args = append(args, arg)
		cond = fmt.Sprintf(cond, len(args))
		if where == "" {
			where = "WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}

	// Cancelled orders are hidden unless asked for explicitly.
	if f.Status != "" {
		addCond("status = $%d", string(f.Status))
	} else {
		addCond("status <> $%d", string(StatusCancelled))
	}
	if f.BuyerID.Valid {
		addCond("buyer_id = $%d", f.BuyerID.UUID)
	}
	if !f.CreatedFrom.IsZero() {
		addCond("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		addCond("created_at <= $%d", f.CreatedTo)
	}

	var total int
	countQuery := "SELECT count(*) FROM orders " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", classifyPgError(err))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	listQuery := fmt.Sprintf(`
		SELECT id, buyer_id, status, total_price, delivery_address, notes, handler_id, promised_delivery_at, created_at, updated_at
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	orders, err := r.queryOrders(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *postgresRepository) GetOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, statuses []OrderStatus) ([]Order, error) {
	query := `
		SELECT id, buyer_id, status, total_price, delivery_address, notes, handler_id, promised_delivery_at, created_at, updated_at
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC
	`
	args := []any{buyerID}

	if len(statuses) > 0 {
		raw := make([]string, 0, len(statuses))
		for _, s := range statuses {
			raw = append(raw, string(s))
		}
		query = `
			SELECT id, buyer_id, status, total_price, delivery_address, notes, handler_id, promised_delivery_at, created_at, updated_at
			FROM orders
			WHERE buyer_id = $1 AND status = ANY($2)
			ORDER BY created_at DESC
		`
		args = append(args, raw)
	}

	return r.queryOrders(ctx, query, args...)
}

func (r *postgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", classifyPgError(err))
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID,
			&o.BuyerID,
			&o.Status,
			&o.TotalPrice,
			&o.DeliveryAddress,
			&o.Notes,
			&o.HandlerID,
			&o.PromisedDeliveryAt,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		o.LineItems = []LineItem{}
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	itemsByOrder, err := r.loadLineItems(ctx, r.db, orderIDs)
	if err != nil {
		return nil, err
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		o := ordersMap[id]
		if items, ok := itemsByOrder[id]; ok {
			o.LineItems = items
		}
		result = append(result, *o)
	}

	return result, nil
}

func (r *postgresRepository) ApplyTransition(ctx context.Context, p TransitionParams) (*TransitionResult, error) {
	res := &TransitionResult{}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		return r.transitionTx(ctx, tx, transition{
			orderID:        p.OrderID,
			target:         p.Target,
			handlerID:      p.HandlerID,
			idempotencyKey: p.IdempotencyKey,
		}, res)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (r *postgresRepository) RevertFulfilled(ctx context.Context, p RevertParams) (*TransitionResult, error) {
	res := &TransitionResult{}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		return r.transitionTx(ctx, tx, transition{
			orderID:          p.OrderID,
			target:           StatusPending,
			handlerID:        p.HandlerID,
			idempotencyKey:   p.IdempotencyKey,
			requireFulfilled: true,
			creditAllItems:   true,
		}, res)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

type transition struct {
	orderID        uuid.UUID
	target         OrderStatus
	handlerID      uuid.NullUUID
	idempotencyKey string

	// revert path: the order must be fulfilled and every line item is
	// credited back regardless of the transition table.
	requireFulfilled bool
	creditAllItems   bool
}

// transitionTx is the one atomic unit of the engine: it reads the order
// under a row lock, applies the implied stock deltas to every referenced
// product as relative updates, and writes the new status — all inside the
// caller's transaction.
func (r *postgresRepository) transitionTx(ctx context.Context, tx pgx.Tx, t transition, res *TransitionResult) error {
	var (
		current string
		lastKey *string
	)
	err := tx.QueryRow(ctx, `
		SELECT status, last_transition_key
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, t.orderID).Scan(&current, &lastKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to lock order %s: %w", t.orderID, err)
	}

	res.Previous = OrderStatus(current)

	// A repeated idempotency key means this exact transition already
	// committed; report the current state without touching anything. This
	// is checked before any precondition so a retried revert that already
	// moved the order out of FULFILLED still no-ops instead of failing.
	if t.idempotencyKey != "" && lastKey != nil && *lastKey == t.idempotencyKey {
		res.Applied = false
		return r.loadResultOrder(ctx, tx, t.orderID, res)
	}

	if t.requireFulfilled && res.Previous != StatusFulfilled {
		return ErrOrderNotFulfilled
	}

	effect := StockEffect(res.Previous, t.target)
	if t.creditAllItems {
		effect = 1
	}

	if effect != 0 {
		if err := r.adjustStockTx(ctx, tx, t.orderID, effect); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    handler_id = COALESCE($3::uuid, handler_id),
		    last_transition_key = NULLIF($4, ''),
		    updated_at = $5
		WHERE id = $1
	`, t.orderID, string(t.target), t.handlerID, t.idempotencyKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s status: %w", t.orderID, err)
	}

	res.Applied = true
	return r.loadResultOrder(ctx, tx, t.orderID, res)
}

// loadResultOrder fills res.Order from inside the transaction, while the row
// lock is still held, so the result reflects exactly what this call committed
// rather than whatever a concurrent transition wrote afterwards.
func (r *postgresRepository) loadResultOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, res *TransitionResult) error {
	o, err := r.getOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	res.Order = o
	return nil
}

// adjustStockTx applies sign * quantity to each line item's product counter.
// The update is relative, so concurrent transitions on different orders
// sharing a product combine instead of overwriting each other. Products that
// no longer exist are skipped, and no floor is enforced: the counter may go
// negative, exactly as the storefront always behaved.
func (r *postgresRepository) adjustStockTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, sign int) error {
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to query line items for order %s: %w", orderID, err)
	}

	type itemDelta struct {
		productID uuid.UUID
		delta     int
	}
	var deltas []itemDelta
	for rows.Next() {
		var (
			productID uuid.UUID
			quantity  int
		)
		if err := rows.Scan(&productID, &quantity); err != nil {
			rows.Close()
			return fmt.Errorf("repository: failed to scan line item for order %s: %w", orderID, err)
		}
		deltas = append(deltas, itemDelta{productID: productID, delta: sign * quantity})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating line items for order %s: %w", orderID, err)
	}

	for _, d := range deltas {
		cmdTag, err := tx.Exec(ctx, `
			UPDATE products
			SET quantity = quantity + $2, updated_at = $3
			WHERE id = $1
		`, d.productID, d.delta, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("repository: failed to adjust stock for product %s: %w", d.productID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("product_id", d.productID).
				Msg("repository: product missing during stock adjustment, skipped")
		}
	}

	return nil
}

func (r *postgresRepository) AppendNote(ctx context.Context, orderID uuid.UUID, text string) (*Order, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET notes = array_append(notes, $2), updated_at = $3
		WHERE id = $1
	`, orderID, text, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("repository: failed to append note to order %s: %w", orderID, classifyPgError(err))
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrOrderNotFound
	}

	return r.GetOrderByID(ctx, orderID)
}

func (r *postgresRepository) RemoveNote(ctx context.Context, orderID uuid.UUID, index int) (*Order, error) {
	var result *Order
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var notes []string
		err := tx.QueryRow(ctx, `
			SELECT notes
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, orderID).Scan(&notes)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("repository: failed to lock order %s notes: %w", orderID, err)
		}

		if index < 0 || index >= len(notes) {
			return fmt.Errorf("%w: index %d, %d notes", ErrNoteIndexOutOfRange, index, len(notes))
		}

		updated := make([]string, 0, len(notes)-1)
		updated = append(updated, notes[:index]...)
		updated = append(updated, notes[index+1:]...)

		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET notes = $2, updated_at = $3
			WHERE id = $1
		`, orderID, updated, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("repository: failed to update order %s notes: %w", orderID, err)
		}

		result, err = r.getOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteOrder is a hard delete. Stock reserved by the order is not credited
// back; the storefront never reconciled inventory on delete.
func (r *postgresRepository) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", orderID, classifyPgError(err))
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	log.Info().Stringer("order_id", orderID).Msg("repository: order deleted")
	return nil
}
