package order

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusShipping  OrderStatus = "SHIPPING"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFulfilled OrderStatus = "FULFILLED"
)

func (os OrderStatus) String() string {
	return string(os)
}

// ParseStatus validates a caller-supplied status value.
func ParseStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case StatusPending, StatusShipping, StatusCancelled, StatusFulfilled:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// StockEffect returns the per-unit inventory delta a status transition
// implies: -1 debits every line item's quantity from its product, +1 credits
// it back, 0 leaves stock untouched. Unlisted pairs are plain status writes.
func StockEffect(from, to OrderStatus) int {
	switch {
	case from == StatusPending && to == StatusShipping:
		return -1
	case from == StatusShipping && to == StatusPending:
		return 1
	default:
		return 0
	}
}

type LineItem struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID uuid.UUID       `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type Order struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	BuyerID            uuid.UUID       `json:"buyer_id" db:"buyer_id"`
	Status             OrderStatus     `json:"status" db:"status"`
	LineItems          []LineItem      `json:"line_items" db:"-"`
	TotalPrice         decimal.Decimal `json:"total_price" db:"total_price"`
	DeliveryAddress    string          `json:"delivery_address" db:"delivery_address"`
	Notes              []string        `json:"notes" db:"notes"`
	HandlerID          uuid.NullUUID   `json:"handler_id" db:"handler_id"`
	PromisedDeliveryAt time.Time       `json:"promised_delivery_at" db:"promised_delivery_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// deliveryLeadTime is the window promised to the buyer at creation.
// Informational only, nothing enforces it.
const deliveryLeadTime = 7 * 24 * time.Hour
