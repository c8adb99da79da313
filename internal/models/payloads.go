package models

import "time"

// Payload schemas for the entity variants. The sync envelope treats these
// as opaque bytes; they are validated at the API boundary only.

// Product представляет товар в каталоге магазина.
// Quantity никогда не пишется напрямую через generic update:
// изменения количества идут только через stock-mutation протокол.
type Product struct {
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Cost     float64 `json:"cost"`
	Quantity int64   `json:"quantity"`
	MinStock int64   `json:"min_stock"`
	Active   bool    `json:"active"`
}

// LowStock reports whether the product is at or below its reorder floor.
func (p *Product) LowStock() bool {
	return p.Quantity <= p.MinStock
}

// SaleItem представляет одну позицию продажи.
// ProductID (server id) обязателен на сервере; ProductLocalID используется
// только в офлайн-очереди клиента до промоции товара.
type SaleItem struct {
	ProductID      string  `json:"product_id,omitempty"`
	ProductLocalID uint64  `json:"product_local_id,omitempty"`
	Quantity       int64   `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
}

// Sale statuses.
const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

// Sale представляет завершенную продажу.
type Sale struct {
	Items           []SaleItem `json:"items"`
	CustomerID      string     `json:"customer_id,omitempty"`
	CustomerLocalID uint64     `json:"customer_local_id,omitempty"`
	Payment         string     `json:"payment"`
	Status          string     `json:"status"`
	Total           float64    `json:"total"`
}

// Customer представляет покупателя магазина.
type Customer struct {
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	LoyaltyPoints int64  `json:"loyalty_points"`
	Active        bool   `json:"active"`
}

// Employee представляет сотрудника магазина.
type Employee struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// Credit statuses.
const (
	CreditStatusOpen = "open"
	CreditStatusPaid = "paid"
)

// Credit представляет покупку в долг, привязанную к покупателю.
type Credit struct {
	DueDate         time.Time `json:"due_date"`
	CustomerID      string    `json:"customer_id,omitempty"`
	Status          string    `json:"status"`
	CustomerLocalID uint64    `json:"customer_local_id,omitempty"`
	Amount          float64   `json:"amount"`
}

// PurchaseOrderItem представляет одну позицию заказа поставщику.
type PurchaseOrderItem struct {
	ProductID      string  `json:"product_id,omitempty"`
	ProductLocalID uint64  `json:"product_local_id,omitempty"`
	Quantity       int64   `json:"quantity"`
	UnitCost       float64 `json:"unit_cost"`
}

// Purchase order statuses.
const (
	PurchaseOrderStatusOpen     = "open"
	PurchaseOrderStatusReceived = "received"
)

// PurchaseOrder представляет заказ поставщику.
// При получении (status=received) сервер применяет stock-дельты позиций.
type PurchaseOrder struct {
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	Supplier   string              `json:"supplier"`
	Status     string              `json:"status"`
	Items      []PurchaseOrderItem `json:"items"`
}

// Clock event kinds.
const (
	ClockIn  = "in"
	ClockOut = "out"
)

// ClockEvent представляет отметку прихода/ухода сотрудника.
type ClockEvent struct {
	At              time.Time `json:"at"`
	EmployeeID      string    `json:"employee_id,omitempty"`
	Kind            string    `json:"kind"`
	EmployeeLocalID uint64    `json:"employee_local_id,omitempty"`
}

// StockMovement представляет знаковую дельту количества товара.
// Это first-class событие аудита: каждая серверная мутация stock
// порождает такую запись с количеством до и после.
type StockMovement struct {
	ProductID      string `json:"product_id,omitempty"`
	Reason         string `json:"reason"`
	RefKey         string `json:"ref_key,omitempty"` // RefKey idempotency key исходной операции
	ProductLocalID uint64 `json:"product_local_id,omitempty"`
	Delta          int64  `json:"delta"`
	QuantityBefore int64  `json:"quantity_before"`
	QuantityAfter  int64  `json:"quantity_after"`
}

// Stock movement reasons.
const (
	StockReasonSale       = "sale"
	StockReasonVoid       = "void"
	StockReasonReceipt    = "receipt"
	StockReasonAdjustment = "adjustment"
	StockReasonTransfer   = "transfer"
)
