// Package validation checks entity payloads at the API boundary.
// The sync envelope itself needs no validation; only the opaque payloads
// carry per-entity schemas.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/pkg/api"
)

// Payload validates an entity payload and returns field-level errors.
// An empty result means the payload is valid.
func Payload(entity string, payload json.RawMessage) []api.FieldError {
	if !models.KnownEntity(entity) {
		return []api.FieldError{{Field: "entity", Message: fmt.Sprintf("unknown entity %q", entity)}}
	}
	if len(payload) == 0 {
		return []api.FieldError{{Field: "payload", Message: "payload is required"}}
	}

	switch entity {
	case models.EntityProduct:
		return validateProduct(payload)
	case models.EntitySale:
		return validateSale(payload)
	case models.EntityCustomer:
		return validateCustomer(payload)
	case models.EntityEmployee:
		return validateEmployee(payload)
	case models.EntityCredit:
		return validateCredit(payload)
	case models.EntityPurchaseOrder:
		return validatePurchaseOrder(payload)
	case models.EntityClockEvent:
		return validateClockEvent(payload)
	case models.EntityStockMovement:
		return validateStockMovement(payload)
	}
	return nil
}

func parseError(entity string, err error) []api.FieldError {
	return []api.FieldError{{Field: "payload", Message: fmt.Sprintf("invalid %s payload: %v", entity, err)}}
}

func validateProduct(payload json.RawMessage) []api.FieldError {
	var p models.Product
	if err := json.Unmarshal(payload, &p); err != nil {
		return parseError(models.EntityProduct, err)
	}

	var errs []api.FieldError
	if p.Name == "" {
		errs = append(errs, api.FieldError{Field: "name", Message: "name is required"})
	}
	if p.Price < 0 {
		errs = append(errs, api.FieldError{Field: "price", Message: "price must not be negative"})
	}
	if p.Quantity < 0 {
		errs = append(errs, api.FieldError{Field: "quantity", Message: "quantity must not be negative"})
	}
	if p.MinStock < 0 {
		errs = append(errs, api.FieldError{Field: "min_stock", Message: "min_stock must not be negative"})
	}
	return errs
}

// validateSale проверяет продажу. Ссылки на товары по local id здесь
// допустимы: отказ от них — дело серверного обработчика /sales, который
// требует server id (см. SaleItemsPromoted).
func validateSale(payload json.RawMessage) []api.FieldError {
	var s models.Sale
	if err := json.Unmarshal(payload, &s); err != nil {
		return parseError(models.EntitySale, err)
	}

	var errs []api.FieldError
	if len(s.Items) == 0 {
		errs = append(errs, api.FieldError{Field: "items", Message: "sale must contain at least one item"})
	}
	for i, item := range s.Items {
		if item.ProductID == "" && item.ProductLocalID == 0 {
			errs = append(errs, api.FieldError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "item must reference a product"})
		}
		if item.Quantity <= 0 {
			errs = append(errs, api.FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "quantity must be positive"})
		}
	}
	if s.Total < 0 {
		errs = append(errs, api.FieldError{Field: "total", Message: "total must not be negative"})
	}
	if s.Status != "" && s.Status != models.SaleStatusCompleted && s.Status != models.SaleStatusVoided {
		errs = append(errs, api.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", s.Status)})
	}
	return errs
}

// SaleItemsPromoted rejects sale items that still reference products by a
// client-local id. The server only accepts server ids; the error message
// names the offending index and how to fix it.
func SaleItemsPromoted(payload json.RawMessage) []api.FieldError {
	var s models.Sale
	if err := json.Unmarshal(payload, &s); err != nil {
		return parseError(models.EntitySale, err)
	}

	var errs []api.FieldError
	for i, item := range s.Items {
		if item.ProductID == "" {
			errs = append(errs, api.FieldError{
				Field:   fmt.Sprintf("items[%d].product_id", i),
				Message: fmt.Sprintf("items[%d] references a product by local id; supply the product's server_id (sync the product first)", i),
			})
		}
	}
	if s.CustomerID == "" && s.CustomerLocalID != 0 {
		errs = append(errs, api.FieldError{
			Field:   "customer_id",
			Message: "customer is referenced by local id; supply the customer's server_id",
		})
	}
	return errs
}

func validateCustomer(payload json.RawMessage) []api.FieldError {
	var c models.Customer
	if err := json.Unmarshal(payload, &c); err != nil {
		return parseError(models.EntityCustomer, err)
	}

	var errs []api.FieldError
	if c.Name == "" {
		errs = append(errs, api.FieldError{Field: "name", Message: "name is required"})
	}
	if c.LoyaltyPoints < 0 {
		errs = append(errs, api.FieldError{Field: "loyalty_points", Message: "loyalty_points must not be negative"})
	}
	return errs
}

func validateEmployee(payload json.RawMessage) []api.FieldError {
	var e models.Employee
	if err := json.Unmarshal(payload, &e); err != nil {
		return parseError(models.EntityEmployee, err)
	}

	var errs []api.FieldError
	if e.Name == "" {
		errs = append(errs, api.FieldError{Field: "name", Message: "name is required"})
	}
	return errs
}

func validateCredit(payload json.RawMessage) []api.FieldError {
	var c models.Credit
	if err := json.Unmarshal(payload, &c); err != nil {
		return parseError(models.EntityCredit, err)
	}

	var errs []api.FieldError
	if c.CustomerID == "" && c.CustomerLocalID == 0 {
		errs = append(errs, api.FieldError{Field: "customer_id", Message: "credit must reference a customer"})
	}
	if c.Amount <= 0 {
		errs = append(errs, api.FieldError{Field: "amount", Message: "amount must be positive"})
	}
	if c.Status != "" && c.Status != models.CreditStatusOpen && c.Status != models.CreditStatusPaid {
		errs = append(errs, api.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", c.Status)})
	}
	return errs
}

func validatePurchaseOrder(payload json.RawMessage) []api.FieldError {
	var po models.PurchaseOrder
	if err := json.Unmarshal(payload, &po); err != nil {
		return parseError(models.EntityPurchaseOrder, err)
	}

	var errs []api.FieldError
	if po.Supplier == "" {
		errs = append(errs, api.FieldError{Field: "supplier", Message: "supplier is required"})
	}
	if len(po.Items) == 0 {
		errs = append(errs, api.FieldError{Field: "items", Message: "purchase order must contain at least one item"})
	}
	for i, item := range po.Items {
		if item.ProductID == "" && item.ProductLocalID == 0 {
			errs = append(errs, api.FieldError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "item must reference a product"})
		}
		if item.Quantity <= 0 {
			errs = append(errs, api.FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "quantity must be positive"})
		}
	}
	if po.Status != "" && po.Status != models.PurchaseOrderStatusOpen && po.Status != models.PurchaseOrderStatusReceived {
		errs = append(errs, api.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", po.Status)})
	}
	return errs
}

func validateClockEvent(payload json.RawMessage) []api.FieldError {
	var e models.ClockEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return parseError(models.EntityClockEvent, err)
	}

	var errs []api.FieldError
	if e.EmployeeID == "" && e.EmployeeLocalID == 0 {
		errs = append(errs, api.FieldError{Field: "employee_id", Message: "clock event must reference an employee"})
	}
	if e.Kind != models.ClockIn && e.Kind != models.ClockOut {
		errs = append(errs, api.FieldError{Field: "kind", Message: `kind must be "in" or "out"`})
	}
	if e.At.IsZero() {
		errs = append(errs, api.FieldError{Field: "at", Message: "at is required"})
	}
	return errs
}

func validateStockMovement(payload json.RawMessage) []api.FieldError {
	var m models.StockMovement
	if err := json.Unmarshal(payload, &m); err != nil {
		return parseError(models.EntityStockMovement, err)
	}

	var errs []api.FieldError
	if m.ProductID == "" && m.ProductLocalID == 0 {
		errs = append(errs, api.FieldError{Field: "product_id", Message: "movement must reference a product"})
	}
	if m.Delta == 0 {
		errs = append(errs, api.FieldError{Field: "delta", Message: "delta must not be zero"})
	}
	if m.Reason == "" {
		errs = append(errs, api.FieldError{Field: "reason", Message: "reason is required"})
	}
	return errs
}
