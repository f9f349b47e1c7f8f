package domain

import (
	"fmt"

	"github.com/google/uuid"

	"crm_backend/platform/apperr"
)

// Machine readable error codes for the order workflow.
const (
	CodeInvalidOrder      = "INVALID_ORDER"
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeOrderNotFound     = "ORDER_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
)

// StockShortage describes one product that cannot satisfy the requested quantity.
type StockShortage struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

func InvalidOrder(message string) *apperr.Error {
	return apperr.Validation(message).WithCode(CodeInvalidOrder)
}

func ProductNotFound(id uuid.UUID) *apperr.Error {
	return apperr.NotFound(fmt.Sprintf("product not found with id of %s", id)).
		WithCode(CodeProductNotFound).
		WithDetails(map[string]interface{}{"productId": id})
}

func InsufficientStock(shortage StockShortage) *apperr.Error {
	return apperr.Conflict(fmt.Sprintf("not enough stock for %s, only %d available", shortage.Name, shortage.Available)).
		WithCode(CodeInsufficientStock).
		WithDetails(shortage)
}

func OrderNotFound() *apperr.Error {
	return apperr.NotFound("order not found").WithCode(CodeOrderNotFound)
}

func InvalidTransition(from, to FulfillmentState) *apperr.Error {
	return apperr.Conflict(fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithCode(CodeInvalidTransition).
		WithDetails(map[string]interface{}{"from": from, "to": to})
}

func CannotPayCancelled() *apperr.Error {
	return apperr.Conflict("cancelled orders cannot be paid").WithCode(CodeInvalidTransition)
}
