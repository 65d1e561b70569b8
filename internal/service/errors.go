package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidState       = errors.New("operation not allowed in the current order state")
	ErrLineNotInOrder     = errors.New("order line does not belong to the order")
	ErrPieceNotInTemplate = errors.New("piece does not belong to the line's product")
	ErrDuplicateRequest   = errors.New("request already processed")
)
