// Package apierrors provides typed domain errors, namespaced error codes and
// their HTTP rendering. Codes look like "core:not_found" or "asset:invalid_state".
package apierrors

import "net/http"

// Kind classifies a rejected operation.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

// Core error codes - registered automatically at init
const (
	CodeUnauthorized = "core:unauthorized"
	CodeForbidden    = "core:forbidden"
	CodeInvalidToken = "core:invalid_token"
	CodeTokenExpired = "core:token_expired"
	CodeRateLimited  = "core:rate_limited"

	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"

	CodeNotFound     = "core:not_found"
	CodeConflict     = "core:conflict"
	CodeInvalidState = "core:invalid_state"

	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"
)

// Domain error codes, one namespace per subsystem.
const (
	CodeAssetNotFound        = "asset:not_found"
	CodeAssetInvalidState    = "asset:invalid_state"
	CodeAssetExists          = "asset:already_exists"
	CodeAssetHasHistory      = "asset:has_history"
	CodeAssetTransferPending = "asset:transfer_pending"
	CodeEmployeeNotFound     = "directory:employee_not_found"
	CodeEmployeeDeparted     = "directory:employee_departed"
	CodeUserNotFound         = "directory:user_not_found"

	CodeTransferNotFound     = "transfer:not_found"
	CodeTransferPending      = "transfer:already_pending"
	CodeTransferNotRecipient = "transfer:not_recipient"
	CodeTransferResolved     = "transfer:already_resolved"

	CodeTaskNotFound      = "inventory:task_not_found"
	CodeTaskItemNotFound  = "inventory:item_not_found"
	CodeTaskClosed        = "inventory:task_closed"
	CodeTaskItemTerminal  = "inventory:item_terminal"
	CodeTaskItemsPending  = "inventory:items_pending"
	CodeTaskPhoneListed   = "inventory:phone_already_listed"
	CodeTaskInvalidScope  = "inventory:invalid_scope"
	CodeTaskDueDateInPast = "inventory:due_date_in_past"
)

// coreErrors defines all built-in error codes with their default messages and HTTP status
var coreErrors = []ErrorCode{
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeForbidden, Message: "Permission denied", HTTPStatus: http.StatusForbidden},
	{Code: CodeInvalidToken, Message: "Invalid or malformed token", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeTokenExpired, Message: "Token has expired", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},

	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},

	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},
	{Code: CodeInvalidState, Message: "Operation not allowed in the current state", HTTPStatus: http.StatusUnprocessableEntity},

	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},

	{Code: CodeAssetNotFound, Message: "Phone asset not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeAssetInvalidState, Message: "Phone asset is not in a state that allows this operation", HTTPStatus: http.StatusUnprocessableEntity},
	{Code: CodeAssetExists, Message: "Phone number is already registered", HTTPStatus: http.StatusConflict},
	{Code: CodeAssetHasHistory, Message: "Phone asset has usage history and cannot be deleted", HTTPStatus: http.StatusConflict},
	{Code: CodeAssetTransferPending, Message: "Phone asset has a pending ownership transfer", HTTPStatus: http.StatusConflict},
	{Code: CodeEmployeeNotFound, Message: "Employee not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeEmployeeDeparted, Message: "Employee is no longer active", HTTPStatus: http.StatusBadRequest},
	{Code: CodeUserNotFound, Message: "User not found", HTTPStatus: http.StatusNotFound},

	{Code: CodeTransferNotFound, Message: "Transfer request not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeTransferPending, Message: "A transfer request is already pending for this phone number", HTTPStatus: http.StatusConflict},
	{Code: CodeTransferNotRecipient, Message: "Only the recipient may decide on this transfer", HTTPStatus: http.StatusForbidden},
	{Code: CodeTransferResolved, Message: "Transfer request is no longer pending", HTTPStatus: http.StatusUnprocessableEntity},

	{Code: CodeTaskNotFound, Message: "Inventory task not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeTaskItemNotFound, Message: "Inventory task item not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeTaskClosed, Message: "Inventory task is closed", HTTPStatus: http.StatusUnprocessableEntity},
	{Code: CodeTaskItemTerminal, Message: "Inventory task item can no longer be changed", HTTPStatus: http.StatusUnprocessableEntity},
	{Code: CodeTaskItemsPending, Message: "Inventory task still has pending items", HTTPStatus: http.StatusUnprocessableEntity},
	{Code: CodeTaskPhoneListed, Message: "Phone number is already part of this task", HTTPStatus: http.StatusConflict},
	{Code: CodeTaskInvalidScope, Message: "Inventory task scope is invalid", HTTPStatus: http.StatusBadRequest},
	{Code: CodeTaskDueDateInPast, Message: "Inventory task due date must be in the future", HTTPStatus: http.StatusBadRequest},
}

// kindCodes maps each kind to its generic core code.
var kindCodes = map[Kind]string{
	KindValidation:   CodeValidationFailed,
	KindNotFound:     CodeNotFound,
	KindForbidden:    CodeForbidden,
	KindInvalidState: CodeInvalidState,
	KindConflict:     CodeConflict,
	KindUnauthorized: CodeUnauthorized,
	KindInternal:     CodeInternalError,
}

func init() {
	for _, e := range coreErrors {
		Registry.Register(e)
	}
}
