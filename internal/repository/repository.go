// Package repository persists phone assets, transfer requests and inventory
// tasks. Every store offers the same Atomic unit of work so multi-entity
// effects commit all together or not at all.
package repository

import (
	"context"
	"errors"

	"github.com/goatkit/phonedesk/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a create would break a uniqueness rule.
	ErrDuplicate = errors.New("duplicate record")
)

// AssetRepository stores phone assets together with their usage history.
type AssetRepository interface {
	GetAsset(ctx context.Context, phoneNumber string) (*models.PhoneAsset, error)
	ListAssets(ctx context.Context, filter models.AssetFilter) ([]*models.PhoneAsset, error)
	CreateAsset(ctx context.Context, asset *models.PhoneAsset) error
	UpdateAsset(ctx context.Context, asset *models.PhoneAsset) error
	DeleteAsset(ctx context.Context, phoneNumber string) error
}

// TransferRepository stores ownership transfer requests.
type TransferRepository interface {
	GetTransfer(ctx context.Context, id string) (*models.TransferRequest, error)
	// PendingTransfer returns the pending request for phoneNumber, or nil.
	PendingTransfer(ctx context.Context, phoneNumber string) (*models.TransferRequest, error)
	ListTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.TransferRequest, error)
	// CreateTransfer fails with ErrDuplicate when the phone already has a pending request.
	CreateTransfer(ctx context.Context, req *models.TransferRequest) error
	UpdateTransfer(ctx context.Context, req *models.TransferRequest) error
}

// TaskRepository stores inventory tasks, their items and auxiliary records.
type TaskRepository interface {
	GetTask(ctx context.Context, id string) (*models.InventoryTask, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.InventoryTask, error)
	// CreateTask stores the task and all of its items.
	CreateTask(ctx context.Context, task *models.InventoryTask, items []*models.InventoryTaskItem) error
	UpdateTask(ctx context.Context, task *models.InventoryTask) error

	GetItem(ctx context.Context, taskID, itemID string) (*models.InventoryTaskItem, error)
	ListItems(ctx context.Context, taskID string, filter models.TaskItemFilter) ([]*models.InventoryTaskItem, error)
	UpdateItem(ctx context.Context, item *models.InventoryTaskItem) error

	CreateUnlistedReport(ctx context.Context, report *models.UnlistedPhoneReport) error
	ListUnlistedReports(ctx context.Context, taskID string) ([]*models.UnlistedPhoneReport, error)

	// SaveSubmission records a submission once; later calls for the same
	// task and employee return the first record and created=false.
	SaveSubmission(ctx context.Context, sub *models.TaskSubmission) (stored *models.TaskSubmission, created bool, err error)
}

// Store bundles the repositories behind one unit of work.
type Store interface {
	AssetRepository
	TransferRepository
	TaskRepository

	// Atomic runs fn against a transactional view of the store. Writes made
	// through the view become visible only if fn returns nil.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}

func page[T any](list []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(list) {
			return list[:0]
		}
		list = list[offset:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
