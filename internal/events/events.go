// Package events carries domain events from the core to notification and
// observability collaborators. Delivery is at-least-once.
package events

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/goatkit/phonedesk/internal/models"
)

// Type names a domain event.
type Type string

const (
	TransferInitiated Type = "transfer.initiated"
	TransferAccepted  Type = "transfer.accepted"
	TransferRejected  Type = "transfer.rejected"
	TransferCancelled Type = "transfer.cancelled"
	TaskCreated       Type = "task.created"
	TaskItemUpdated   Type = "task.item_updated"
	TaskSubmitted     Type = "task.submitted"
	TaskOverdue       Type = "task.overdue"
	AssetRiskFlagged  Type = "asset.risk_flagged"
)

// AllTypes lists every event type, in publication-channel order.
var AllTypes = []Type{
	TransferInitiated, TransferAccepted, TransferRejected, TransferCancelled,
	TaskCreated, TaskItemUpdated, TaskSubmitted, TaskOverdue,
	AssetRiskFlagged,
}

// Event is one domain fact. Recipients are the employees a notifier should
// tell about it.
type Event struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	TransferID  string            `json:"transfer_id,omitempty"`
	TaskID      string            `json:"task_id,omitempty"`
	ItemID      string            `json:"item_id,omitempty"`
	EmployeeID  int64             `json:"employee_id,omitempty"`
	Recipients  []int64           `json:"recipients,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

func newEvent(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at}
}

// ForTransfer builds one of the transfer events for req.
func ForTransfer(t Type, req *models.TransferRequest, at time.Time) Event {
	ev := newEvent(t, at)
	ev.PhoneNumber = req.PhoneNumber
	ev.TransferID = req.ID
	switch t {
	case TransferInitiated:
		ev.EmployeeID = req.FromEmployeeID
		ev.Recipients = []int64{req.ToEmployeeID}
	case TransferCancelled:
		ev.EmployeeID = req.FromEmployeeID
		ev.Recipients = []int64{req.ToEmployeeID}
	default:
		ev.EmployeeID = req.ToEmployeeID
		ev.Recipients = []int64{req.FromEmployeeID}
	}
	if req.Remark != "" {
		ev.Attributes = map[string]string{"remark": req.Remark}
	}
	return ev
}

// ForTaskCreated notifies every employee responsible for at least one item.
func ForTaskCreated(task *models.InventoryTask, items []*models.InventoryTaskItem, at time.Time) Event {
	ev := newEvent(TaskCreated, at)
	ev.TaskID = task.ID
	ev.Recipients = itemEmployees(items, false)
	ev.Attributes = map[string]string{
		"name":   task.Name,
		"due_at": task.DueAt.UTC().Format(time.RFC3339),
	}
	return ev
}

// ForTaskItemUpdated reports a changed item.
func ForTaskItemUpdated(item *models.InventoryTaskItem, at time.Time) Event {
	ev := newEvent(TaskItemUpdated, at)
	ev.TaskID = item.TaskID
	ev.ItemID = item.ID
	ev.PhoneNumber = item.PhoneNumber
	ev.EmployeeID = item.EmployeeID
	ev.Attributes = map[string]string{"status": string(item.Status)}
	return ev
}

// ForTaskSubmitted reports that employeeID finished their portion.
func ForTaskSubmitted(sub *models.TaskSubmission) Event {
	ev := newEvent(TaskSubmitted, sub.SubmittedAt)
	ev.TaskID = sub.TaskID
	ev.EmployeeID = sub.EmployeeID
	return ev
}

// ForTaskOverdue reminds employees still holding pending items.
func ForTaskOverdue(task *models.InventoryTask, pending []*models.InventoryTaskItem, at time.Time) Event {
	ev := newEvent(TaskOverdue, at)
	ev.TaskID = task.ID
	ev.Recipients = itemEmployees(pending, true)
	ev.Attributes = map[string]string{
		"name":   task.Name,
		"due_at": task.DueAt.UTC().Format(time.RFC3339),
	}
	return ev
}

// ForAssetRiskFlagged reports an asset moved into a risk branch.
func ForAssetRiskFlagged(asset *models.PhoneAsset, reason models.RiskReason, at time.Time) Event {
	ev := newEvent(AssetRiskFlagged, at)
	ev.PhoneNumber = asset.PhoneNumber
	ev.EmployeeID = asset.CurrentHolder()
	if holder := asset.CurrentHolder(); holder != 0 {
		ev.Recipients = []int64{holder}
	}
	ev.Attributes = map[string]string{
		"reason":    string(reason),
		"applicant": strconv.FormatInt(asset.ApplicantEmployeeID, 10),
	}
	return ev
}

func itemEmployees(items []*models.InventoryTaskItem, pendingOnly bool) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, it := range items {
		if it.EmployeeID == 0 || (pendingOnly && it.Status != models.ItemPending) {
			continue
		}
		if _, ok := seen[it.EmployeeID]; ok {
			continue
		}
		seen[it.EmployeeID] = struct{}{}
		out = append(out, it.EmployeeID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
