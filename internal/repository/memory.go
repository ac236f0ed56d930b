package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goatkit/phonedesk/internal/models"
)

type itemKey struct {
	taskID string
	itemID string
}

type submissionKey struct {
	taskID     string
	employeeID int64
}

type memData struct {
	assets      map[string]*models.PhoneAsset
	transfers   map[string]*models.TransferRequest
	tasks       map[string]*models.InventoryTask
	items       map[itemKey]*models.InventoryTaskItem
	reports     map[string]*models.UnlistedPhoneReport
	submissions map[submissionKey]*models.TaskSubmission
}

func newMemData() *memData {
	return &memData{
		assets:      make(map[string]*models.PhoneAsset),
		transfers:   make(map[string]*models.TransferRequest),
		tasks:       make(map[string]*models.InventoryTask),
		items:       make(map[itemKey]*models.InventoryTaskItem),
		reports:     make(map[string]*models.UnlistedPhoneReport),
		submissions: make(map[submissionKey]*models.TaskSubmission),
	}
}

func lookup[K comparable, V any](delta, base map[K]V, k K) (V, bool) {
	if v, ok := delta[k]; ok {
		return v, true
	}
	v, ok := base[k]
	return v, ok
}

func overlay[K comparable, V any](delta, base map[K]V, skip map[K]bool) map[K]V {
	out := make(map[K]V, len(base)+len(delta))
	for k, v := range base {
		if !skip[k] {
			out[k] = v
		}
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// memView reads base overlaid with delta. Without a delta it writes straight
// into base.
type memView struct {
	base          *memData
	delta         *memData
	deletedAssets map[string]bool
	createdAssets map[string]bool
	createdTasks  map[string]bool
}

func (v *memView) target() *memData {
	if v.delta != nil {
		return v.delta
	}
	return v.base
}

func (v *memView) deltaOrEmpty() *memData {
	if v.delta != nil {
		return v.delta
	}
	return &memData{}
}

func (v *memView) asset(phone string) (*models.PhoneAsset, bool) {
	if v.deletedAssets[phone] {
		return nil, false
	}
	return lookup(v.deltaOrEmpty().assets, v.base.assets, phone)
}

func (v *memView) getAsset(phone string) (*models.PhoneAsset, error) {
	a, ok := v.asset(phone)
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", phone, ErrNotFound)
	}
	return a.Clone(), nil
}

func (v *memView) listAssets(filter models.AssetFilter) []*models.PhoneAsset {
	all := overlay(v.deltaOrEmpty().assets, v.base.assets, v.deletedAssets)
	out := make([]*models.PhoneAsset, 0, len(all))
	for _, a := range all {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhoneNumber < out[j].PhoneNumber })
	out = page(out, filter.Limit, filter.Offset)
	for i, a := range out {
		out[i] = a.Clone()
	}
	return out
}

func (v *memView) createAsset(a *models.PhoneAsset) error {
	if _, ok := v.asset(a.PhoneNumber); ok {
		return fmt.Errorf("asset %s: %w", a.PhoneNumber, ErrDuplicate)
	}
	v.target().assets[a.PhoneNumber] = a.Clone()
	if v.delta != nil {
		delete(v.deletedAssets, a.PhoneNumber)
		v.createdAssets[a.PhoneNumber] = true
	}
	return nil
}

func (v *memView) updateAsset(a *models.PhoneAsset) error {
	if _, ok := v.asset(a.PhoneNumber); !ok {
		return fmt.Errorf("asset %s: %w", a.PhoneNumber, ErrNotFound)
	}
	v.target().assets[a.PhoneNumber] = a.Clone()
	return nil
}

func (v *memView) deleteAsset(phone string) error {
	if _, ok := v.asset(phone); !ok {
		return fmt.Errorf("asset %s: %w", phone, ErrNotFound)
	}
	if v.delta == nil {
		delete(v.base.assets, phone)
		return nil
	}
	delete(v.delta.assets, phone)
	delete(v.createdAssets, phone)
	v.deletedAssets[phone] = true
	return nil
}

func (v *memView) getTransfer(id string) (*models.TransferRequest, error) {
	r, ok := lookup(v.deltaOrEmpty().transfers, v.base.transfers, id)
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

func (v *memView) pendingTransfer(phone string) *models.TransferRequest {
	for _, r := range overlay(v.deltaOrEmpty().transfers, v.base.transfers, nil) {
		if r.PhoneNumber == phone && r.IsPending() {
			return r.Clone()
		}
	}
	return nil
}

func (v *memView) listTransfers(filter models.TransferFilter) []*models.TransferRequest {
	var out []*models.TransferRequest
	for _, r := range overlay(v.deltaOrEmpty().transfers, v.base.transfers, nil) {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *memView) createTransfer(r *models.TransferRequest) error {
	if _, ok := lookup(v.deltaOrEmpty().transfers, v.base.transfers, r.ID); ok {
		return fmt.Errorf("transfer %s: %w", r.ID, ErrDuplicate)
	}
	if r.IsPending() && v.pendingTransfer(r.PhoneNumber) != nil {
		return fmt.Errorf("pending transfer for %s: %w", r.PhoneNumber, ErrDuplicate)
	}
	v.target().transfers[r.ID] = r.Clone()
	return nil
}

func (v *memView) updateTransfer(r *models.TransferRequest) error {
	if _, ok := lookup(v.deltaOrEmpty().transfers, v.base.transfers, r.ID); !ok {
		return fmt.Errorf("transfer %s: %w", r.ID, ErrNotFound)
	}
	v.target().transfers[r.ID] = r.Clone()
	return nil
}

func (v *memView) getTask(id string) (*models.InventoryTask, error) {
	t, ok := lookup(v.deltaOrEmpty().tasks, v.base.tasks, id)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (v *memView) listTasks(filter models.TaskFilter) []*models.InventoryTask {
	var out []*models.InventoryTask
	for _, t := range overlay(v.deltaOrEmpty().tasks, v.base.tasks, nil) {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *memView) createTask(t *models.InventoryTask, items []*models.InventoryTaskItem) error {
	if _, ok := lookup(v.deltaOrEmpty().tasks, v.base.tasks, t.ID); ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrDuplicate)
	}
	dst := v.target()
	dst.tasks[t.ID] = t.Clone()
	for _, it := range items {
		dst.items[itemKey{taskID: t.ID, itemID: it.ID}] = it.Clone()
	}
	if v.delta != nil {
		v.createdTasks[t.ID] = true
	}
	return nil
}

func (v *memView) updateTask(t *models.InventoryTask) error {
	if _, ok := lookup(v.deltaOrEmpty().tasks, v.base.tasks, t.ID); !ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	v.target().tasks[t.ID] = t.Clone()
	return nil
}

func (v *memView) getItem(taskID, itemID string) (*models.InventoryTaskItem, error) {
	it, ok := lookup(v.deltaOrEmpty().items, v.base.items, itemKey{taskID: taskID, itemID: itemID})
	if !ok {
		return nil, fmt.Errorf("task item %s/%s: %w", taskID, itemID, ErrNotFound)
	}
	return it.Clone(), nil
}

func (v *memView) listItems(taskID string, filter models.TaskItemFilter) []*models.InventoryTaskItem {
	var out []*models.InventoryTaskItem
	for k, it := range overlay(v.deltaOrEmpty().items, v.base.items, nil) {
		if k.taskID == taskID && filter.Matches(it) {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PhoneNumber != out[j].PhoneNumber {
			return out[i].PhoneNumber < out[j].PhoneNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *memView) updateItem(it *models.InventoryTaskItem) error {
	k := itemKey{taskID: it.TaskID, itemID: it.ID}
	if _, ok := lookup(v.deltaOrEmpty().items, v.base.items, k); !ok {
		return fmt.Errorf("task item %s/%s: %w", it.TaskID, it.ID, ErrNotFound)
	}
	v.target().items[k] = it.Clone()
	return nil
}

func (v *memView) createReport(r *models.UnlistedPhoneReport) error {
	if _, ok := lookup(v.deltaOrEmpty().reports, v.base.reports, r.ID); ok {
		return fmt.Errorf("report %s: %w", r.ID, ErrDuplicate)
	}
	c := *r
	v.target().reports[r.ID] = &c
	return nil
}

func (v *memView) listReports(taskID string) []*models.UnlistedPhoneReport {
	var out []*models.UnlistedPhoneReport
	for _, r := range overlay(v.deltaOrEmpty().reports, v.base.reports, nil) {
		if r.TaskID == taskID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *memView) saveSubmission(sub *models.TaskSubmission) (*models.TaskSubmission, bool) {
	k := submissionKey{taskID: sub.TaskID, employeeID: sub.EmployeeID}
	if existing, ok := lookup(v.deltaOrEmpty().submissions, v.base.submissions, k); ok {
		c := *existing
		return &c, false
	}
	c := *sub
	v.target().submissions[k] = &c
	out := c
	return &out, true
}

// Memory is an in-process Store. Atomic buffers writes in an overlay and
// applies them under one lock on success.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func (m *Memory) view() *memView { return &memView{base: m.data} }

func (m *Memory) GetAsset(_ context.Context, phone string) (*models.PhoneAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getAsset(phone)
}

func (m *Memory) ListAssets(_ context.Context, filter models.AssetFilter) ([]*models.PhoneAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listAssets(filter), nil
}

func (m *Memory) CreateAsset(_ context.Context, a *models.PhoneAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().createAsset(a)
}

func (m *Memory) UpdateAsset(_ context.Context, a *models.PhoneAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().updateAsset(a)
}

func (m *Memory) DeleteAsset(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().deleteAsset(phone)
}

func (m *Memory) GetTransfer(_ context.Context, id string) (*models.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getTransfer(id)
}

func (m *Memory) PendingTransfer(_ context.Context, phone string) (*models.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().pendingTransfer(phone), nil
}

func (m *Memory) ListTransfers(_ context.Context, filter models.TransferFilter) ([]*models.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listTransfers(filter), nil
}

func (m *Memory) CreateTransfer(_ context.Context, r *models.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().createTransfer(r)
}

func (m *Memory) UpdateTransfer(_ context.Context, r *models.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().updateTransfer(r)
}

func (m *Memory) GetTask(_ context.Context, id string) (*models.InventoryTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getTask(id)
}

func (m *Memory) ListTasks(_ context.Context, filter models.TaskFilter) ([]*models.InventoryTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listTasks(filter), nil
}

func (m *Memory) CreateTask(_ context.Context, t *models.InventoryTask, items []*models.InventoryTaskItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().createTask(t, items)
}

func (m *Memory) UpdateTask(_ context.Context, t *models.InventoryTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().updateTask(t)
}

func (m *Memory) GetItem(_ context.Context, taskID, itemID string) (*models.InventoryTaskItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getItem(taskID, itemID)
}

func (m *Memory) ListItems(_ context.Context, taskID string, filter models.TaskItemFilter) ([]*models.InventoryTaskItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listItems(taskID, filter), nil
}

func (m *Memory) UpdateItem(_ context.Context, it *models.InventoryTaskItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().updateItem(it)
}

func (m *Memory) CreateUnlistedReport(_ context.Context, r *models.UnlistedPhoneReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().createReport(r)
}

func (m *Memory) ListUnlistedReports(_ context.Context, taskID string) ([]*models.UnlistedPhoneReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listReports(taskID), nil
}

func (m *Memory) SaveSubmission(_ context.Context, sub *models.TaskSubmission) (*models.TaskSubmission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, created := m.view().saveSubmission(sub)
	return stored, created, nil
}

// Atomic implements Store.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		base: m,
		view: &memView{
			base:          m.data,
			delta:         newMemData(),
			deletedAssets: make(map[string]bool),
			createdAssets: make(map[string]bool),
			createdTasks:  make(map[string]bool),
		},
	}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx.view)
}

func (m *Memory) commit(v *memView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for phone := range v.createdAssets {
		if _, ok := m.data.assets[phone]; ok {
			return fmt.Errorf("asset %s: %w", phone, ErrDuplicate)
		}
	}
	for id := range v.createdTasks {
		if _, ok := m.data.tasks[id]; ok {
			return fmt.Errorf("task %s: %w", id, ErrDuplicate)
		}
	}
	for id, r := range v.delta.transfers {
		if !r.IsPending() {
			continue
		}
		for otherID, other := range m.data.transfers {
			if otherID == id || !other.IsPending() || other.PhoneNumber != r.PhoneNumber {
				continue
			}
			if _, replaced := v.delta.transfers[otherID]; replaced {
				continue
			}
			return fmt.Errorf("pending transfer for %s: %w", r.PhoneNumber, ErrDuplicate)
		}
	}

	for phone := range v.deletedAssets {
		delete(m.data.assets, phone)
	}
	for k, a := range v.delta.assets {
		m.data.assets[k] = a
	}
	for k, r := range v.delta.transfers {
		m.data.transfers[k] = r
	}
	for k, t := range v.delta.tasks {
		m.data.tasks[k] = t
	}
	for k, it := range v.delta.items {
		m.data.items[k] = it
	}
	for k, r := range v.delta.reports {
		m.data.reports[k] = r
	}
	for k, s := range v.delta.submissions {
		if _, ok := m.data.submissions[k]; !ok {
			m.data.submissions[k] = s
		}
	}
	return nil
}

// memTx is the transactional view handed to Atomic callbacks. It is used by
// a single goroutine; reads of the shared base take the store's read lock.
type memTx struct {
	base *Memory
	view *memView
}

func (t *memTx) read() func() {
	t.base.mu.RLock()
	return t.base.mu.RUnlock
}

func (t *memTx) GetAsset(_ context.Context, phone string) (*models.PhoneAsset, error) {
	defer t.read()()
	return t.view.getAsset(phone)
}

func (t *memTx) ListAssets(_ context.Context, filter models.AssetFilter) ([]*models.PhoneAsset, error) {
	defer t.read()()
	return t.view.listAssets(filter), nil
}

func (t *memTx) CreateAsset(_ context.Context, a *models.PhoneAsset) error {
	defer t.read()()
	return t.view.createAsset(a)
}

func (t *memTx) UpdateAsset(_ context.Context, a *models.PhoneAsset) error {
	defer t.read()()
	return t.view.updateAsset(a)
}

func (t *memTx) DeleteAsset(_ context.Context, phone string) error {
	defer t.read()()
	return t.view.deleteAsset(phone)
}

func (t *memTx) GetTransfer(_ context.Context, id string) (*models.TransferRequest, error) {
	defer t.read()()
	return t.view.getTransfer(id)
}

func (t *memTx) PendingTransfer(_ context.Context, phone string) (*models.TransferRequest, error) {
	defer t.read()()
	return t.view.pendingTransfer(phone), nil
}

func (t *memTx) ListTransfers(_ context.Context, filter models.TransferFilter) ([]*models.TransferRequest, error) {
	defer t.read()()
	return t.view.listTransfers(filter), nil
}

func (t *memTx) CreateTransfer(_ context.Context, r *models.TransferRequest) error {
	defer t.read()()
	return t.view.createTransfer(r)
}

func (t *memTx) UpdateTransfer(_ context.Context, r *models.TransferRequest) error {
	defer t.read()()
	return t.view.updateTransfer(r)
}

func (t *memTx) GetTask(_ context.Context, id string) (*models.InventoryTask, error) {
	defer t.read()()
	return t.view.getTask(id)
}

func (t *memTx) ListTasks(_ context.Context, filter models.TaskFilter) ([]*models.InventoryTask, error) {
	defer t.read()()
	return t.view.listTasks(filter), nil
}

func (t *memTx) CreateTask(_ context.Context, task *models.InventoryTask, items []*models.InventoryTaskItem) error {
	defer t.read()()
	return t.view.createTask(task, items)
}

func (t *memTx) UpdateTask(_ context.Context, task *models.InventoryTask) error {
	defer t.read()()
	return t.view.updateTask(task)
}

func (t *memTx) GetItem(_ context.Context, taskID, itemID string) (*models.InventoryTaskItem, error) {
	defer t.read()()
	return t.view.getItem(taskID, itemID)
}

func (t *memTx) ListItems(_ context.Context, taskID string, filter models.TaskItemFilter) ([]*models.InventoryTaskItem, error) {
	defer t.read()()
	return t.view.listItems(taskID, filter), nil
}

func (t *memTx) UpdateItem(_ context.Context, it *models.InventoryTaskItem) error {
	defer t.read()()
	return t.view.updateItem(it)
}

func (t *memTx) CreateUnlistedReport(_ context.Context, r *models.UnlistedPhoneReport) error {
	defer t.read()()
	return t.view.createReport(r)
}

func (t *memTx) ListUnlistedReports(_ context.Context, taskID string) ([]*models.UnlistedPhoneReport, error) {
	defer t.read()()
	return t.view.listReports(taskID), nil
}

func (t *memTx) SaveSubmission(_ context.Context, sub *models.TaskSubmission) (*models.TaskSubmission, bool, error) {
	defer t.read()()
	stored, created := t.view.saveSubmission(sub)
	return stored, created, nil
}

// Atomic on a transaction joins it.
func (t *memTx) Atomic(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}
