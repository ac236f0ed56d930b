package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/goatkit/phonedesk/internal/models"
)

// Seed is the on-disk shape of a directory snapshot.
type Seed struct {
	Departments []*models.Department `yaml:"departments"`
	Employees   []*models.Employee   `yaml:"employees"`
	Users       []*models.User       `yaml:"users"`
}

// MemoryDirectory is an in-process directory, used for tests and single-node
// deployments seeded from YAML.
type MemoryDirectory struct {
	mu          sync.RWMutex
	departments map[int64]*models.Department
	employees   map[int64]*models.Employee
	users       map[int64]*models.User
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		departments: make(map[int64]*models.Department),
		employees:   make(map[int64]*models.Employee),
		users:       make(map[int64]*models.User),
	}
}

// LoadYAML builds a directory from a seed file and validates its department tree.
func LoadYAML(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse directory seed: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed builds a directory from an in-memory seed.
func FromSeed(seed Seed) (*MemoryDirectory, error) {
	d := NewMemoryDirectory()
	for _, dep := range seed.Departments {
		d.PutDepartment(dep)
	}
	for _, e := range seed.Employees {
		d.PutEmployee(e)
	}
	for _, u := range seed.Users {
		d.PutUser(u)
	}
	if err := ValidateTree(seed.Departments); err != nil {
		return nil, err
	}
	return d, nil
}

// PutDepartment inserts or replaces a department.
func (d *MemoryDirectory) PutDepartment(dep *models.Department) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *dep
	d.departments[dep.ID] = &c
}

// PutEmployee inserts or replaces an employee.
func (d *MemoryDirectory) PutEmployee(e *models.Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *e
	d.employees[e.ID] = &c
}

// PutUser inserts or replaces a user.
func (d *MemoryDirectory) PutUser(u *models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *u
	c.Grants = append([]models.PermissionGrant(nil), u.Grants...)
	d.users[u.ID] = &c
}

// GetEmployee implements Employees.
func (d *MemoryDirectory) GetEmployee(_ context.Context, id int64) (*models.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.employees[id]
	if !ok {
		return nil, fmt.Errorf("employee %d: %w", id, ErrNotFound)
	}
	c := *e
	return &c, nil
}

// GetDepartment implements Departments.
func (d *MemoryDirectory) GetDepartment(_ context.Context, id int64) (*models.Department, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dep, ok := d.departments[id]
	if !ok {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	c := *dep
	return &c, nil
}

// ListDepartments implements Departments, ordered by id.
func (d *MemoryDirectory) ListDepartments(_ context.Context) ([]*models.Department, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Department, 0, len(d.departments))
	for _, dep := range d.departments {
		c := *dep
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetUser implements Users.
func (d *MemoryDirectory) GetUser(_ context.Context, id int64) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	c := *u
	c.Grants = append([]models.PermissionGrant(nil), u.Grants...)
	return &c, nil
}
