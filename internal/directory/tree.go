package directory

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/goatkit/phonedesk/internal/models"
)

// ErrInvalidTree is returned when departments do not form a rooted forest.
var ErrInvalidTree = errors.New("directory: invalid department tree")

// ValidateTree checks that every parent exists, that there are no cycles and
// that no chain is deeper than models.MaxDepartmentDepth.
func ValidateTree(departments []*models.Department) error {
	byID := make(map[int64]*models.Department, len(departments))
	for _, d := range departments {
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("%w: duplicate department %d", ErrInvalidTree, d.ID)
		}
		byID[d.ID] = d
	}
	for _, d := range departments {
		depth := 0
		cur := d
		for cur.ParentID != nil {
			parent, ok := byID[*cur.ParentID]
			if !ok {
				return fmt.Errorf("%w: department %d references missing parent %d", ErrInvalidTree, cur.ID, *cur.ParentID)
			}
			depth++
			if parent.ID == d.ID || depth > models.MaxDepartmentDepth {
				return fmt.Errorf("%w: department %d does not reach a root", ErrInvalidTree, d.ID)
			}
			cur = parent
		}
	}
	return nil
}

// TreeOptions controls BuildTree.
type TreeOptions struct {
	IncludeInactive bool
	// Language selects the collation used to order siblings by name.
	Language language.Tag
}

// BuildTree arranges departments into roots with children, siblings ordered by
// name under the configured collation. Inactive departments, and everything
// below them, are hidden unless requested.
func BuildTree(departments []*models.Department, opts TreeOptions) ([]*models.DepartmentNode, error) {
	if err := ValidateTree(departments); err != nil {
		return nil, err
	}
	tag := opts.Language
	if tag == language.Und {
		tag = language.English
	}
	col := collate.New(tag)

	nodes := make(map[int64]*models.DepartmentNode, len(departments))
	for _, d := range departments {
		if !d.Active && !opts.IncludeInactive {
			continue
		}
		nodes[d.ID] = &models.DepartmentNode{Department: *d}
	}

	var roots []*models.DepartmentNode
	for _, d := range departments {
		n, ok := nodes[d.ID]
		if !ok {
			continue
		}
		if d.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		if parent, ok := nodes[*d.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}

	sortNodes(roots, col)
	return roots, nil
}

func sortNodes(nodes []*models.DepartmentNode, col *collate.Collator) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if c := col.CompareString(nodes[i].Name, nodes[j].Name); c != 0 {
			return c < 0
		}
		return nodes[i].ID < nodes[j].ID
	})
	for _, n := range nodes {
		sortNodes(n.Children, col)
	}
}
