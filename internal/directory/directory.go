package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

type Employee struct {
	EmployeeID string  `json:"employee_id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	RoleID     string  `json:"role_id"`
	ManagerID  *string `json:"manager_id"`
	Location   string  `json:"location"`
	Email      string  `json:"email"`
}

type Role struct {
	RoleID         string          `json:"role_id"`
	Title          string          `json:"title"`
	RequiredTools  []string        `json:"required_tools"`
	Permissions    json.RawMessage `json:"permissions,omitempty"`
	FirstWeekGoals []string        `json:"first_week_goals"`
}

// Source reads the org chart and role catalog from disk on every call so
// edits to the files are visible immediately.
type Source struct {
	OrgChartPath string
	RolesPath    string
}

func (s Source) Employees() ([]Employee, error) {
	return loadJSON[Employee](s.OrgChartPath)
}

func (s Source) Roles() ([]Role, error) {
	return loadJSON[Role](s.RolesPath)
}

// loadJSON treats a missing file as an empty dataset.
func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// LookupEmployees returns the employee whose ID equals query (ignoring case)
// or, failing that, every employee whose name, title and role ID together
// contain all of the query's words as substrings.
func LookupEmployees(employees []Employee, query string) []Employee {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	for _, e := range employees {
		if strings.ToLower(e.EmployeeID) == q {
			return []Employee{e}
		}
	}

	tokens := strings.Fields(q)
	var matches []Employee
	for _, e := range employees {
		text := strings.ToLower(e.Name + " " + e.Title + " " + e.RoleID)
		if containsAll(text, tokens) {
			matches = append(matches, e)
		}
	}
	return matches
}

func containsAll(text string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

// LookupRole returns the first role, in catalog order, whose ID or title
// contains query.
func LookupRole(roles []Role, query string) (Role, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Role{}, false
	}

	for _, r := range roles {
		if strings.Contains(strings.ToLower(r.RoleID), q) || strings.Contains(strings.ToLower(r.Title), q) {
			return r, true
		}
	}
	return Role{}, false
}
