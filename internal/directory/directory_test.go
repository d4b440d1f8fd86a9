package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

var employees = []Employee{
	{EmployeeID: "ENG-DIR-01", Name: "Elena Rostova", Title: "Director of Engineering", RoleID: "ENG-DIR", Location: "Berlin", Email: "elena@nebula.dev"},
	{EmployeeID: "ENG-042", Name: "Jordan Lee", Title: "Senior Backend Engineer", RoleID: "ENG-SR-BE", ManagerID: ptr("ENG-DIR-01")},
	{EmployeeID: "ENG-051", Name: "Sarah Chen", Title: "Backend Engineer", RoleID: "ENG-BE", ManagerID: ptr("ENG-DIR-01")},
	{EmployeeID: "ENG-099", Name: "ENG-042 Fan Club", Title: "Engineering Intern", RoleID: "ENG-INT", ManagerID: ptr("ENG-042")},
	{EmployeeID: "OPS-007", Name: "Alex Johnson", Title: "Systems Administrator", RoleID: "IT-SYSADMIN"},
	{EmployeeID: "SAL-003", Name: "Priya Patel", Title: "Sales Director", RoleID: "SALES-DIR"},
}

var roles = []Role{
	{RoleID: "ENG-SR-BE", Title: "Senior Backend Engineer", RequiredTools: []string{"GitHub_Enterprise"}, FirstWeekGoals: []string{"Ship a PR"}},
	{RoleID: "ENG-BE", Title: "Backend Engineer", RequiredTools: []string{"GitHub_Enterprise"}},
	{RoleID: "SALES-AE-MID", Title: "Mid-Market Account Executive"},
}

func names(list []Employee) []string {
	var out []string
	for _, e := range list {
		out = append(out, e.Name)
	}
	return out
}

func TestLookupEmployees_ExactIDShortCircuits(t *testing.T) {
	got := LookupEmployees(employees, "ENG-042")
	require.Len(t, got, 1)
	assert.Equal(t, "Jordan Lee", got[0].Name)

	got = LookupEmployees(employees, "eng-042")
	require.Len(t, got, 1)
	assert.Equal(t, "Jordan Lee", got[0].Name)
}

func TestLookupEmployees_ConjunctiveTokens(t *testing.T) {
	got := LookupEmployees(employees, "Engineering Director")
	assert.Equal(t, []string{"Elena Rostova"}, names(got))

	// "Sales Director" holds only one of the two tokens
	assert.NotContains(t, names(got), "Priya Patel")
}

func TestLookupEmployees_SubstringNotWordBoundary(t *testing.T) {
	got := LookupEmployees(employees, "eng")
	assert.ElementsMatch(t, []string{"Elena Rostova", "Jordan Lee", "Sarah Chen", "ENG-042 Fan Club"}, names(got))
}

func TestLookupEmployees_ByName(t *testing.T) {
	got := LookupEmployees(employees, "Sarah Chen")
	require.Len(t, got, 1)
	assert.Equal(t, "ENG-051", got[0].EmployeeID)
	assert.Equal(t, "ENG-DIR-01", *got[0].ManagerID)
}

func TestLookupEmployees_NoMatch(t *testing.T) {
	assert.Empty(t, LookupEmployees(employees, "Nonexistent Person XYZ"))
	assert.Empty(t, LookupEmployees(employees, "   "))
	assert.Empty(t, LookupEmployees(nil, "Elena"))
}

func TestLookupRole(t *testing.T) {
	r, ok := LookupRole(roles, "Senior Backend Engineer")
	require.True(t, ok)
	assert.Equal(t, "ENG-SR-BE", r.RoleID)

	r, ok = LookupRole(roles, "sales-ae-mid")
	require.True(t, ok)
	assert.Equal(t, "Mid-Market Account Executive", r.Title)

	_, ok = LookupRole(roles, "Chief Happiness Officer")
	assert.False(t, ok)

	_, ok = LookupRole(roles, "")
	assert.False(t, ok)
}

// Both engineering roles contain "backend engineer"; the earlier catalog
// entry wins even though the later one is an exact title match.
func TestLookupRole_FirstMatchInCatalogOrder(t *testing.T) {
	r, ok := LookupRole(roles, "Backend Engineer")
	require.True(t, ok)
	assert.Equal(t, "ENG-SR-BE", r.RoleID)

	reversed := []Role{roles[1], roles[0]}
	r, ok = LookupRole(reversed, "Backend Engineer")
	require.True(t, ok)
	assert.Equal(t, "ENG-BE", r.RoleID)
}

func TestSource(t *testing.T) {
	dir := t.TempDir()
	orgPath := filepath.Join(dir, "org_chart.json")
	rolesPath := filepath.Join(dir, "role_definitions.json")

	require.NoError(t, os.WriteFile(orgPath, []byte(`[
		{"employee_id": "E1", "name": "Ada", "title": "CTO", "role_id": "EXEC", "manager_id": null, "location": "Remote", "email": "ada@x.io"}
	]`), 0o644))
	require.NoError(t, os.WriteFile(rolesPath, []byte(`[
		{"role_id": "EXEC", "title": "Executive", "required_tools": ["Slack"], "permissions": {"admin": true}, "first_week_goals": ["Meet the team"]}
	]`), 0o644))

	src := Source{OrgChartPath: orgPath, RolesPath: rolesPath}

	emps, err := src.Employees()
	require.NoError(t, err)
	require.Len(t, emps, 1)
	assert.Nil(t, emps[0].ManagerID)

	rs, err := src.Roles()
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.JSONEq(t, `{"admin": true}`, string(rs[0].Permissions))

	// edits are visible without reloading anything
	require.NoError(t, os.WriteFile(orgPath, []byte(`[]`), 0o644))
	emps, err = src.Employees()
	require.NoError(t, err)
	assert.Empty(t, emps)
}

func TestSource_MissingFilesAreEmpty(t *testing.T) {
	src := Source{OrgChartPath: filepath.Join(t.TempDir(), "none.json"), RolesPath: filepath.Join(t.TempDir(), "none.json")}

	emps, err := src.Employees()
	require.NoError(t, err)
	assert.NotNil(t, emps)
	assert.Empty(t, emps)

	rs, err := src.Roles()
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestSource_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "org_chart.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"`), 0o644))

	_, err := Source{OrgChartPath: path}.Employees()
	assert.Error(t, err)
}
