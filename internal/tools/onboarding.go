package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/onboarding-agent/backend/internal/directory"
	"github.com/onboarding-agent/backend/internal/vector"
)

const (
	SearchPoliciesName         = "search_policies"
	LookupEmployeeName         = "lookup_employee"
	LookupRoleRequirementsName = "lookup_role_requirements"

	DefaultSearchK = 5
)

type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]vector.Result, error)
}

type EmployeeSource interface {
	Employees() ([]directory.Employee, error)
}

type RoleSource interface {
	Roles() ([]directory.Role, error)
}

// NewOnboardingRegistry builds the registry the onboarding agent runs with.
func NewOnboardingRegistry(searcher Searcher, src directory.Source, k int) (*Registry, error) {
	return NewRegistry(
		SearchPolicies(searcher, k),
		LookupEmployee(src),
		LookupRoleRequirements(src),
	)
}

func SearchPolicies(searcher Searcher, k int) *Tool {
	if k <= 0 {
		k = DefaultSearchK
	}

	return &Tool{
		Name: SearchPoliciesName,
		Description: "Useful for answering questions about company policies, benefits, security, " +
			"remote work, holidays, or IT procedures.",
		Parameters: stringSchema("query", "Keywords describing the policy topic"),
		Invoke: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}

			results, err := searcher.Query(ctx, query, k)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No relevant policy documents found. Try searching for a broader term like 'stipend' or 'benefits'.", nil
			}

			var sb strings.Builder
			for _, r := range results {
				fmt.Fprintf(&sb, "Source: %s\nContent: %s\n---\n", filepath.Base(r.Chunk.Source), r.Chunk.Text)
			}
			return sb.String(), nil
		},
	}
}

func LookupEmployee(src EmployeeSource) *Tool {
	return &Tool{
		Name: LookupEmployeeName,
		Description: "Useful for finding details about a specific employee, such as their email, " +
			"title, location, or manager. Can search by Name, ID, or Job Title.",
		Parameters: stringSchema("name_or_id_or_role", "Employee name, employee ID, or job title"),
		Invoke: func(_ context.Context, args map[string]interface{}) (string, error) {
			query, err := stringArg(args, "name_or_id_or_role")
			if err != nil {
				return "", err
			}

			employees, err := src.Employees()
			if err != nil {
				return "", err
			}

			matches := directory.LookupEmployees(employees, query)
			if len(matches) == 0 {
				return fmt.Sprintf("No employee found matching '%s'. Try using just the first name or exact role title.", query), nil
			}
			return encodeIndented(matches)
		},
	}
}

func LookupRoleRequirements(src RoleSource) *Tool {
	return &Tool{
		Name: LookupRoleRequirementsName,
		Description: "Useful for finding the specific tools, permissions, and first-week goals " +
			"associated with a job role.",
		Parameters: stringSchema("role_title_or_id", `The job title (e.g., "Senior Backend Engineer") or Role ID`),
		Invoke: func(_ context.Context, args map[string]interface{}) (string, error) {
			query, err := stringArg(args, "role_title_or_id")
			if err != nil {
				return "", err
			}

			roles, err := src.Roles()
			if err != nil {
				return "", err
			}

			role, ok := directory.LookupRole(roles, query)
			if !ok {
				return fmt.Sprintf("No role definition found for '%s'.", query), nil
			}
			return encodeIndented(role)
		},
	}
}

func encodeIndented(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
