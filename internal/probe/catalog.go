package probe

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the ordered list of endpoints probed in one run. Order fixes the
// sequence of requests and therefore the order of recorded successes.
type Catalog []Endpoint

// defaultTemplates are the guessed API shapes for one execution.
var defaultTemplates = []Endpoint{
	{Name: "execution", Path: "/executions/{execution_id}", Description: "Main execution data"},
	{Name: "execution_journey", Path: "/executions/{execution_id}/journeys/{journey_id}", Description: "Execution journey combination"},
	{Name: "project_execution", Path: "/projects/{project_id}/executions/{execution_id}", Description: "Project-scoped execution"},
	{Name: "testsuite", Path: "/projects/{project_id}/testsuites/{journey_id}", Description: "Journey as TestSuite"},
	{Name: "testsuite_direct", Path: "/testsuites/{journey_id}", Description: "Direct TestSuite access"},
	{Name: "checkpoints", Path: "/executions/{execution_id}/checkpoints", Description: "Execution checkpoints"},
	{Name: "steps", Path: "/executions/{execution_id}/steps", Description: "Execution steps"},
	{Name: "journey_steps", Path: "/projects/{project_id}/testsuites/{journey_id}/steps", Description: "Journey/TestSuite steps"},
	{Name: "actions", Path: "/executions/{execution_id}/actions", Description: "Execution actions"},
	{Name: "screenshots", Path: "/executions/{execution_id}/screenshots", Description: "Execution screenshots"},
	{Name: "logs", Path: "/executions/{execution_id}/logs", Description: "Execution logs"},
	{Name: "results", Path: "/executions/{execution_id}/results", Description: "Execution results"},
	{Name: "reports", Path: "/executions/{execution_id}/reports", Description: "Execution reports"},
	{Name: "testdata", Path: "/projects/{project_id}/testdata/{journey_id}", Description: "Journey test data"},
	{Name: "metadata", Path: "/journeys/{journey_id}/metadata", Description: "Journey metadata"},
	{Name: "org_execution", Path: "/organizations/{org_id}/projects/{project_id}/executions/{execution_id}", Description: "Organization-scoped execution"},
	{Name: "v2_execution", Path: "/v2/executions/{execution_id}", Description: "V2 API execution"},
	{Name: "run", Path: "/runs/{execution_id}", Description: "Execution as run"},
	{Name: "test_run", Path: "/test-runs/{execution_id}", Description: "Execution as test-run"},
}

// DefaultCatalog expands the built-in endpoint shapes for ids.
func DefaultCatalog(ids Identifiers) Catalog {
	out := make(Catalog, 0, len(defaultTemplates))
	for _, tpl := range defaultTemplates {
		out = append(out, expand(tpl, ids))
	}
	return out
}

// LoadCatalog reads a YAML list of {name, path, description} entries and
// expands the {execution_id}, {journey_id}, {project_id} and {org_id}
// placeholders in each path.
func LoadCatalog(r io.Reader, ids Identifiers) (Catalog, error) {
	var templates []Endpoint
	if err := yaml.NewDecoder(r).Decode(&templates); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog file is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	out := make(Catalog, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, expand(tpl, ids))
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that the catalog is non-empty, names are unique and paths
// are absolute.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return errors.New("catalog has no endpoints")
	}
	seen := make(map[string]struct{}, len(c))
	for i, e := range c {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("catalog entry %d: name is required", i)
		}
		if e.Name == GraphQLSource {
			return fmt.Errorf("catalog entry %d: name %q is reserved", i, e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("catalog entry %d: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}
		if !strings.HasPrefix(e.Path, "/") {
			return fmt.Errorf("catalog entry %q: path must start with /", e.Name)
		}
		if strings.Contains(e.Path, "{") {
			return fmt.Errorf("catalog entry %q: unresolved placeholder in %q", e.Name, e.Path)
		}
	}
	return nil
}

// Names returns the endpoint names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, e := range c {
		names[i] = e.Name
	}
	return names
}

func expand(tpl Endpoint, ids Identifiers) Endpoint {
	r := strings.NewReplacer(
		"{execution_id}", ids.ExecutionID.String(),
		"{journey_id}", ids.JourneyID.String(),
		"{project_id}", ids.ProjectID.String(),
		"{org_id}", ids.OrgID.String(),
	)
	return Endpoint{
		Name:        tpl.Name,
		Path:        r.Replace(tpl.Path),
		Description: tpl.Description,
	}
}
