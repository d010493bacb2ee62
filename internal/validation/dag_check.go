package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/mtaflow/pkg/schema"
)

// ErrCodeCycle marks a deployed_after cycle in a Report.
const ErrCodeCycle = "CYCLE_DETECTED"

// validateOrder checks deployed_after references: every name must be a
// module of the descriptor and the graph must be acyclic.
func validateOrder(desc *schema.Descriptor) *Report {
	report := &Report{}

	names := make(map[string]bool, len(desc.Modules))
	for _, m := range desc.Modules {
		names[m.Name] = true
	}
	for i := range desc.Modules {
		m := &desc.Modules[i]
		for j, dep := range m.DeployedAfter {
			at := moduleAt(i, m).field(fmt.Sprintf("deployed_after[%d]", j))
			switch {
			case dep == m.Name:
				report.reject(at.issue(ErrCodeCycle, "cannot be deployed after itself"))
			case !names[dep]:
				report.reject(at.issue(schema.ErrCodeValidation, "references unknown module %q", dep))
			}
		}
	}
	if !report.OK() {
		return report
	}

	if _, cycle := deploymentOrder(desc); len(cycle) > 0 {
		report.reject(location{path: "modules"}.issue(ErrCodeCycle, "deployed_after cycle between modules: %v", cycle))
	}
	return report
}

// DeploymentOrder returns module names so that every module comes after the
// modules it is deployed after. Independent modules keep declaration order.
// A cycle or unknown reference is a VALIDATION_ERROR.
func DeploymentOrder(desc *schema.Descriptor) ([]string, error) {
	if desc == nil {
		return nil, nil
	}
	if err := validateOrder(desc).Err(); err != nil {
		return nil, err
	}
	order, _ := deploymentOrder(desc)
	return order, nil
}

// deploymentOrder runs Kahn's algorithm, always picking the earliest declared
// ready module. The second result lists the modules left on a cycle.
func deploymentOrder(desc *schema.Descriptor) ([]string, []string) {
	index := make(map[string]int, len(desc.Modules))
	for i, m := range desc.Modules {
		index[m.Name] = i
	}

	inDegree := make([]int, len(desc.Modules))
	dependents := make([][]int, len(desc.Modules))
	for i, m := range desc.Modules {
		seen := make(map[string]bool, len(m.DeployedAfter))
		for _, dep := range m.DeployedAfter {
			j, ok := index[dep]
			if !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(desc.Modules))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, desc.Modules[i].Name)
		for _, j := range dependents[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(order) == len(desc.Modules) {
		return order, nil
	}
	var cycle []string
	for i, d := range inDegree {
		if d > 0 {
			cycle = append(cycle, desc.Modules[i].Name)
		}
	}
	return order, cycle
}
