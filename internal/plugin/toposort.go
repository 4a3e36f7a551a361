package plugin

import (
	"fmt"
	"sort"

	"lumina/internal/luminaerr"
)

// LoadPlan is the outcome of sorting a set of manifests by their
// dependencies[] graph: Order lists ids ready to load in sequence;
// Skipped lists ids flagged because a dependency is missing, with the
// reason per spec §4.8 ("a plugin whose dependency is missing is
// flagged and skipped with a plugin.error event").
type LoadPlan struct {
	Order   []string
	Skipped map[string]string
}

// Sort topologically orders manifests by Dependencies. A missing
// dependency skips that plugin (and transitively, anything depending
// on it) rather than failing the whole plan. A dependency cycle among
// plugins that are otherwise loadable is a fatal configuration error.
func Sort(manifests map[string]Manifest) (LoadPlan, error) {
	plan := LoadPlan{Skipped: map[string]string{}}

	ids := make([]string, 0, len(manifests))
	for id := range manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic iteration for equal-priority nodes

	for _, id := range ids {
		for _, dep := range manifests[id].Dependencies {
			if _, ok := manifests[dep]; !ok {
				plan.Skipped[id] = fmt.Sprintf("missing dependency %q", dep)
			}
		}
	}
	propagateSkips(manifests, plan.Skipped)

	remaining := map[string]bool{}
	for _, id := range ids {
		if _, skipped := plan.Skipped[id]; !skipped {
			remaining[id] = true
		}
	}

	visited := map[string]bool{}
	inStack := map[string]bool{}
	var order []string
	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		if inStack[id] {
			return luminaerr.NewFatal("plugin.sort", fmt.Sprintf("dependency cycle involving %q", id), nil)
		}
		inStack[id] = true
		deps := append([]string(nil), manifests[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if !remaining[dep] {
				continue // already flagged as skipped
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		inStack[id] = false
		visited[id] = true
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if !remaining[id] {
			continue
		}
		if err := visit(id); err != nil {
			return LoadPlan{}, err
		}
	}

	plan.Order = order
	return plan, nil
}

// propagateSkips flags any plugin that (transitively) depends on an
// already-skipped plugin, so a missing-dependency failure cannot
// surface later as a dangling reference during load.
func propagateSkips(manifests map[string]Manifest, skipped map[string]string) {
	for changed := true; changed; {
		changed = false
		for id, m := range manifests {
			if _, already := skipped[id]; already {
				continue
			}
			for _, dep := range m.Dependencies {
				if reason, ok := skipped[dep]; ok {
					skipped[id] = fmt.Sprintf("depends on skipped plugin %q (%s)", dep, reason)
					changed = true
					break
				}
			}
		}
	}
}
