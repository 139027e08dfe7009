package graph

import "sort"

// Plan is a wave-based execution plan. Wave k holds the jobs whose every
// dependency sits in waves 0..k-1; wave 0 is exactly the jobs with no
// dependencies. Jobs degraded by dangling references, and jobs depending
// on them, land in Excluded instead of a wave.
type Plan struct {
	Waves    [][]string
	Excluded []string
}

// Schedule computes the execution plan for a graph. It fails with a
// CycleError when the dependency edges contain a cycle; the error lists
// the cycle's member job IDs.
func Schedule(g *Graph) (*Plan, *CycleError) {
	if cerr := g.CycleCheck(); cerr != nil {
		return nil, cerr
	}

	// Kahn's algorithm, layered. Jobs with dangling references never
	// become ready, so they and their transitive dependents are the
	// leftovers once the waves drain.
	pending := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		pending[id] = len(g.deps[id]) + len(g.unschedulable[id])
	}

	scheduled := make(map[string]bool, len(g.nodes))
	plan := &Plan{}

	for len(scheduled) < len(g.nodes) {
		var wave []string
		for _, id := range g.nodes {
			if !scheduled[id] && pending[id] == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			break
		}

		sort.Strings(wave)
		plan.Waves = append(plan.Waves, wave)

		for _, id := range wave {
			scheduled[id] = true
			for _, dependent := range g.dependents[id] {
				pending[dependent]--
			}
		}
	}

	for _, id := range g.nodes {
		if !scheduled[id] {
			plan.Excluded = append(plan.Excluded, id)
		}
	}
	sort.Strings(plan.Excluded)

	return plan, nil
}

// JobCount returns the number of scheduled jobs across all waves.
func (p *Plan) JobCount() int {
	count := 0
	for _, wave := range p.Waves {
		count += len(wave)
	}
	return count
}

// WaveOf returns the wave index containing the job, or -1 when the job is
// excluded or unknown.
func (p *Plan) WaveOf(id string) int {
	for i, wave := range p.Waves {
		for _, member := range wave {
			if member == id {
				return i
			}
		}
	}
	return -1
}

// Parallelizable returns the jobs that can run concurrently: wave 0 plus
// every wave with more than one member, sorted.
func (p *Plan) Parallelizable() []string {
	seen := make(map[string]bool)
	var jobs []string

	for i, wave := range p.Waves {
		if i != 0 && len(wave) <= 1 {
			continue
		}
		for _, id := range wave {
			if !seen[id] {
				seen[id] = true
				jobs = append(jobs, id)
			}
		}
	}

	sort.Strings(jobs)
	return jobs
}
