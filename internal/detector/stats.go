package detector

import (
	"sort"

	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/pkg/metric"
)

// populationAverages computes, for every non-Activity metric, the average
// value across the included, non-mitigating hosts. Hosts under mitigation
// are deliberately left out so a probing host cannot drag the baseline
// toward itself while it is being acted on.
//
// Averages are recomputed fresh every batch; there is no streaming state
// beyond the per-host windows. Hosts are folded in sorted ID order so
// replaying the same batches yields bit-identical results.
func populationAverages(hosts map[string]*HostState, cfg *config.Config) metric.Map {
	sums := metric.Map{}
	counts := map[string]int{}

	for _, id := range sortedHostIDs(hosts) {
		h := hosts[id]
		if !h.included || h.mitigating {
			continue
		}
		last := h.latest()
		if last == nil {
			continue
		}
		for _, name := range last.Names() {
			if name == metric.Activity {
				continue
			}
			v := h.value(name, cfg)
			if v == nil {
				continue
			}
			if acc, ok := sums[name]; ok {
				sums[name] = acc.Add(v)
			} else {
				sums[name] = v
			}
			counts[name]++
		}
	}

	averages := make(metric.Map, len(sums))
	for name, sum := range sums {
		averages[name] = sum.Div(counts[name])
	}
	return averages
}

func sortedHostIDs(hosts map[string]*HostState) []string {
	ids := make([]string, 0, len(hosts))
	for id := range hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
