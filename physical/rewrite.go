package physical

import (
	"sort"

	"columnix/parquet-exchange-engine/window"
)

type windowGroup struct {
	signature     string
	specs         []window.Spec
	requirement   Requirement
	needsExchange bool
	// exchange is the requirement the group's exchange hashes by. Set only
	// when needsExchange is true; it keys by the shortest key list of the
	// prefix chain the exchange serves.
	exchange Requirement
}

// placeExchanges orders the window groups so that consecutive groups reuse
// one exchange whenever their key lists form a prefix chain with the same
// bucket count, then marks the groups that still need their own exchange.
//
// Groups whose keys are a prefix of another group's keys ride behind that
// group's exchange, so the result carries exactly one exchange per maximal
// key prefix. When several orderings are possible, the exchange covering the
// most groups is placed first. The shared exchange hashes by the chain's
// shortest key list: rows that agree on a longer key list agree on every
// prefix of it, so hashing by the minimal prefix co-locates the partitions
// of every member.
func placeExchanges(groups []windowGroup) []windowGroup {
	if len(groups) == 0 {
		return nil
	}

	// covered[i] counts the groups whose requirement i's exchange satisfies,
	// itself included.
	covered := make([]int, len(groups))
	for i := range groups {
		for j := range groups {
			if groups[i].requirement.Satisfies(groups[j].requirement) {
				covered[i]++
			}
		}
	}

	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if covered[i] != covered[j] {
			return covered[i] > covered[j]
		}
		if len(groups[i].requirement.Keys) != len(groups[j].requirement.Keys) {
			return len(groups[i].requirement.Keys) > len(groups[j].requirement.Keys)
		}
		return groups[i].signature < groups[j].signature
	})

	// Walk maximal groups first; each one pulls in every not-yet-placed group
	// its partitioning satisfies.
	placed := make([]bool, len(groups))
	result := make([]windowGroup, 0, len(groups))
	for _, i := range order {
		if placed[i] {
			continue
		}
		group := groups[i]
		group.needsExchange = true
		group.exchange = group.requirement
		placed[i] = true
		at := len(result)
		result = append(result, group)
		for _, j := range order {
			if placed[j] {
				continue
			}
			if groups[i].requirement.Satisfies(groups[j].requirement) {
				placed[j] = true
				result = append(result, groups[j])
				if len(groups[j].requirement.Keys) < len(result[at].exchange.Keys) {
					result[at].exchange.Keys = groups[j].requirement.Keys
				}
			}
		}
	}
	return result
}
