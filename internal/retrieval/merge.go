package retrieval

import "sort"

// mergeResults implements the four-stage cross-leaf merge of spec §4.6.
func mergeResults(subResults []SubQueryResult, cfg MultiQueryConfig) []MergedResult {
	// Stage A: id-keyed collapse, keeping max score and deduplicated sources.
	byID := make(map[string]*MergedResult)
	order := make([]string, 0)

	for _, sub := range subResults {
		for _, qr := range sub.Results {
			score := 0.0
			if qr.Score != nil {
				score = *qr.Score
			}

			entry, ok := byID[qr.ID]
			if !ok {
				copyQR := qr
				entry = &MergedResult{Memory: copyQR, Sources: nil, MaxScore: score}
				byID[qr.ID] = entry
				order = append(order, qr.ID)
			}

			if score > entry.MaxScore {
				entry.MaxScore = score
				s := score
				entry.Memory.Score = &s
				entry.Memory.ScoreType = qr.ScoreType
			}

			if !containsString(entry.Sources, sub.NodeID) {
				entry.Sources = append(entry.Sources, sub.NodeID)
			}
		}
	}

	merged := make([]MergedResult, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byID[id])
	}

	// Stage B: global sort, descending by max score, stable for ties.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].MaxScore > merged[j].MaxScore
	})

	// Stage C: per-leaf fairness.
	guaranteed := collectGuaranteed(merged, subResults, cfg.MinPerLeaf)

	// Stage D: final assembly.
	return buildFinal(merged, guaranteed, cfg.MaxTotalResults)
}

func collectGuaranteed(sortedMerged []MergedResult, subResults []SubQueryResult, minPerLeaf int) map[string]struct{} {
	guaranteed := make(map[string]struct{})

	for _, sub := range subResults {
		count := 0
		for _, m := range sortedMerged {
			if count >= minPerLeaf {
				break
			}
			if _, already := guaranteed[m.Memory.ID]; already {
				continue
			}
			if containsString(m.Sources, sub.NodeID) {
				guaranteed[m.Memory.ID] = struct{}{}
				count++
			}
		}
	}

	return guaranteed
}

func buildFinal(sortedMerged []MergedResult, guaranteed map[string]struct{}, maxTotal int) []MergedResult {
	seen := make(map[string]struct{})
	results := make([]MergedResult, 0, maxTotal)

	for _, item := range sortedMerged {
		if _, ok := guaranteed[item.Memory.ID]; !ok {
			continue
		}
		if _, dup := seen[item.Memory.ID]; dup {
			continue
		}
		seen[item.Memory.ID] = struct{}{}
		results = append(results, item)
		if len(results) >= maxTotal {
			return results
		}
	}

	for _, item := range sortedMerged {
		if len(results) >= maxTotal {
			break
		}
		if _, dup := seen[item.Memory.ID]; dup {
			continue
		}
		seen[item.Memory.ID] = struct{}{}
		results = append(results, item)
	}

	return results
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
