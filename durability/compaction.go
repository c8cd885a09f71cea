package durability

import "sort"

// SSTableInfo is the minimal shape SelectCompactionGroup needs about a
// published SSTable: enough to group by size without opening the file.
type SSTableInfo struct {
	Path      string
	ID        uint64
	SizeBytes int64
}

// SelectCompactionGroup implements the size-tiered selection strategy
// named in §9 ("size-tiered compaction group selection by a size-ratio
// threshold and minimum group size"), adapted from grabcocque/lsmer's
// candidate-group scan in original_source/src/wal/durability.rs. It is a
// pure function: given a set of candidate files, a minimum group size,
// and a size-ratio threshold, it returns the largest contiguous run of
// similarly-sized files worth merging, or nil if no run meets
// minGroupSize.
//
// Compaction itself (merging the group into a new SSTable) is out of
// core scope (§1 Non-goals do not name it explicitly, but §9 scopes the
// implementation to selection only); the output of this function is
// exactly the set of paths an external compactor would merge, publishing
// the result through the same atomic-rename discipline as a flush.
func SelectCompactionGroup(files []SSTableInfo, minGroupSize int, sizeRatioThreshold float64) []SSTableInfo {
	if minGroupSize < 1 || len(files) < minGroupSize {
		return nil
	}

	sorted := make([]SSTableInfo, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SizeBytes < sorted[j].SizeBytes })

	var best []SSTableInfo

	for start := 0; start < len(sorted); start++ {
		group := []SSTableInfo{sorted[start]}
		runningSum := sorted[start].SizeBytes

		for next := start + 1; next < len(sorted); next++ {
			candidate := sorted[next]
			// A candidate belongs in this tier if it is not disproportionately
			// larger than everything accumulated so far.
			if float64(candidate.SizeBytes) > float64(runningSum)*sizeRatioThreshold {
				break
			}
			group = append(group, candidate)
			runningSum += candidate.SizeBytes
		}

		if len(group) >= minGroupSize && len(group) > len(best) {
			best = group
		}
	}

	return best
}
