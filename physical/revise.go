package physical

// SkewRatio is max/mean over observed per-bucket row counts. It is 1 for a
// perfectly even distribution and 0 when nothing was routed.
func SkewRatio(bucketRows []int64) float64 {
	var total, max int64
	for _, rows := range bucketRows {
		total += rows
		if rows > max {
			max = rows
		}
	}
	if total == 0 || len(bucketRows) == 0 {
		return 0
	}
	mean := float64(total) / float64(len(bucketRows))
	return float64(max) / mean
}

// ReviseBuckets inspects the bucket row counts observed at a completed
// exchange and, when the distribution is skewed past the threshold, doubles
// the bucket count for exchanges that have not started yet. Running stages
// are never touched: revision happens only at stage boundaries, so every
// bucket of a stage is produced under a single bucket count.
func ReviseBuckets(req Requirement, bucketRows []int64, threshold float64) (Requirement, bool) {
	if req.Buckets <= 1 || threshold <= 0 {
		return req, false
	}
	if SkewRatio(bucketRows) <= threshold {
		return req, false
	}
	revised := Requirement{Keys: req.Keys, Buckets: req.Buckets * 2}
	return revised, true
}
