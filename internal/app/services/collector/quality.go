package collector

// Quality score weights. The score rewards a full page of ads, complete
// merchant profiles, and full volume coverage, with a flat deduction when the
// data only arrived after retries. Each component degrades the score
// monotonically as completeness drops.
const (
	weightFill     = 0.5
	weightMetadata = 0.3
	weightCoverage = 0.2
	retryPenalty   = 0.1
)

// QualityScore computes the deterministic data quality score in [0, 1] for a
// snapshot. A zero-ad snapshot scores exactly 0; a full page with complete
// metadata, full volume coverage and no retries scores exactly 1.
func QualityScore(totalAds, requestedRows, completeMetadata, volumesPlanned, volumesSucceeded int, retried bool) float64 {
	if totalAds <= 0 {
		return 0
	}

	fill := 1.0
	if requestedRows > 0 {
		fill = float64(totalAds) / float64(requestedRows)
		if fill > 1 {
			fill = 1
		}
	}

	metadata := float64(completeMetadata) / float64(totalAds)
	if metadata > 1 {
		metadata = 1
	}

	coverage := 1.0
	if volumesPlanned > 0 {
		coverage = float64(volumesSucceeded) / float64(volumesPlanned)
		if coverage > 1 {
			coverage = 1
		}
	}

	score := weightFill*fill + weightMetadata*metadata + weightCoverage*coverage
	if retried {
		score -= retryPenalty
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
