package versioning

import (
	"time"

	"github.com/secretshub/policy-core/pkg/types"
)

const daysPerMonth = 30.44

// computeStats aggregates change statistics from an ascending history.
// Average changes per month is 0 when fewer than 2 versions exist; spans
// shorter than a month count as one month so the average never inflates.
func computeStats(policyID string, ascending []*types.PolicyVersion) *types.VersionStats {
	stats := &types.VersionStats{
		PolicyID:      policyID,
		TotalVersions: len(ascending),
		ByChangeType:  make(map[types.ChangeType]int),
	}

	if len(ascending) == 0 {
		return stats
	}

	contributions := make(map[string]int)
	firstSeen := make(map[string]int)
	var topContributor string
	var topCount int

	for i, v := range ascending {
		stats.ByChangeType[v.ChangeType]++

		if v.CreatedBy == "" {
			continue
		}
		if _, ok := firstSeen[v.CreatedBy]; !ok {
			firstSeen[v.CreatedBy] = i
		}
		contributions[v.CreatedBy]++
		count := contributions[v.CreatedBy]
		// Ties go to whoever appeared earliest in the history.
		if count > topCount || (count == topCount && firstSeen[v.CreatedBy] < firstSeen[topContributor]) {
			topCount = count
			topContributor = v.CreatedBy
		}
	}

	stats.TopContributor = topContributor
	stats.LastModified = ascending[len(ascending)-1].CreatedAt

	if len(ascending) >= 2 {
		span := ascending[len(ascending)-1].CreatedAt.Sub(ascending[0].CreatedAt)
		months := span.Hours() / (24 * daysPerMonth)
		if months < 1 {
			months = 1
		}
		stats.AvgChangesPerMonth = float64(len(ascending)) / months
	}

	return stats
}

// filterTrail applies an audit filter over a newest-first history
func filterTrail(newestFirst []*types.PolicyVersion, filter *types.AuditFilter) []*types.PolicyVersion {
	if filter == nil {
		return newestFirst
	}

	result := make([]*types.PolicyVersion, 0, len(newestFirst))
	for _, v := range newestFirst {
		if !filter.Matches(v) {
			continue
		}
		result = append(result, v)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result
}

// now is stubbed in tests that need deterministic timestamps
var now = time.Now
