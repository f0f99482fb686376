package store

// RiskLevel classifies impact by BFS hop depth: the closer a dependent sits
// to the changed node, the more likely a change breaks it.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// HopToRisk maps a BFS hop depth to a risk level.
func HopToRisk(hop int) RiskLevel {
	switch hop {
	case 1:
		return RiskCritical
	case 2:
		return RiskHigh
	case 3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ImpactSummary aggregates risk counts from a BFS traversal.
type ImpactSummary struct {
	Critical      int  `json:"critical"`
	High          int  `json:"high"`
	Medium        int  `json:"medium"`
	Low           int  `json:"low"`
	Total         int  `json:"total"`
	HasCrossCrate bool `json:"has_cross_crate"`
	HasSynthetic  bool `json:"has_synthetic"`
}

// BuildImpactSummary computes the risk distribution from deduplicated node
// hops. Cross-crate reach and generated-edge reach are flagged separately:
// a distributed send or a macro-generated call widens the blast radius past
// what local review sees.
func BuildImpactSummary(hops []*NodeHop, edges []EdgeInfo) ImpactSummary {
	var s ImpactSummary
	for _, nh := range hops {
		switch HopToRisk(nh.Hop) {
		case RiskCritical:
			s.Critical++
		case RiskHigh:
			s.High++
		case RiskMedium:
			s.Medium++
		case RiskLow:
			s.Low++
		}
		s.Total++
	}
	for _, e := range edges {
		if e.Type == EdgeSendsDistributed {
			s.HasCrossCrate = true
		}
		if e.Synthetic {
			s.HasSynthetic = true
		}
	}
	return s
}

// DeduplicateHops keeps the minimum hop, the highest risk, for each node
// reached more than once.
func DeduplicateHops(hops []*NodeHop) []*NodeHop {
	best := make(map[int64]*NodeHop)
	for _, nh := range hops {
		if existing, ok := best[nh.Node.ID]; !ok || nh.Hop < existing.Hop {
			best[nh.Node.ID] = nh
		}
	}
	result := make([]*NodeHop, 0, len(best))
	for _, nh := range best {
		result = append(result, nh)
	}
	return result
}
