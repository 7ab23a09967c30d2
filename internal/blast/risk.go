package blast

import (
	"github.com/stratahq/strata/internal/models"
)

// RiskThreshold escalates the risk level when the impacted set reaches
// either the node count or the weighted reach.
type RiskThreshold struct {
	Level            models.RiskLevel `json:"level" yaml:"level"`
	MinNodes         int              `json:"minNodes" yaml:"minNodes"`
	MinWeightedReach float64          `json:"minWeightedReach" yaml:"minWeightedReach"`
}

// RiskConfig externalizes the edge-weight table and the risk-level
// thresholds. The thresholds section is hot-reloadable at runtime.
type RiskConfig struct {
	// EdgeWeights maps edge types to traversal weights in [0,1]. Types
	// absent from the table fall back to DefaultEdgeWeight.
	EdgeWeights       map[models.EdgeType]float64 `json:"edgeWeights" yaml:"edgeWeights"`
	DefaultEdgeWeight float64                     `json:"defaultEdgeWeight" yaml:"defaultEdgeWeight"`
	// Thresholds must be ordered from most to least severe; the first one
	// reached wins. An empty slice buckets everything as low.
	Thresholds []RiskThreshold `json:"thresholds" yaml:"thresholds"`
}

// DefaultRiskConfig returns the built-in weight table and thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		EdgeWeights: map[models.EdgeType]float64{
			models.EdgeTypeDependsOn:         1.0,
			models.EdgeTypeDeploysTo:         0.9,
			models.EdgeTypeOperatesOn:        0.8,
			models.EdgeTypeCrossRepoIdentity: 0.7,
			models.EdgeTypeReferences:        0.5,
			models.EdgeTypeContains:          0.3,
		},
		DefaultEdgeWeight: 0.5,
		Thresholds: []RiskThreshold{
			{Level: models.RiskCritical, MinNodes: 50, MinWeightedReach: 40},
			{Level: models.RiskHigh, MinNodes: 20, MinWeightedReach: 15},
			{Level: models.RiskMedium, MinNodes: 5, MinWeightedReach: 3},
		},
	}
}

var knownRiskLevels = map[models.RiskLevel]bool{
	models.RiskLow:      true,
	models.RiskMedium:   true,
	models.RiskHigh:     true,
	models.RiskCritical: true,
}

// Validate checks weight and threshold values.
func (c RiskConfig) Validate() error {
	if c.DefaultEdgeWeight < 0 || c.DefaultEdgeWeight > 1 {
		return models.NewValidationError("defaultEdgeWeight must be in [0,1], got %v", c.DefaultEdgeWeight)
	}
	for edgeType, weight := range c.EdgeWeights {
		if weight < 0 || weight > 1 {
			return models.NewValidationError("edge weight for %q must be in [0,1], got %v", edgeType, weight)
		}
	}
	for i, threshold := range c.Thresholds {
		if !knownRiskLevels[threshold.Level] {
			return models.NewValidationError("thresholds[%d]: unknown risk level %q", i, threshold.Level)
		}
		if threshold.MinNodes < 0 || threshold.MinWeightedReach < 0 {
			return models.NewValidationError("thresholds[%d]: bounds must not be negative", i)
		}
	}
	return nil
}

// Weight returns the traversal weight of an edge type.
func (c RiskConfig) Weight(t models.EdgeType) float64 {
	if w, ok := c.EdgeWeights[t]; ok {
		return w
	}
	return c.DefaultEdgeWeight
}

// Classify buckets an impacted set by cardinality and weighted reach. The
// first threshold either measure reaches wins.
func (c RiskConfig) Classify(nodes int, weightedReach float64) models.RiskLevel {
	for _, threshold := range c.Thresholds {
		if nodes >= threshold.MinNodes || weightedReach >= threshold.MinWeightedReach {
			return threshold.Level
		}
	}
	return models.RiskLow
}

// RiskSource supplies the current risk configuration. Hot reload swaps the
// value behind the source without restarting the engine.
type RiskSource func() RiskConfig

// StaticRisk wraps a fixed configuration as a source.
func StaticRisk(cfg RiskConfig) RiskSource {
	return func() RiskConfig { return cfg }
}
