package semantic

import (
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/WessleyAI/ragset/engine/domain"
)

// scoreAlias converts a Qdrant score into the certainty/distance pair
// reported on search results, and a certainty floor into a score threshold.
// A nil converter means the metric has no such notion. Only cosine has a
// certainty, so only cosine accepts a certainty floor.
type scoreAlias struct {
	certainty func(score float32) float64
	distance  func(score float32) float64
	threshold func(certainty float64) float32
}

var scoreAliases = map[pb.Distance]scoreAlias{
	pb.Distance_Cosine: {
		certainty: func(s float32) float64 { return (1 + float64(s)) / 2 },
		distance:  func(s float32) float64 { return 1 - float64(s) },
		threshold: func(c float64) float32 { return float32(2*c - 1) },
	},
	pb.Distance_Euclid: {
		distance: func(s float32) float64 { return float64(s) },
	},
	pb.Distance_Manhattan: {
		distance: func(s float32) float64 { return float64(s) },
	},
	pb.Distance_Dot: {},
}

func aliasFor(d pb.Distance) scoreAlias {
	if a, ok := scoreAliases[d]; ok {
		return a
	}
	return scoreAlias{}
}

func (a scoreAlias) result(id string, score float32, props map[string]any) domain.SearchResult {
	r := domain.SearchResult{ID: id, Properties: props, Score: score}
	if a.certainty != nil {
		c := a.certainty(score)
		r.Certainty = &c
	}
	if a.distance != nil {
		d := a.distance(score)
		r.Distance = &d
	}
	return r
}

func toDistance(m domain.Metric) pb.Distance {
	switch m {
	case domain.MetricDot:
		return pb.Distance_Dot
	case domain.MetricEuclid:
		return pb.Distance_Euclid
	case domain.MetricManhattan:
		return pb.Distance_Manhattan
	default:
		return pb.Distance_Cosine
	}
}
