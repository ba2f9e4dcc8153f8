package datasource

import (
	"context"
	"maps"
	"slices"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/token"
)

// Reserved render context names. Source results never replace them.
const (
	ItemsKey = "items"
	UserKey  = "user"
)

func isReserved(k string) bool { return k == ItemsKey || k == UserKey }

// MergeContext returns a copy of base with the Data of agg[k] added under k
// for each k in keys, in order (nil for failed sources). Reserved names and
// names already present in base are left alone and returned in skipped.
// A key listed twice is merged or skipped once.
func MergeContext(base map[string]any, agg Aggregate, keys []string) (merged map[string]any, skipped []string) {
	merged = make(map[string]any, len(base)+len(agg))
	maps.Copy(merged, base)
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		r, ok := agg[k]
		if !ok {
			continue
		}
		if _, again := seen[k]; again {
			continue
		}
		seen[k] = struct{}{}
		if _, taken := merged[k]; taken || isReserved(k) {
			skipped = append(skipped, k)
			continue
		}
		merged[k] = r.Data
	}
	return merged, skipped
}

// StagesResult is the outcome of FetchStages.
type StagesResult struct {
	Results Aggregate      // every source of every stage
	Context map[string]any // base plus every merged result
	Skipped []string       // source keys that collided with reserved or existing names, each once
}

func (r *StagesResult) skip(keys ...string) {
	for _, k := range keys {
		if !slices.Contains(r.Skipped, k) {
			r.Skipped = append(r.Skipped, k)
		}
	}
}

// FetchStages runs stages in order. Each stage is fetched in parallel with
// a token context built from base and the results of all earlier stages,
// so a list source in stage one can feed the URL of an HTTP source in
// stage two.
func (o *Orchestrator) FetchStages(ctx context.Context, base map[string]any, stages ...[]SourceConfig) StagesResult {
	res := StagesResult{Results: Aggregate{}, Context: base}
	if res.Context == nil {
		res.Context = map[string]any{}
	}
	for i, stage := range stages {
		if len(stage) == 0 {
			continue
		}
		tc, err := token.NewContext(res.Context)
		if err != nil {
			o.log.Warn("stage context not encodable; tokens resolve empty", fetchcache.Fields{"stage": i, "err": err})
			tc = nil
		}
		agg := o.FetchMany(ctx, stage, tc)

		keys := make([]string, 0, len(stage))
		for _, cfg := range stage {
			if _, dup := res.Results[cfg.Key]; dup {
				// a key from an earlier stage keeps its first result
				res.skip(cfg.Key)
				continue
			}
			if r, ok := agg[cfg.Key]; ok {
				res.Results[cfg.Key] = r
				keys = append(keys, cfg.Key)
			}
		}
		var skipped []string
		res.Context, skipped = MergeContext(res.Context, agg, keys)
		res.skip(skipped...)
	}
	return res
}
