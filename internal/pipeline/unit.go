package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// Unit is one ingestion job: an entity, a source kind and a period.
type Unit struct {
	Entity models.EntityRef
	Kind   models.SourceKind
	Period models.Period
}

// TaskType is the job tracker task for the unit.
func (u Unit) TaskType() models.TaskType { return models.TaskForSource(u.Kind) }

// Scope is the job tracker scope: "<external id>@<period key>".
func (u Unit) Scope() string { return u.Entity.ExternalID + "@" + u.Period.Key() }

func (u Unit) String() string {
	return fmt.Sprintf("%s %s %s", u.Kind, u.Entity.ExternalID, u.Period.Key())
}

// ParseScope splits a job scope back into external id and period.
func ParseScope(scope string) (string, models.Period, error) {
	id, key, ok := strings.Cut(scope, "@")
	if !ok || id == "" {
		return "", models.Period{}, fmt.Errorf("invalid job scope %q", scope)
	}
	p, err := models.ParsePeriod(key)
	if err != nil {
		return "", models.Period{}, fmt.Errorf("job scope %q: %w", scope, err)
	}
	return id, p, nil
}

// entityKey groups units that must run sequentially.
func (u Unit) entityKey() string { return string(u.Entity.Kind) + ":" + u.Entity.ExternalID }

// groupByEntity buckets units per entity, each bucket sorted by increasing
// period. Buckets come back in first-seen order.
func groupByEntity(units []Unit) [][]indexedUnit {
	var (
		order  []string
		groups = make(map[string][]indexedUnit)
	)
	for i, u := range units {
		k := u.entityKey()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], indexedUnit{index: i, unit: u})
	}

	out := make([][]indexedUnit, 0, len(order))
	for _, k := range order {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool {
			a, b := g[i].unit, g[j].unit
			if !a.Period.Equal(b.Period) {
				return a.Period.Before(b.Period)
			}
			return a.Kind < b.Kind
		})
		out = append(out, g)
	}
	return out
}

type indexedUnit struct {
	index int
	unit  Unit
}
