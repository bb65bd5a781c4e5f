package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// PeriodFunc lists the periods an entity has documents for inside window.
type PeriodFunc func(ctx context.Context, entity models.EntityRef, window models.Period) ([]models.Period, error)

// Planner expands entities and a time window into units.
type Planner struct {
	sources map[models.SourceKind]PeriodFunc
}

// NewPlanner creates a planner. Kinds without a registered PeriodFunc use
// calendar periods: quarters for institutional reports, years for net-worth
// reports. Legislator disclosures have no calendar and need a PeriodFunc.
func NewPlanner() *Planner {
	return &Planner{sources: make(map[models.SourceKind]PeriodFunc)}
}

// Register sets the period lister for kind.
func (p *Planner) Register(kind models.SourceKind, fn PeriodFunc) {
	p.sources[kind] = fn
}

// Plan returns units for every entity and kind applicable to it.
func (p *Planner) Plan(ctx context.Context, entities []models.Entity, kinds []models.SourceKind, window models.Period) ([]Unit, error) {
	var units []Unit
	for _, e := range entities {
		for _, kind := range kinds {
			if kind.EntityKind() != e.Kind {
				continue
			}
			periods, err := p.periods(ctx, e.Ref(), kind, window)
			if err != nil {
				return nil, fmt.Errorf("plan %s %s: %w", kind, e.ExternalID, err)
			}
			for _, per := range periods {
				units = append(units, Unit{Entity: e.Ref(), Kind: kind, Period: per})
			}
		}
	}
	return units, nil
}

func (p *Planner) periods(ctx context.Context, ref models.EntityRef, kind models.SourceKind, window models.Period) ([]models.Period, error) {
	if fn, ok := p.sources[kind]; ok {
		ps, err := fn(ctx, ref, window)
		if err != nil {
			return nil, err
		}
		return within(ps, window), nil
	}
	switch kind {
	case models.SourceInstitutionalReport:
		return Quarters(window), nil
	case models.SourceNetWorthReport:
		return Years(window), nil
	}
	return nil, fmt.Errorf("no period lister for %s", kind)
}

// Quarters returns the calendar quarters whose end falls inside window.
func Quarters(window models.Period) []models.Period {
	var out []models.Period
	for q := models.QuarterOf(window.Start); !q.End.After(window.End); q = models.QuarterOf(q.End.AddDate(0, 0, 1)) {
		if !q.End.Before(window.Start) {
			out = append(out, q)
		}
	}
	return out
}

// Years returns the calendar years whose end falls inside window.
func Years(window models.Period) []models.Period {
	var out []models.Period
	for y := window.Start.Year(); y <= window.End.Year(); y++ {
		p := models.Year(y)
		if !p.End.After(window.End) {
			out = append(out, p)
		}
	}
	return out
}

func within(ps []models.Period, window models.Period) []models.Period {
	var out []models.Period
	for _, p := range ps {
		if window.Contains(p.End) {
			out = append(out, p)
		}
	}
	return out
}

// TrailingWindow is the window from n days before now to now.
func TrailingWindow(now time.Time, days int) models.Period {
	return models.NewPeriod(now.AddDate(0, 0, -days), now)
}
