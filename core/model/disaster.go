package model

import (
	"fmt"
	"time"
)

// DisasterType categorizes the reported event.
type DisasterType string

const (
	DisasterEarthquake DisasterType = "earthquake"
	DisasterFlood      DisasterType = "flood"
	DisasterFire       DisasterType = "fire"
	DisasterMedical    DisasterType = "medical"
	DisasterStorm      DisasterType = "storm"
	DisasterOther      DisasterType = "other"
)

// DisasterStatus is the lifecycle state of a disaster record. Transitions
// only move forward; a resolved disaster never becomes active again.
type DisasterStatus string

const (
	DisasterReported DisasterStatus = "reported"
	DisasterActive   DisasterStatus = "active"
	DisasterResolved DisasterStatus = "resolved"
	DisasterArchived DisasterStatus = "archived"
)

var disasterStatusRank = map[DisasterStatus]int{
	DisasterReported: 0,
	DisasterActive:   1,
	DisasterResolved: 2,
	DisasterArchived: 3,
}

// CanTransition reports whether moving from s to next respects the
// forward-only ordering.
func (s DisasterStatus) CanTransition(next DisasterStatus) bool {
	cur, ok := disasterStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := disasterStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Urgency qualifies a resource requirement.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ResourceRequirement is a quantity of a resource type a disaster needs.
type ResourceRequirement struct {
	ResourceType ResourceType `json:"resource_type"`
	Quantity     int          `json:"quantity"`
	Urgency      Urgency      `json:"urgency"`
	Fulfilled    bool         `json:"fulfilled"`
}

// AffectedArea describes a named zone inside a disaster perimeter.
type AffectedArea struct {
	Name                 string   `json:"name"`
	Population           int      `json:"population,omitempty"`
	InfrastructureDamage string   `json:"infrastructure_damage,omitempty"`
	Location             GeoPoint `json:"location"`
}

// Disaster is a registered disaster event. Records are created on report
// intake and never deleted, only archived.
type Disaster struct {
	ID            string                `json:"id"`
	Type          DisasterType          `json:"type"`
	Severity      int                   `json:"severity"`
	Location      GeoArea               `json:"location"`
	Status        DisasterStatus        `json:"status"`
	StartTime     time.Time             `json:"start_time"`
	EndTime       *time.Time            `json:"end_time,omitempty"`
	AffectedAreas []AffectedArea        `json:"affected_areas,omitempty"`
	Requirements  []ResourceRequirement `json:"requirements,omitempty"`
	ReportedBy    string                `json:"reported_by"`
	Verified      bool                  `json:"verified"`
}

// Validate checks the invariants the coordinator relies on.
func (d Disaster) Validate() error {
	if d.Severity < 1 || d.Severity > 5 {
		return fmt.Errorf("severity %d outside [1,5]", d.Severity)
	}
	if d.Location.RadiusM < MinDisasterRadiusM {
		return fmt.Errorf("radius %.0fm below minimum %dm", d.Location.RadiusM, MinDisasterRadiusM)
	}
	return nil
}

// Advance moves the disaster to the next status, enforcing the forward-only
// ordering. Archiving stamps EndTime if it was never set.
func (d *Disaster) Advance(next DisasterStatus, now time.Time) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("disaster %s: cannot go from %s to %s", d.ID, d.Status, next)
	}
	d.Status = next
	if (next == DisasterResolved || next == DisasterArchived) && d.EndTime == nil {
		t := now
		d.EndTime = &t
	}
	return nil
}

// MarkFulfilled flags the first unfulfilled requirement matching the type
// once the allocated quantity covers it.
func (d *Disaster) MarkFulfilled(rt ResourceType, quantity int) {
	for i := range d.Requirements {
		req := &d.Requirements[i]
		if req.Fulfilled || req.ResourceType != rt {
			continue
		}
		if quantity >= req.Quantity {
			req.Fulfilled = true
		}
		return
	}
}
