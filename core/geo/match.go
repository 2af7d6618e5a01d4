package geo

import (
	"sort"

	"github.com/reliefops/aidchain/core/model"
)

// Candidate pairs a resource with its distance to the disaster epicenter.
type Candidate struct {
	Resource   model.Resource
	DistanceKm float64
}

// MatchResources selects the resources able to serve a requirement, ordered
// by ascending distance to the epicenter. Ties break on descending supplier
// reliability, then on resource id so the result is deterministic.
func MatchResources(req model.ResourceRequirement, epicenter model.GeoPoint, resources []model.Resource) []Candidate {
	var out []Candidate
	for _, r := range resources {
		if r.Type != req.ResourceType || r.Status != model.StatusAvailable {
			continue
		}
		out = append(out, Candidate{Resource: r, DistanceKm: HaversineKm(r.CurrentLocation, epicenter)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		ri, rj := out[i].Resource.Supplier.ReliabilityRating, out[j].Resource.Supplier.ReliabilityRating
		if ri != rj {
			return ri > rj
		}
		return out[i].Resource.ID < out[j].Resource.ID
	})
	return out
}
