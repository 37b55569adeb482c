package policy

// Deficit is the shortfall between required and observed replica
// counts for one region. Deficits are recomputed every compliance
// check and never persisted.
type Deficit struct {
	Region   RegionCode `json:"region"`
	Required int        `json:"required"`
	Current  int        `json:"current"`
	Gap      int        `json:"gap"`
}

// ComputeDeficits compares per-region active deal counts against the
// document's replication requirements. Regions are evaluated in
// document order; only regions with a positive gap are returned.
func ComputeDeficits(doc Document, countsByRegion map[RegionCode]int) []Deficit {
	var deficits []Deficit
	for _, req := range doc.Replication.Regions {
		current := countsByRegion[req.Code]
		gap := req.MinReplicas - current
		if gap <= 0 {
			continue
		}
		deficits = append(deficits, Deficit{
			Region:   req.Code,
			Required: req.MinReplicas,
			Current:  current,
			Gap:      gap,
		})
	}
	return deficits
}
