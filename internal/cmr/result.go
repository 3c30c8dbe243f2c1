package cmr

// Result contains the accumulated granules of a search. The projection
// methods are pure views over the already-fetched list and issue no
// further requests.
type Result struct {
	Granules []Granule
	Hits     int
	Params   Params
}

// IDs returns the granule identifiers in result order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Granules))
	for i, g := range r.Granules {
		ids[i] = g.ID
	}
	return ids
}

// Summary describes a result set without listing individual granules.
type Summary struct {
	Count      int
	TotalBytes int64
	ByVersion  map[string]int
}

// Summary computes counts and sizes over the fetched granule list.
func (r *Result) Summary() Summary {
	s := Summary{
		Count:     len(r.Granules),
		ByVersion: make(map[string]int),
	}
	for _, g := range r.Granules {
		s.TotalBytes += g.SizeBytes
		s.ByVersion[g.Version]++
	}
	return s
}
