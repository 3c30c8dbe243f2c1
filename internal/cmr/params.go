package cmr

import (
	"hash/fnv"
	"net/url"
	"strconv"

	"github.com/arcticdata/icefetch/internal/extent"
)

// Params is the catalog query parameter set for a granule search.
// Building it is pure: no network I/O, no side effects. Two Params built
// from equal inputs encode identically, so Hash is usable as a cache key.
type Params struct {
	// Dataset identification
	ShortName string
	Version   string

	// Spatial filter: one canonical key/value pair
	// ("bounding_box" or "polygon").
	SpatialKey   string
	SpatialValue string

	// Temporal filter: "start,end" in RFC3339 UTC.
	Temporal string

	// Pagination
	PageSize int
}

// BuildParams combines a dataset selector with optional spatial and
// temporal extents into the catalog parameter set.
func BuildParams(shortName, version string, spatial *extent.Spatial, temporal *extent.Temporal) Params {
	p := Params{
		ShortName: shortName,
		Version:   version,
	}
	if spatial != nil {
		p.SpatialKey, p.SpatialValue = spatial.QueryParam()
	}
	if temporal != nil {
		p.Temporal = temporal.Canonical()
	}
	return p
}

// ToURLValues converts Params to URL query parameters. The provider and
// page number are added by the client per request.
func (p Params) ToURLValues() url.Values {
	values := url.Values{}

	values.Set("short_name", p.ShortName)
	if p.Version != "" {
		values.Set("version", p.Version)
	}

	if p.SpatialKey != "" {
		values.Set(p.SpatialKey, p.SpatialValue)
	}

	if p.Temporal != "" {
		values.Set("temporal", p.Temporal)
	}

	if p.PageSize > 0 {
		values.Set("page_size", strconv.Itoa(p.PageSize))
	} else {
		values.Set("page_size", strconv.Itoa(DefaultPageSize))
	}

	return values
}

// Hash returns a stable key over the encoded parameter set. Mutating any
// input produces a different hash, which is what invalidates cached
// search results.
func (p Params) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(p.ToURLValues().Encode()))
	return h.Sum64()
}
