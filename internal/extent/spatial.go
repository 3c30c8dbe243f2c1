// Package extent normalizes user-supplied spatial and temporal search
// bounds into the canonical forms the catalog and subsetter understand.
package extent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arcticdata/icefetch/pkg/geojson"
)

// ErrInvalidExtent reports spatial or temporal input that fails
// validation. It is returned before any network call is made.
var ErrInvalidExtent = errors.New("invalid extent")

// SpatialKind identifies how a spatial extent was constructed.
type SpatialKind string

const (
	KindBoundingBox SpatialKind = "bounding_box"
	KindPolygon     SpatialKind = "polygon"
)

// Spatial is a validated spatial extent. The zero value is not usable;
// construct via NewBoundingBox, NewPolygon, or NewPolygonFromFile.
type Spatial struct {
	kind SpatialKind
	bbox [4]float64  // west, south, east, north (bounding box only)
	ring [][]float64 // closed vertex ring (polygon only), order preserved
}

// NewBoundingBox builds a spatial extent from west/south/east/north
// bounding coordinates.
func NewBoundingBox(west, south, east, north float64) (*Spatial, error) {
	for _, lon := range []float64{west, east} {
		if lon < -180 || lon > 180 {
			return nil, fmt.Errorf("%w: longitude %s out of range [-180,180]", ErrInvalidExtent, geojson.FormatCoord(lon))
		}
	}
	for _, lat := range []float64{south, north} {
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("%w: latitude %s out of range [-90,90]", ErrInvalidExtent, geojson.FormatCoord(lat))
		}
	}
	if south > north {
		return nil, fmt.Errorf("%w: south bound %s exceeds north bound %s", ErrInvalidExtent, geojson.FormatCoord(south), geojson.FormatCoord(north))
	}

	return &Spatial{
		kind: KindBoundingBox,
		bbox: [4]float64{west, south, east, north},
	}, nil
}

// NewPolygon builds a spatial extent from an ordered vertex ring.
// The ring must be closed (first vertex equals last) and contain at
// least 3 distinct vertices.
func NewPolygon(ring [][]float64) (*Spatial, error) {
	if err := validateRing(ring); err != nil {
		return nil, err
	}

	// Copy so later caller mutation cannot change the canonical form.
	copied := make([][]float64, len(ring))
	for i, pt := range ring {
		copied[i] = []float64{pt[0], pt[1]}
	}

	return &Spatial{kind: KindPolygon, ring: copied}, nil
}

// NewPolygonFromFile builds a polygon extent from a vector file.
// The file format is sniffed from content; see geojson.ParseFile for the
// supported set.
func NewPolygonFromFile(path string) (*Spatial, error) {
	geom, err := geojson.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtent, err)
	}

	ring, err := geom.OuterRing()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtent, err)
	}

	return NewPolygon(ring)
}

func validateRing(ring [][]float64) error {
	if len(ring) < 4 {
		return fmt.Errorf("%w: polygon ring has %d points, need at least 4 (closed ring)", ErrInvalidExtent, len(ring))
	}

	for i, pt := range ring {
		if len(pt) < 2 {
			return fmt.Errorf("%w: polygon vertex %d is not a lon,lat pair", ErrInvalidExtent, i)
		}
		if pt[0] < -180 || pt[0] > 180 {
			return fmt.Errorf("%w: longitude %s out of range [-180,180]", ErrInvalidExtent, geojson.FormatCoord(pt[0]))
		}
		if pt[1] < -90 || pt[1] > 90 {
			return fmt.Errorf("%w: latitude %s out of range [-90,90]", ErrInvalidExtent, geojson.FormatCoord(pt[1]))
		}
	}

	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		return fmt.Errorf("%w: polygon ring is not closed", ErrInvalidExtent)
	}

	distinct := make(map[[2]float64]struct{}, len(ring))
	for _, pt := range ring {
		distinct[[2]float64{pt[0], pt[1]}] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("%w: polygon is degenerate, only %d distinct vertices", ErrInvalidExtent, len(distinct))
	}

	return nil
}

// Kind reports how the extent was constructed.
func (s *Spatial) Kind() SpatialKind { return s.kind }

// QueryParam returns the catalog query key and value for this extent:
// "bounding_box" with "west,south,east,north", or "polygon" with the
// flattened vertex list.
func (s *Spatial) QueryParam() (key, value string) {
	return string(s.kind), s.encode()
}

func (s *Spatial) encode() string {
	switch s.kind {
	case KindBoundingBox:
		parts := make([]string, 4)
		for i, v := range s.bbox {
			parts[i] = geojson.FormatCoord(v)
		}
		return strings.Join(parts, ",")
	default:
		parts := make([]string, 0, len(s.ring)*2)
		for _, pt := range s.ring {
			parts = append(parts, geojson.FormatCoord(pt[0]), geojson.FormatCoord(pt[1]))
		}
		return strings.Join(parts, ",")
	}
}

// Canonical returns the stable canonical form of the extent, suitable
// as a cache key. Two extents are equal iff their canonical forms match.
func (s *Spatial) Canonical() string {
	key, value := s.QueryParam()
	return key + "=" + value
}

// Equal reports whether two extents have identical canonical forms.
func (s *Spatial) Equal(other *Spatial) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Canonical() == other.Canonical()
}

// BBox returns the extent's bounding box as [west, south, east, north],
// computed from the vertex ring for polygon extents.
func (s *Spatial) BBox() [4]float64 {
	if s.kind == KindBoundingBox {
		return s.bbox
	}

	bbox := [4]float64{s.ring[0][0], s.ring[0][1], s.ring[0][0], s.ring[0][1]}
	for _, pt := range s.ring[1:] {
		if pt[0] < bbox[0] {
			bbox[0] = pt[0]
		}
		if pt[1] < bbox[1] {
			bbox[1] = pt[1]
		}
		if pt[0] > bbox[2] {
			bbox[2] = pt[0]
		}
		if pt[1] > bbox[3] {
			bbox[3] = pt[1]
		}
	}
	return bbox
}

// Ring returns the polygon vertex ring, or the bounding box corners as
// a closed ring for bounding-box extents.
func (s *Spatial) Ring() [][]float64 {
	if s.kind == KindPolygon {
		return s.ring
	}
	w, so, e, n := s.bbox[0], s.bbox[1], s.bbox[2], s.bbox[3]
	return [][]float64{{w, so}, {e, so}, {e, n}, {w, n}, {w, so}}
}
