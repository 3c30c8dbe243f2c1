package cmr

import (
	"fmt"
	"time"
)

// UMMSearchResponse represents a CMR UMM-G search response.
type UMMSearchResponse struct {
	Hits  int             `json:"hits"`
	Took  int             `json:"took"`
	Items []UMMResultItem `json:"items"`
}

// UMMResultItem wraps a UMM granule with metadata.
type UMMResultItem struct {
	Meta UMMMeta    `json:"meta"`
	UMM  UMMGranule `json:"umm"`
}

// UMMMeta contains metadata about a CMR result item.
type UMMMeta struct {
	ConceptID  string `json:"concept-id"`
	ProviderID string `json:"provider-id"`
}

// UMMGranule represents the subset of a UMM-G (Unified Metadata Model
// for Granules) record the workflow consumes.
type UMMGranule struct {
	GranuleUR           string              `json:"GranuleUR"`
	CollectionReference CollectionReference `json:"CollectionReference"`
	RelatedUrls         []RelatedURL        `json:"RelatedUrls,omitempty"`
	DataGranule         *DataGranule        `json:"DataGranule,omitempty"`
	TemporalExtent      *TemporalExtent     `json:"TemporalExtent,omitempty"`
	SpatialExtent       *SpatialExtent      `json:"SpatialExtent,omitempty"`
}

// CollectionReference identifies the parent collection.
type CollectionReference struct {
	ShortName string `json:"ShortName"`
	Version   string `json:"Version"`
}

// RelatedURL represents a URL related to the granule.
type RelatedURL struct {
	URL      string   `json:"URL"`
	Type     string   `json:"Type"` // e.g., "GET DATA"
	MimeType string   `json:"MimeType,omitempty"`
	Size     *float64 `json:"Size,omitempty"`
	SizeUnit string   `json:"SizeUnit,omitempty"`
}

// DataGranule contains data granule information.
type DataGranule struct {
	ArchiveAndDistributionInformation []ArchiveDistInfo `json:"ArchiveAndDistributionInformation,omitempty"`
}

// ArchiveDistInfo contains archive and distribution information.
type ArchiveDistInfo struct {
	Name     string   `json:"Name"`
	Size     *float64 `json:"Size,omitempty"`
	SizeUnit string   `json:"SizeUnit,omitempty"`
	Format   string   `json:"Format,omitempty"`
}

// TemporalExtent contains temporal information.
type TemporalExtent struct {
	RangeDateTime  *RangeDateTime `json:"RangeDateTime,omitempty"`
	SingleDateTime string         `json:"SingleDateTime,omitempty"`
}

// RangeDateTime represents a time range.
type RangeDateTime struct {
	BeginningDateTime string `json:"BeginningDateTime"`
	EndingDateTime    string `json:"EndingDateTime"`
}

// SpatialExtent contains spatial information.
type SpatialExtent struct {
	HorizontalSpatialDomain *HorizontalSpatialDomain `json:"HorizontalSpatialDomain,omitempty"`
}

// HorizontalSpatialDomain contains horizontal spatial domain information.
type HorizontalSpatialDomain struct {
	Geometry *Geometry `json:"Geometry,omitempty"`
}

// Geometry contains granule geometry information.
type Geometry struct {
	GPolygons          []GPolygon          `json:"GPolygons,omitempty"`
	BoundingRectangles []BoundingRectangle `json:"BoundingRectangles,omitempty"`
}

// GPolygon represents a polygon geometry.
type GPolygon struct {
	Boundary Boundary `json:"Boundary"`
}

// Boundary contains boundary points.
type Boundary struct {
	Points []Point `json:"Points"`
}

// Point represents a geographic point.
type Point struct {
	Longitude float64 `json:"Longitude"`
	Latitude  float64 `json:"Latitude"`
}

// BoundingRectangle represents a bounding box.
type BoundingRectangle struct {
	WestBoundingCoordinate  float64 `json:"WestBoundingCoordinate"`
	NorthBoundingCoordinate float64 `json:"NorthBoundingCoordinate"`
	EastBoundingCoordinate  float64 `json:"EastBoundingCoordinate"`
	SouthBoundingCoordinate float64 `json:"SouthBoundingCoordinate"`
}

// Granule is the workflow's view of a catalog granule. It is created by
// search and enriched with a download URL after ordering; it is never
// mutated after download completes.
type Granule struct {
	ID        string // granule UR
	ConceptID string
	ShortName string
	Version   string
	SizeBytes int64
	Start     time.Time
	End       time.Time
	BBox      []float64 // [west, south, east, north], nil if unknown

	// DownloadURL is populated only after ordering.
	DownloadURL string
}

// granuleFromUMM converts a decoded UMM-G record into the workflow model.
func granuleFromUMM(item UMMResultItem) Granule {
	umm := item.UMM
	g := Granule{
		ID:        umm.GranuleUR,
		ConceptID: item.Meta.ConceptID,
		ShortName: umm.CollectionReference.ShortName,
		Version:   umm.CollectionReference.Version,
	}

	if umm.DataGranule != nil {
		for _, info := range umm.DataGranule.ArchiveAndDistributionInformation {
			if info.Size != nil {
				g.SizeBytes += sizeInBytes(*info.Size, info.SizeUnit)
			}
		}
	}

	if umm.TemporalExtent != nil {
		if r := umm.TemporalExtent.RangeDateTime; r != nil {
			g.Start, _ = parseTime(r.BeginningDateTime)
			g.End, _ = parseTime(r.EndingDateTime)
		} else if s := umm.TemporalExtent.SingleDateTime; s != "" {
			g.Start, _ = parseTime(s)
			g.End = g.Start
		}
	}

	g.BBox = ummBBox(umm.SpatialExtent)

	return g
}

func ummBBox(se *SpatialExtent) []float64 {
	if se == nil || se.HorizontalSpatialDomain == nil || se.HorizontalSpatialDomain.Geometry == nil {
		return nil
	}
	geom := se.HorizontalSpatialDomain.Geometry

	if len(geom.BoundingRectangles) > 0 {
		rect := geom.BoundingRectangles[0]
		return []float64{
			rect.WestBoundingCoordinate,
			rect.SouthBoundingCoordinate,
			rect.EastBoundingCoordinate,
			rect.NorthBoundingCoordinate,
		}
	}

	if len(geom.GPolygons) > 0 {
		pts := geom.GPolygons[0].Boundary.Points
		if len(pts) == 0 {
			return nil
		}
		bbox := []float64{pts[0].Longitude, pts[0].Latitude, pts[0].Longitude, pts[0].Latitude}
		for _, pt := range pts[1:] {
			if pt.Longitude < bbox[0] {
				bbox[0] = pt.Longitude
			}
			if pt.Latitude < bbox[1] {
				bbox[1] = pt.Latitude
			}
			if pt.Longitude > bbox[2] {
				bbox[2] = pt.Longitude
			}
			if pt.Latitude > bbox[3] {
				bbox[3] = pt.Latitude
			}
		}
		return bbox
	}

	return nil
}

func sizeInBytes(size float64, unit string) int64 {
	switch unit {
	case "KB":
		return int64(size * 1024)
	case "MB":
		return int64(size * 1024 * 1024)
	case "GB":
		return int64(size * 1024 * 1024 * 1024)
	default:
		return int64(size)
	}
}

// parseTime parses a CMR timestamp string.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000Z",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", s)
}

// CollectionsResponse represents the catalog's collection listing.
type CollectionsResponse struct {
	Feed CollectionsFeed `json:"feed"`
}

// CollectionsFeed wraps collection entries.
type CollectionsFeed struct {
	Entry []CollectionEntry `json:"entry"`
}

// CollectionEntry describes one dataset version known to the catalog.
type CollectionEntry struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name"`
	VersionID string `json:"version_id"`
	Title     string `json:"title"`
}
