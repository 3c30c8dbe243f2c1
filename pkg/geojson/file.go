package geojson

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// feature is the subset of a GeoJSON Feature needed to pull out a geometry.
type feature struct {
	Type     string    `json:"type"`
	Geometry *Geometry `json:"geometry"`
}

// featureCollection is the subset of a GeoJSON FeatureCollection needed to
// pull out a geometry.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// ParseFile reads a vector file and returns the first polygonal geometry
// it contains. The format is sniffed from the content, not the file
// extension. Supported formats:
//
//   - GeoJSON: a bare geometry, a Feature, or a FeatureCollection
//     (the first Polygon geometry wins)
//   - WKT: a POLYGON string
//   - a bare comma-separated coordinate list "lon1,lat1,lon2,lat2,..."
func ParseFile(path string) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("vector file %s is empty", path)
	}

	switch {
	case strings.HasPrefix(content, "{"):
		return parseGeoJSONContent([]byte(content))
	case strings.HasPrefix(strings.ToUpper(content), "POLYGON"),
		strings.HasPrefix(strings.ToUpper(content), "POINT"):
		return FromWKT(content)
	default:
		return parseCoordList(content)
	}
}

// parseGeoJSONContent extracts the first Polygon geometry from GeoJSON
// content that may be a geometry, Feature, or FeatureCollection.
func parseGeoJSONContent(data []byte) (*Geometry, error) {
	// Peek at the "type" member to decide how to decode.
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		var fc featureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("invalid GeoJSON FeatureCollection: %w", err)
		}
		for _, f := range fc.Features {
			if f.Geometry != nil && f.Geometry.Type == "Polygon" {
				return f.Geometry, nil
			}
		}
		return nil, fmt.Errorf("FeatureCollection contains no Polygon geometry")

	case "Feature":
		var f feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("invalid GeoJSON Feature: %w", err)
		}
		if f.Geometry == nil {
			return nil, fmt.Errorf("Feature has no geometry")
		}
		if f.Geometry.Type != "Polygon" {
			return nil, fmt.Errorf("Feature geometry is %s, want Polygon", f.Geometry.Type)
		}
		return f.Geometry, nil

	case "Polygon":
		var g Geometry
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("invalid GeoJSON geometry: %w", err)
		}
		return &g, nil

	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %q", probe.Type)
	}
}

// parseCoordList parses a flat "lon1,lat1,lon2,lat2,..." list into a
// Polygon geometry.
func parseCoordList(content string) (*Geometry, error) {
	fields := strings.Split(content, ",")
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("coordinate list has odd number of values (%d)", len(fields))
	}

	ring := make([][]float64, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude %q: %w", fields[i], err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude %q: %w", fields[i+1], err)
		}
		ring = append(ring, []float64{lon, lat})
	}

	return NewPolygon(ring)
}
