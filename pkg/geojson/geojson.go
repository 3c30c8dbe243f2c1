// Package geojson provides GeoJSON geometry types and utilities for
// building spatial search extents.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Geometry represents a GeoJSON geometry object.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Point returns the coordinates as a Point [lon, lat].
// Returns error if geometry is not a Point.
func (g *Geometry) Point() ([]float64, error) {
	if g.Type != "Point" {
		return nil, fmt.Errorf("geometry is not a Point, got %s", g.Type)
	}
	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Point coordinates: %w", err)
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("invalid Point coordinates: expected at least 2 values, got %d", len(coords))
	}
	return coords, nil
}

// Polygon returns the coordinates as a Polygon [][][lon, lat].
// Returns error if geometry is not a Polygon.
func (g *Geometry) Polygon() ([][][]float64, error) {
	if g.Type != "Polygon" {
		return nil, fmt.Errorf("geometry is not a Polygon, got %s", g.Type)
	}
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
	}
	return coords, nil
}

// OuterRing returns the exterior ring of a Polygon geometry as a sequence
// of [lon, lat] pairs. Holes are ignored.
func (g *Geometry) OuterRing() ([][]float64, error) {
	rings, err := g.Polygon()
	if err != nil {
		return nil, err
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("polygon has no rings")
	}
	return rings[0], nil
}

// BBox computes the bounding box of the geometry.
// Returns [west, south, east, north].
func (g *Geometry) BBox() ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)

	switch g.Type {
	case "Point":
		coords, err := g.Point()
		if err != nil {
			return nil, err
		}
		return []float64{coords[0], coords[1], coords[0], coords[1]}, nil

	case "Polygon":
		rings, err := g.Polygon()
		if err != nil {
			return nil, err
		}
		for _, ring := range rings {
			for _, point := range ring {
				if len(point) < 2 {
					continue
				}
				minLon = math.Min(minLon, point[0])
				maxLon = math.Max(maxLon, point[0])
				minLat = math.Min(minLat, point[1])
				maxLat = math.Max(maxLat, point[1])
			}
		}

	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}

	if math.IsInf(minLon, 0) || math.IsInf(minLat, 0) {
		return nil, fmt.Errorf("failed to compute bounding box: no valid coordinates found")
	}

	return []float64{minLon, minLat, maxLon, maxLat}, nil
}

// NewPolygon creates a Polygon geometry from an exterior ring.
func NewPolygon(ring [][]float64) (*Geometry, error) {
	if len(ring) < 4 {
		return nil, fmt.Errorf("polygon ring must have at least 4 points, got %d", len(ring))
	}

	coordsJSON, err := json.Marshal([][][]float64{ring})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}

	return &Geometry{
		Type:        "Polygon",
		Coordinates: coordsJSON,
	}, nil
}

// NewPolygonFromBBox creates a polygon geometry from a bounding box.
// bbox should be [west, south, east, north].
func NewPolygonFromBBox(bbox []float64) (*Geometry, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values [west, south, east, north], got %d", len(bbox))
	}

	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]

	ring := [][]float64{
		{west, south},
		{east, south},
		{east, north},
		{west, north},
		{west, south}, // Close the ring
	}

	return NewPolygon(ring)
}

// ToWKT converts a GeoJSON geometry to WKT format.
// Supports Point and Polygon.
func ToWKT(g *Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("geometry is nil")
	}

	switch g.Type {
	case "Point":
		coords, err := g.Point()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("POINT(%s %s)", FormatCoord(coords[0]), FormatCoord(coords[1])), nil

	case "Polygon":
		rings, err := g.Polygon()
		if err != nil {
			return "", err
		}
		var parts []string
		for _, ring := range rings {
			points := make([]string, len(ring))
			for i, point := range ring {
				if len(point) < 2 {
					return "", fmt.Errorf("invalid point in polygon ring: expected at least 2 coordinates")
				}
				points[i] = fmt.Sprintf("%s %s", FormatCoord(point[0]), FormatCoord(point[1]))
			}
			parts = append(parts, "("+strings.Join(points, ",")+")")
		}
		return "POLYGON(" + strings.Join(parts, ",") + ")", nil

	default:
		return "", fmt.Errorf("unsupported geometry type for WKT conversion: %s", g.Type)
	}
}

// FromWKT parses a WKT string into a GeoJSON geometry.
// Supports POINT and POLYGON.
func FromWKT(wkt string) (*Geometry, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return nil, fmt.Errorf("empty WKT string")
	}

	upperWKT := strings.ToUpper(wkt)
	switch {
	case strings.HasPrefix(upperWKT, "POINT"):
		return parsePointWKT(wkt)
	case strings.HasPrefix(upperWKT, "POLYGON"):
		return parsePolygonWKT(wkt)
	default:
		return nil, fmt.Errorf("unsupported WKT geometry type")
	}
}

func parsePointWKT(wkt string) (*Geometry, error) {
	content, err := parenContent(wkt)
	if err != nil {
		return nil, fmt.Errorf("invalid POINT WKT format: %w", err)
	}

	coords, err := parseCoordPair(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse POINT coordinates: %w", err)
	}

	coordsJSON, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal point coordinates: %w", err)
	}

	return &Geometry{Type: "Point", Coordinates: coordsJSON}, nil
}

func parsePolygonWKT(wkt string) (*Geometry, error) {
	content, err := parenContent(wkt)
	if err != nil {
		return nil, fmt.Errorf("invalid POLYGON WKT format: %w", err)
	}

	ringStrings, err := splitByParentheses(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse POLYGON rings: %w", err)
	}
	if len(ringStrings) == 0 {
		return nil, fmt.Errorf("POLYGON has no rings")
	}

	rings := make([][][]float64, 0, len(ringStrings))
	for _, ringStr := range ringStrings {
		ring, err := parseRing(ringStr)
		if err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}

	coordsJSON, err := json.Marshal(rings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}

	return &Geometry{Type: "Polygon", Coordinates: coordsJSON}, nil
}

// parenContent extracts the content between the outermost parentheses.
func parenContent(s string) (string, error) {
	start := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if start == -1 || end == -1 || start >= end {
		return "", fmt.Errorf("missing or unmatched parentheses")
	}
	return s[start+1 : end], nil
}

// parseCoordPair parses a coordinate pair "lon lat" into [lon, lat].
func parseCoordPair(s string) ([]float64, error) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid coordinate pair: %s", s)
	}

	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude: %s", parts[0])
	}

	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude: %s", parts[1])
	}

	return []float64{lon, lat}, nil
}

// parseRing parses a ring string like "(lon lat,lon lat,...)" into [][]float64.
func parseRing(s string) ([][]float64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}

	coordPairs := strings.Split(s, ",")
	ring := make([][]float64, 0, len(coordPairs))
	for _, pair := range coordPairs {
		coords, err := parseCoordPair(pair)
		if err != nil {
			return nil, err
		}
		ring = append(ring, coords)
	}

	return ring, nil
}

// splitByParentheses splits a string into substrings enclosed by parentheses.
func splitByParentheses(s string) ([]string, error) {
	var result []string
	var current strings.Builder
	depth := 0

	for i, ch := range s {
		switch ch {
		case '(':
			if depth == 0 && current.Len() > 0 {
				current.Reset()
			}
			current.WriteRune(ch)
			depth++
		case ')':
			current.WriteRune(ch)
			depth--
			if depth == 0 {
				result = append(result, current.String())
				current.Reset()
			} else if depth < 0 {
				return nil, fmt.Errorf("unmatched closing parenthesis at position %d", i)
			}
		case ',':
			if depth == 0 {
				continue
			}
			current.WriteRune(ch)
		default:
			if depth > 0 {
				current.WriteRune(ch)
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("unmatched parentheses")
	}

	return result, nil
}

// FormatCoord formats a coordinate value without trailing zeros.
func FormatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
