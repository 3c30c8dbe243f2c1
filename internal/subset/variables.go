// Package subset maintains the list of subsettable variables for a
// dataset and the user's wanted-variable selection.
package subset

import (
	"regexp"
	"strings"
)

// Variable is one subsettable variable path, split into its name and the
// beam or profile group it belongs to. Variables outside any beam group
// (orbit and ancillary data) have an empty Beam.
type Variable struct {
	Name string
	Beam string
	Path string
}

var beamPattern = regexp.MustCompile(`^(gt[1-3][lr]|profile_[0-9]+)$`)

// parseVariablePath splits a capability path string like
// "/gt1l/land_ice_segments/h_li" into a Variable.
func parseVariablePath(path string) Variable {
	v := Variable{Path: path}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return v
	}

	v.Name = segments[len(segments)-1]
	if beamPattern.MatchString(segments[0]) {
		v.Beam = segments[0]
	}
	return v
}

// structuralNames are variables that are required for any subset output
// to be usable (timing, geolocation, spacecraft orientation). They are
// auto-included whenever anything is added to the wanted set and cannot
// be removed individually.
var structuralNames = map[string]bool{
	"delta_time":          true,
	"latitude":            true,
	"longitude":           true,
	"sc_orient":           true,
	"atlas_sdp_gps_epoch": true,
	"data_start_utc":      true,
	"data_end_utc":        true,
}

// IsStructural reports whether a variable is auto-included and
// individually non-removable.
func (v Variable) IsStructural() bool {
	return structuralNames[v.Name]
}

// defaultNames are the variables selected by an Append with Defaults set
// and no other filters narrowing the selection.
var defaultNames = map[string]bool{
	"h_li":                  true,
	"h_li_sigma":            true,
	"atl06_quality_summary": true,
	"segment_id":            true,
}
