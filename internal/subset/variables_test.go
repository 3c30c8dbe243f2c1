package subset

import "testing"

func TestParseVariablePath(t *testing.T) {
	tests := []struct {
		path     string
		wantName string
		wantBeam string
	}{
		{"/gt1l/land_ice_segments/h_li", "h_li", "gt1l"},
		{"/gt3r/land_ice_segments/geophysical/r_eff", "r_eff", "gt3r"},
		{"/profile_2/high_rate/latitude", "latitude", "profile_2"},
		{"/orbit_info/sc_orient", "sc_orient", ""},
		{"/ancillary_data/atlas_sdp_gps_epoch", "atlas_sdp_gps_epoch", ""},
		{"gt2l/land_ice_segments/delta_time", "delta_time", "gt2l"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v := parseVariablePath(tt.path)
			if v.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", v.Name, tt.wantName)
			}
			if v.Beam != tt.wantBeam {
				t.Errorf("Beam = %q, want %q", v.Beam, tt.wantBeam)
			}
			if v.Path != tt.path {
				t.Errorf("Path = %q, want %q", v.Path, tt.path)
			}
		})
	}
}

func TestIsStructural(t *testing.T) {
	structural := []string{
		"/gt1l/land_ice_segments/delta_time",
		"/gt1l/land_ice_segments/latitude",
		"/gt1l/land_ice_segments/longitude",
		"/orbit_info/sc_orient",
		"/ancillary_data/atlas_sdp_gps_epoch",
	}
	for _, path := range structural {
		if !parseVariablePath(path).IsStructural() {
			t.Errorf("%s should be structural", path)
		}
	}

	if parseVariablePath("/gt1l/land_ice_segments/h_li").IsStructural() {
		t.Error("h_li should not be structural")
	}
}
