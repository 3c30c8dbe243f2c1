// Package daactest provides an in-process fake of the remote services
// the workflow talks to: the granule catalog, the token endpoint, the
// order/subsetting service, and payload download. It backs package and
// integration tests; it is not a real service.
package daactest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Granule is a catalog fixture granule.
type Granule struct {
	ID      string
	Version string
	SizeMB  float64
	BBox    [4]float64 // west, south, east, north
	Start   time.Time
	End     time.Time
}

// Server holds the scriptable state behind the fake endpoints.
type Server struct {
	ShortName string
	Versions  []string
	Granules  []Granule
	Variables []string

	// Users maps accepted uid -> password.
	Users map[string]string

	// TokenTTL bounds issued tokens. Zero means no expiry.
	TokenTTL time.Duration

	// PollsUntilComplete is how many status polls an async order takes
	// to reach complete (after an initial processing phase).
	PollsUntilComplete int

	// FailSearchPages makes the first N granule-search requests return
	// 503, to exercise client retries.
	FailSearchPages int

	// NoDataGranules marks granule IDs whose orders complete with zero
	// output files.
	NoDataGranules map[string]bool

	mu       sync.Mutex
	tokens   map[string]time.Time // token -> expiry (zero = none)
	orders   map[string]*mockOrder
	searches int
	baseURL  string
}

type mockOrder struct {
	id         string
	granuleIDs []string
	polls      int
	noData     bool
}

// New creates a fake service with a usable default fixture set: one
// dataset with two versions, six granules, and a small variable tree.
func New() *Server {
	start := time.Date(2019, 6, 18, 0, 0, 0, 0, time.UTC)
	granules := make([]Granule, 0, 6)
	for i := 0; i < 6; i++ {
		granules = append(granules, Granule{
			ID:      fmt.Sprintf("ATL06_2019062%d_000000_005_01.h5", i),
			Version: "005",
			SizeMB:  12.5,
			BBox:    [4]float64{-102, -76, -98, -74.5},
			Start:   start.Add(time.Duration(i) * 24 * time.Hour),
			End:     start.Add(time.Duration(i)*24*time.Hour + time.Hour),
		})
	}

	return &Server{
		ShortName: "ATL06",
		Versions:  []string{"004", "005"},
		Granules:  granules,
		Variables: []string{
			"/ancillary_data/atlas_sdp_gps_epoch",
			"/orbit_info/sc_orient",
			"/gt1l/land_ice_segments/delta_time",
			"/gt1l/land_ice_segments/latitude",
			"/gt1l/land_ice_segments/longitude",
			"/gt1l/land_ice_segments/h_li",
			"/gt1l/land_ice_segments/h_li_sigma",
			"/gt1l/land_ice_segments/segment_id",
			"/gt2l/land_ice_segments/delta_time",
			"/gt2l/land_ice_segments/latitude",
			"/gt2l/land_ice_segments/longitude",
			"/gt2l/land_ice_segments/h_li",
			"/gt2l/land_ice_segments/geophysical/r_eff",
		},
		Users:              map[string]string{"icebird": "wingspan"},
		PollsUntilComplete: 2,
		NoDataGranules:     map[string]bool{},
		tokens:             map[string]time.Time{},
		orders:             map[string]*mockOrder{},
	}
}

// SearchRequests reports how many granule-search requests the fake has
// seen, failed ones included. Used to assert on client-side caching.
func (s *Server) SearchRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// SetBaseURL records the test server's URL so payload links resolve
// back to the fake download endpoint. Call after httptest.NewServer.
func (s *Server) SetBaseURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimSuffix(u, "/")
}

// Handler returns the routed fake endpoints:
//
//	GET  /catalog/granules.umm_json
//	GET  /catalog/collections.json
//	POST /api/users/token
//	GET  /egi                        (order submission)
//	GET  /egi/orders/{orderID}       (order status)
//	GET  /egi/capabilities/{doc}
//	GET  /files/{orderID}.zip        (payload)
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/catalog/granules.umm_json", s.handleSearch)
	r.Get("/catalog/collections.json", s.handleCollections)
	r.Post("/api/users/token", s.handleToken)
	r.Get("/egi", s.handleSubmit)
	r.Get("/egi/orders/{orderID}", s.handleStatus)
	r.Get("/egi/capabilities/{doc}", s.handleCapabilities)
	r.Get("/files/{orderID}.zip", s.handlePayload)
	return r
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.searches++
	fail := s.searches <= s.FailSearchPages
	s.mu.Unlock()

	if fail {
		http.Error(w, "catalog overloaded", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	if q.Get("short_name") != s.ShortName {
		writeJSON(w, map[string]any{"hits": 0, "took": 1, "items": []any{}})
		return
	}

	matched := s.matchGranules(q)

	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 {
		pageSize = 2000
	}
	pageNum, _ := strconv.Atoi(q.Get("page_num"))
	if pageNum <= 0 {
		pageNum = 1
	}

	start := (pageNum - 1) * pageSize
	end := start + pageSize
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	items := make([]map[string]any, 0, end-start)
	for _, g := range matched[start:end] {
		items = append(items, map[string]any{
			"meta": map[string]any{
				"concept-id":  "G-" + g.ID,
				"provider-id": "FAKE_DAAC",
			},
			"umm": map[string]any{
				"GranuleUR": g.ID,
				"CollectionReference": map[string]any{
					"ShortName": s.ShortName,
					"Version":   g.Version,
				},
				"DataGranule": map[string]any{
					"ArchiveAndDistributionInformation": []map[string]any{
						{"Name": g.ID, "Size": g.SizeMB, "SizeUnit": "MB"},
					},
				},
				"TemporalExtent": map[string]any{
					"RangeDateTime": map[string]any{
						"BeginningDateTime": g.Start.Format(time.RFC3339),
						"EndingDateTime":    g.End.Format(time.RFC3339),
					},
				},
				"SpatialExtent": map[string]any{
					"HorizontalSpatialDomain": map[string]any{
						"Geometry": map[string]any{
							"BoundingRectangles": []map[string]any{{
								"WestBoundingCoordinate":  g.BBox[0],
								"SouthBoundingCoordinate": g.BBox[1],
								"EastBoundingCoordinate":  g.BBox[2],
								"NorthBoundingCoordinate": g.BBox[3],
							}},
						},
					},
				},
			},
		})
	}

	writeJSON(w, map[string]any{
		"hits":  len(matched),
		"took":  3,
		"items": items,
	})
}

// matchGranules applies the bounding-box and temporal filters the way a
// metadata catalog would: overlap, not containment.
func (s *Server) matchGranules(q map[string][]string) []Granule {
	var bbox []float64
	if v, ok := q["bounding_box"]; ok && len(v) > 0 {
		for _, part := range strings.Split(v[0], ",") {
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil
			}
			bbox = append(bbox, f)
		}
	}

	var tStart, tEnd time.Time
	if v, ok := q["temporal"]; ok && len(v) > 0 {
		parts := strings.SplitN(v[0], ",", 2)
		if len(parts) == 2 {
			tStart, _ = time.Parse(time.RFC3339, parts[0])
			tEnd, _ = time.Parse(time.RFC3339, parts[1])
		}
	}

	var matched []Granule
	for _, g := range s.Granules {
		if len(bbox) == 4 {
			if g.BBox[2] < bbox[0] || g.BBox[0] > bbox[2] ||
				g.BBox[3] < bbox[1] || g.BBox[1] > bbox[3] {
				continue
			}
		}
		if !tStart.IsZero() && (g.End.Before(tStart) || g.Start.After(tEnd)) {
			continue
		}
		matched = append(matched, g)
	}
	return matched
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("short_name") != s.ShortName {
		writeJSON(w, map[string]any{"feed": map[string]any{"entry": []any{}}})
		return
	}

	entries := make([]map[string]any, 0, len(s.Versions))
	for _, v := range s.Versions {
		entries = append(entries, map[string]any{
			"id":         "C-" + s.ShortName + "-" + v,
			"short_name": s.ShortName,
			"version_id": v,
			"title":      s.ShortName + " v" + v,
		})
	}
	writeJSON(w, map[string]any{"feed": map[string]any{"entry": entries}})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	uid, password, ok := r.BasicAuth()
	if !ok || s.Users[uid] != password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	var expiry time.Time
	if s.TokenTTL > 0 {
		expiry = time.Now().Add(s.TokenTTL)
	}

	s.mu.Lock()
	s.tokens[token] = expiry
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"uid":          uid,
		"email":        uid + "@example.org",
		"access_token": token,
		"expires_on":   orZeroTime(expiry),
	})
}

func orZeroTime(t time.Time) string {
	if t.IsZero() {
		// Far-future expiry keeps tests without TTL simple.
		return time.Now().Add(24 * time.Hour).Format(time.RFC3339)
	}
	return t.Format(time.RFC3339)
}

// authorized validates the bearer token on order and payload requests.
func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}

	s.mu.Lock()
	expiry, exists := s.tokens[token]
	s.mu.Unlock()

	if !exists {
		return false
	}
	return expiry.IsZero() || time.Now().Before(expiry)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	granuleIDs := strings.Split(q.Get("producer_granule_id"), ",")
	if len(granuleIDs) == 0 || granuleIDs[0] == "" {
		http.Error(w, "no granules requested", http.StatusBadRequest)
		return
	}

	noData := true
	for _, id := range granuleIDs {
		if !s.NoDataGranules[id] {
			noData = false
			break
		}
	}

	ord := &mockOrder{
		id:         uuid.NewString(),
		granuleIDs: granuleIDs,
		noData:     noData,
	}

	s.mu.Lock()
	s.orders[ord.id] = ord
	baseURL := s.baseURL
	s.mu.Unlock()

	if q.Get("request_mode") == "stream" {
		status := "complete"
		var urls []string
		if noData {
			status = "complete_with_no_files"
		} else {
			urls = []string{baseURL + "/files/" + ord.id + ".zip"}
		}
		writeJSON(w, map[string]any{
			"order_id":  ord.id,
			"status":    status,
			"file_urls": urls,
		})
		return
	}

	writeJSON(w, map[string]any{
		"order_id": ord.id,
		"status":   "pending",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderID")

	s.mu.Lock()
	ord, ok := s.orders[orderID]
	if ok {
		ord.polls++
	}
	baseURL := s.baseURL
	s.mu.Unlock()

	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	switch {
	case ord.polls <= 1:
		writeJSON(w, map[string]any{"order_id": orderID, "status": "processing"})
	case ord.polls <= s.PollsUntilComplete:
		writeJSON(w, map[string]any{"order_id": orderID, "status": "processing"})
	case ord.noData:
		writeJSON(w, map[string]any{
			"order_id": orderID,
			"status":   "complete_with_no_files",
			"message":  "no data found within the requested extent",
		})
	default:
		writeJSON(w, map[string]any{
			"order_id":  orderID,
			"status":    "complete",
			"file_urls": []string{baseURL + "/files/" + orderID + ".zip"},
		})
	}
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	doc := chi.URLParam(r, "doc")
	// Any version of the fixture dataset is served.
	if !strings.HasPrefix(doc, s.ShortName+".") {
		http.Error(w, "unknown dataset", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"variables": s.Variables})
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderID")

	s.mu.Lock()
	ord, ok := s.orders[orderID]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, id := range ord.granuleIDs {
		// Nested path on purpose: download must flatten it away.
		f, err := zw.Create("output/" + orderID + "/" + processedName(id))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(f, "fake subset payload for %s\n", id)
	}
	if err := zw.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Write(buf.Bytes())
}

// processedName is the output filename the fake subsetter produces for a
// granule.
func processedName(granuleID string) string {
	return "processed_" + granuleID
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
