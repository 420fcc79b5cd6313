package subset

import (
	"errors"
	"math"
	"testing"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/models"
)

func yearly(from, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = time.Date(from+i, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return out
}

// 2x3 grid over four years with an absolute and a delta variable in Kelvin.
func kelvinGrid(t *testing.T) *arrays.Dataset {
	t.Helper()
	ds := arrays.NewGrid(yearly(2003, 4), []float64{45, 46}, []float64{-75, -74, -73})
	abs := make([]float64, 24)
	delta := make([]float64, 24)
	for i := range abs {
		abs[i] = 270 + float64(i)
		delta[i] = 1.5
	}
	// cell (lat 46, lon -73) holds no data at all
	for ti := 0; ti < 4; ti++ {
		abs[ti*6+5] = math.NaN()
		delta[ti*6+5] = math.NaN()
	}
	if err := ds.AddVar("rcp26_tx_max_p50", []string{"time", "lat", "lon"}, abs, "units", "K"); err != nil {
		t.Fatal(err)
	}
	if err := ds.AddVar("rcp26_tx_max_delta7100_p50", []string{"time", "lat", "lon"}, delta, "units", "K"); err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestUnitOffset(t *testing.T) {
	ds := kelvinGrid(t)
	if got := UnitOffset(ds, "rcp26_tx_max_p50"); got != models.KelvinToCelsius {
		t.Errorf("UnitOffset() = %v, want %v", got, models.KelvinToCelsius)
	}
	if got := UnitOffset(ds, "missing"); got != 0 {
		t.Errorf("UnitOffset(missing) = %v, want 0", got)
	}
}

func TestPoint_OffsetSkipsDeltas(t *testing.T) {
	ds := kelvinGrid(t)
	raw := ds.Var("rcp26_tx_max_p50").Data[0]

	got, err := Point(ds, models.Point{Lat: 44.9, Lon: -75.2}, Options{Offset: models.KelvinToCelsius})
	if err != nil {
		t.Fatalf("Point() error = %v", err)
	}
	if v := got.Var("rcp26_tx_max_p50").Data[0]; math.Abs(v-(raw-273.15)) > 1e-9 {
		t.Errorf("absolute value = %v, want %v", v, raw-273.15)
	}
	if v := got.Var("rcp26_tx_max_delta7100_p50").Data[0]; v != 1.5 {
		t.Errorf("delta value = %v, want 1.5 untouched", v)
	}
	// the source dataset is never offset
	if v := ds.Var("rcp26_tx_max_p50").Data[0]; v != raw {
		t.Errorf("source value = %v, want %v", v, raw)
	}
}

func TestPoint_Floor(t *testing.T) {
	ds := kelvinGrid(t)
	floor := time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := Point(ds, models.Point{Lat: 45, Lon: -74}, Options{Floor: floor})
	if err != nil {
		t.Fatalf("Point() error = %v", err)
	}
	times := got.Times()
	if len(times) != 2 || times[0].Year() != 2005 {
		t.Errorf("times = %v, want 2005 and 2006", times)
	}
}

func TestBatch(t *testing.T) {
	ds := kelvinGrid(t)
	points := []models.Point{
		{Lat: 46.1, Lon: -72.9}, // empty cell
		{Lat: 45.1, Lon: -74.1},
	}
	got, err := Batch([]*arrays.Dataset{ds}, points, Options{})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Batch() kept %d points, want 1", len(got))
	}
	if lat := got[0][0].Coord("lat").Values[0]; lat != 45 {
		t.Errorf("kept point lat = %v, want 45", lat)
	}

	_, err = Batch([]*arrays.Dataset{ds}, points[:1], Options{})
	var empty *models.EmptyResultError
	if !errors.As(err, &empty) || empty.Message != "No points found" {
		t.Errorf("Batch() error = %v, want No points found", err)
	}
}

func TestBBox(t *testing.T) {
	ds := kelvinGrid(t)
	// reversed bounds are normalized, edges are inclusive
	got, err := BBox(ds, models.BBox{LatMin: 46, LonMin: -73, LatMax: 44, LonMax: -74}, Options{})
	if err != nil {
		t.Fatalf("BBox() error = %v", err)
	}
	if n, _ := got.DimLen("lat"); n != 2 {
		t.Errorf("lat length = %d, want 2", n)
	}
	lons := got.Coord("lon").Values
	if len(lons) != 2 || lons[0] != -74 || lons[1] != -73 {
		t.Errorf("lons = %v, want [-74 -73]", lons)
	}

	got, err = BBox(ds, models.BBox{LatMin: 10, LonMin: 10, LatMax: 11, LonMax: 11}, Options{})
	if err != nil {
		t.Fatalf("BBox() outside domain error = %v", err)
	}
	if n, _ := got.DimLen("lat"); n != 0 {
		t.Errorf("lat length outside domain = %d, want 0", n)
	}
}

func TestPointsMasked(t *testing.T) {
	ds := kelvinGrid(t)
	got, err := PointsMasked(ds, []models.Point{{Lat: 45, Lon: -75}, {Lat: 46, Lon: -74}})
	if err != nil {
		t.Fatalf("PointsMasked() error = %v", err)
	}
	if n, _ := got.DimLen("lon"); n != 2 {
		t.Fatalf("lon length = %d, want 2", n)
	}
	data := got.Var("rcp26_tx_max_p50").Data
	// first time step, (lat, lon) row-major: keep (0,0) and (1,1)
	if math.IsNaN(data[0]) || !math.IsNaN(data[1]) || !math.IsNaN(data[2]) || math.IsNaN(data[3]) {
		t.Errorf("masked first step = %v", data[:4])
	}
}

func TestRegion(t *testing.T) {
	ds := arrays.NewDataset()
	ds.Dims = []arrays.Dim{{Name: "time", Len: 2}, {Name: "geom", Len: 3}}
	ds.SetCoord(arrays.TimeCoord(yearly(2000, 2)))
	ds.SetCoord(arrays.DimCoord("geom", []float64{10, 20, 30}))
	if err := ds.AddVar("rcp26_tx_max_p50", []string{"time", "geom"}, []float64{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}

	got, err := Region(ds, "geom", 20)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}
	if got.Coord("geom") != nil {
		t.Error("geom coordinate kept")
	}
	if data := got.Var("rcp26_tx_max_p50").Data; data[0] != 2 || data[1] != 5 {
		t.Errorf("region data = %v, want [2 5]", data)
	}

	var verr *models.ValidationError
	if _, err := Region(ds, "geom", 1); !errors.As(err, &verr) {
		t.Errorf("Region() unknown label error = %v, want ValidationError", err)
	}
}

func TestFilterMonth(t *testing.T) {
	times := []time.Time{
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2000, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	ds := arrays.NewGrid(times, []float64{45}, []float64{-73})
	if err := ds.AddVar("spei_3m", []string{"time", "lat", "lon"}, []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	got, err := FilterMonth(ds, 6)
	if err != nil {
		t.Fatalf("FilterMonth() error = %v", err)
	}
	if data := got.Var("spei_3m").Data; len(data) != 2 || data[0] != 2 {
		t.Errorf("filtered data = %v, want [2 3]", data)
	}
}
