package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/signalsfoundry/offline-maps/model"
)

func TestConvertPointUsesFirstPair(t *testing.T) {
	g, err := Convert(model.GeometryPoint, [][]float64{{10, 20}, {30, 40}}, 1000)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	p, ok := g.(orb.Point)
	if !ok {
		t.Fatalf("expected orb.Point, got %T", g)
	}
	if p.Lon() != 10 || p.Lat() != 20 {
		t.Fatalf("point = %v, want (10, 20)", p)
	}
}

func TestConvertLineStringKeepsOrder(t *testing.T) {
	coords := [][]float64{{0, 0}, {1, 1}, {2, 0}}
	g, err := Convert(model.GeometryLineString, coords, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	ls, ok := g.(orb.LineString)
	if !ok {
		t.Fatalf("expected orb.LineString, got %T", g)
	}
	if len(ls) != len(coords) {
		t.Fatalf("line has %d points, want %d", len(ls), len(coords))
	}
	for i, c := range coords {
		if ls[i][0] != c[0] || ls[i][1] != c[1] {
			t.Fatalf("point[%d] = %v, want %v", i, ls[i], c)
		}
	}
}

func TestConvertLineStringNeedsTwoPoints(t *testing.T) {
	_, err := Convert(model.GeometryLineString, [][]float64{{0, 0}}, 0)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestConvertMultiPolygonOneCirclePerPair(t *testing.T) {
	coords := [][]float64{{10, 20}, {-3, 51}}
	g, err := Convert(model.GeometryMultiPolygon, coords, 5000)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	mp, ok := g.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("expected orb.MultiPolygon, got %T", g)
	}
	if len(mp) != len(coords) {
		t.Fatalf("got %d polygons, want %d", len(mp), len(coords))
	}
	for i, poly := range mp {
		center := orb.Point{coords[i][0], coords[i][1]}
		assertCircle(t, poly, center, 5000)
	}
}

func TestConvertPolygonUnitSquare(t *testing.T) {
	square := [][]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	g, err := Convert(model.GeometryPolygon, square, 2000)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		t.Fatalf("expected orb.Polygon, got %T", g)
	}
	assertCircle(t, poly, orb.Point{0.5, 0.5}, 2000)
}

func TestConvertPolygonCenterUsesHalfExtent(t *testing.T) {
	// The centre is half the bounding box extent, not the midpoint, so an
	// offset square centred on (11, 11) yields (1, 1).
	square := [][]float64{{10, 10}, {12, 10}, {12, 12}, {10, 12}}
	g, err := Convert(model.GeometryPolygon, square, 1000)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	assertCircle(t, g.(orb.Polygon), orb.Point{1, 1}, 1000)
}

func TestConvertMultiPoint(t *testing.T) {
	g, err := Convert(model.GeometryMultiPoint, [][]float64{{1, 2}, {3, 4}}, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if mp, ok := g.(orb.MultiPoint); !ok || len(mp) != 2 {
		t.Fatalf("expected 2-point orb.MultiPoint, got %#v", g)
	}
}

func TestConvertRejectsUnknownKind(t *testing.T) {
	_, err := Convert(model.GeometryKind("hexagon"), [][]float64{{0, 0}}, 0)
	if !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("expected ErrUnsupportedGeometry, got %v", err)
	}
}

func TestConvertRejectsBadCoordinates(t *testing.T) {
	cases := map[string][][]float64{
		"empty":       nil,
		"short pair":  {{1}},
		"nan":         {{math.NaN(), 1}},
		"second pair": {{1, 2}, {3}},
	}
	for name, coords := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Convert(model.GeometryPoint, coords, 0); !errors.Is(err, ErrInvalidCoordinates) {
				t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
			}
		})
	}
}

func assertCircle(t *testing.T, poly orb.Polygon, center orb.Point, radius float64) {
	t.Helper()

	if len(poly) != 1 {
		t.Fatalf("polygon has %d rings, want 1", len(poly))
	}
	ring := poly[0]
	if len(ring) != CircleVertices+1 {
		t.Fatalf("ring has %d points, want %d", len(ring), CircleVertices+1)
	}
	if !ring.Closed() {
		t.Fatalf("ring is not closed: %v", ring)
	}
	for i, p := range ring[:CircleVertices] {
		d := geo.Distance(center, p)
		if math.Abs(d-radius) > radius*0.01 {
			t.Fatalf("vertex %d is %.1fm from centre, want %.1fm", i, d, radius)
		}
	}
	// First vertex sits due north of the centre.
	if math.Abs(ring[0].Lon()-center.Lon()) > 1e-9 || ring[0].Lat() <= center.Lat() {
		t.Fatalf("first vertex %v is not due north of %v", ring[0], center)
	}
}
