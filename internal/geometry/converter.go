// Package geometry converts caller-supplied coordinate lists into the
// geometries a tile region is loaded for.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/signalsfoundry/offline-maps/model"
)

// CircleVertices is the number of vertices used to approximate a circle.
const CircleVertices = 4

var (
	// ErrUnsupportedGeometry is returned for an unknown geometry kind.
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
	// ErrInvalidCoordinates is returned when the coordinate list cannot
	// describe the requested kind.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Convert builds the geometry for kind from [lon, lat] pairs. radius is in
// metres and only used by the circle-based kinds.
//
// The polygon kind does not keep the caller's shape: it derives a centre
// from the bounding box as (|maxX-minX|/2, |maxY-minY|/2) and returns a
// circle of radius around it. Existing clients depend on that result.
func Convert(kind model.GeometryKind, coords [][]float64, radius float64) (orb.Geometry, error) {
	points, err := toPoints(coords)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.GeometryPoint:
		return points[0], nil

	case model.GeometryLineString:
		if len(points) < 2 {
			return nil, fmt.Errorf("%w: lineString needs at least 2 points, got %d", ErrInvalidCoordinates, len(points))
		}
		return orb.LineString(points), nil

	case model.GeometryMultiPoint:
		return orb.MultiPoint(points), nil

	case model.GeometryMultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(points))
		for _, p := range points {
			mp = append(mp, Circle(p, radius, CircleVertices))
		}
		return mp, nil

	case model.GeometryPolygon:
		return Circle(BoundCenter(points), radius, CircleVertices), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGeometry, kind)
	}
}

// BoundCenter returns the centre used for polygon regions: half the
// bounding box extent on each axis.
func BoundCenter(points []orb.Point) orb.Point {
	bound := orb.MultiPoint(points).Bound()
	return orb.Point{
		math.Abs(bound.Max[0]-bound.Min[0]) / 2,
		math.Abs(bound.Max[1]-bound.Min[1]) / 2,
	}
}

// Circle approximates a circle of radius metres around center with a closed
// ring of the given number of vertices. Vertices are placed at bearings
// 0, -360/n, -2*360/n, ... and the first vertex is repeated to close the ring.
func Circle(center orb.Point, radius float64, vertices int) orb.Polygon {
	if vertices < 3 {
		vertices = 3
	}
	ring := make(orb.Ring, 0, vertices+1)
	for i := 0; i < vertices; i++ {
		bearing := float64(i) * -360 / float64(vertices)
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, radius))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func toPoints(coords [][]float64) ([]orb.Point, error) {
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: at least one coordinate pair is required", ErrInvalidCoordinates)
	}
	points := make([]orb.Point, 0, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: coordinate[%d] has %d values, want 2", ErrInvalidCoordinates, i, len(c))
		}
		if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return nil, fmt.Errorf("%w: coordinate[%d] is NaN", ErrInvalidCoordinates, i)
		}
		points = append(points, orb.Point{c[0], c[1]})
	}
	return points, nil
}
