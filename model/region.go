package model

import "github.com/paulmach/orb"

// GeometryKind names the shape a region's coordinates describe.
type GeometryKind string

const (
	GeometryPoint        GeometryKind = "point"
	GeometryLineString   GeometryKind = "lineString"
	GeometryMultiPoint   GeometryKind = "multiPoint"
	GeometryPolygon      GeometryKind = "polygon"
	GeometryMultiPolygon GeometryKind = "multiPolygon"
)

// DefaultRegionRadius is the circle radius, in metres, used when a region
// record does not carry one.
const DefaultRegionRadius = 20000.0

// RegionDefinition describes a tile region to make available offline.
// It is built once from a request record and never mutated.
type RegionDefinition struct {
	ID          string
	Kind        GeometryKind
	Coordinates [][]float64 // [lon, lat] pairs as supplied by the caller
	Geometry    orb.Geometry
	MapStyleURL string
	MinZoom     float64
	MaxZoom     float64
	Radius      float64 // metres; only used for circle approximations
	Metadata    map[string]string
}
