// Package definition turns untyped request records into typed region and
// style definitions. Everything is validated before any state is created.
package definition

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/offline-maps/internal/geometry"
	"github.com/signalsfoundry/offline-maps/model"
)

// ErrParsing is returned when a record is missing a required field or a
// field has the wrong type.
var ErrParsing = errors.New("parsing error")

// Record keys.
const (
	KeyCoordinates = "coordinates"
	KeyMapStyleURL = "mapStyleUrl"
	KeyMinZoom     = "minZoom"
	KeyMaxZoom     = "maxZoom"
	KeyID          = "id"
	KeyGeometry    = "geometry"
	KeyMetadata    = "metadata"
	KeyRadius      = "radius"
	KeyMode        = "mode"
)

// ParseRegion builds a RegionDefinition from record.
func ParseRegion(record map[string]any) (model.RegionDefinition, error) {
	if record == nil {
		return model.RegionDefinition{}, fmt.Errorf("%w: region record is required", ErrParsing)
	}

	coords, err := coordinates(record, KeyCoordinates)
	if err != nil {
		return model.RegionDefinition{}, err
	}
	styleURL, err := requiredString(record, KeyMapStyleURL)
	if err != nil {
		return model.RegionDefinition{}, err
	}
	minZoom, err := requiredNumber(record, KeyMinZoom)
	if err != nil {
		return model.RegionDefinition{}, err
	}
	maxZoom, err := requiredNumber(record, KeyMaxZoom)
	if err != nil {
		return model.RegionDefinition{}, err
	}
	if minZoom < 0 || maxZoom < 0 {
		return model.RegionDefinition{}, fmt.Errorf("%w: zoom levels must be non-negative (min=%v max=%v)", ErrParsing, minZoom, maxZoom)
	}
	if minZoom > maxZoom {
		return model.RegionDefinition{}, fmt.Errorf("%w: minZoom %v is greater than maxZoom %v", ErrParsing, minZoom, maxZoom)
	}
	id, err := requiredString(record, KeyID)
	if err != nil {
		return model.RegionDefinition{}, err
	}
	kind, err := requiredString(record, KeyGeometry)
	if err != nil {
		return model.RegionDefinition{}, err
	}

	// A radius that is not a positive number falls back to the default.
	radius := model.DefaultRegionRadius
	if r, ok := toFloat(record[KeyRadius]); ok && r > 0 {
		radius = r
	}

	metadata, err := optionalMetadata(record)
	if err != nil {
		return model.RegionDefinition{}, err
	}

	geom, err := geometry.Convert(model.GeometryKind(kind), coords, radius)
	if err != nil {
		return model.RegionDefinition{}, fmt.Errorf("%w: %w", ErrParsing, err)
	}

	return model.RegionDefinition{
		ID:          id,
		Kind:        model.GeometryKind(kind),
		Coordinates: coords,
		Geometry:    geom,
		MapStyleURL: styleURL,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		Radius:      radius,
		Metadata:    metadata,
	}, nil
}

// ParseStyle builds a StyleDefinition from record.
func ParseStyle(record map[string]any) (model.StyleDefinition, error) {
	if record == nil {
		return model.StyleDefinition{}, fmt.Errorf("%w: style record is required", ErrParsing)
	}
	mode, err := requiredString(record, KeyMode)
	if err != nil {
		return model.StyleDefinition{}, err
	}
	styleURL, err := requiredString(record, KeyMapStyleURL)
	if err != nil {
		return model.StyleDefinition{}, err
	}
	metadata, err := optionalMetadata(record)
	if err != nil {
		return model.StyleDefinition{}, err
	}
	return model.StyleDefinition{
		MapStyleURL: styleURL,
		Mode:        model.ParseGlyphsRasterizationMode(mode),
		Metadata:    metadata,
	}, nil
}

func requiredString(record map[string]any, key string) (string, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s is required", ErrParsing, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrParsing, key, raw)
	}
	return s, nil
}

func requiredNumber(record map[string]any, key string) (float64, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: %s is required", ErrParsing, key)
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrParsing, key, raw)
	}
	return f, nil
}

func coordinates(record map[string]any, key string) ([][]float64, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrParsing, key)
	}

	switch v := raw.(type) {
	case [][]float64:
		return v, nil
	case []any:
		out := make([][]float64, 0, len(v))
		for i, item := range v {
			pair, err := numberList(item)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrParsing, key, i, err)
			}
			out = append(out, pair)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of coordinate pairs, got %T", ErrParsing, key, raw)
	}
}

func numberList(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			f, ok := toFloat(item)
			if !ok {
				return nil, fmt.Errorf("expected number, got %T", item)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", raw)
	}
}

func optionalMetadata(record map[string]any) (map[string]string, error) {
	raw, ok := record[KeyMetadata]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be a string, got %T", ErrParsing, KeyMetadata, k, item)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a string map, got %T", ErrParsing, KeyMetadata, raw)
	}
}

func toFloat(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
