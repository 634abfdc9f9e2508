package postgres

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/shopspring/decimal"

	observation "sos-cloud/internal/observation/domain"
)

// column is a value column of a shape table.
type column struct {
	name     string
	geometry bool
}

func (c column) selectExpr(alias string) string {
	if c.geometry {
		return fmt.Sprintf("ST_AsBinary(%s.%s)", alias, c.name)
	}
	return alias + "." + c.name
}

// shapeCodec maps one storage shape to its value columns.
type shapeCodec struct {
	columns []column
	// resultColumn is compared by result filters; empty when the shape has none.
	resultColumn string
	encode       func(v observation.Value) ([]any, error)
	// dest returns scan targets and a decoder reading them after Scan.
	dest func() ([]any, func() (observation.Value, error))
}

var errValueShape = errors.New("observation postgres: value does not match shape")

var shapeCodecs = map[observation.Shape]shapeCodec{
	observation.ShapeNumeric: {
		columns:      []column{{name: "value"}},
		resultColumn: "value",
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.NumericValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Value}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var d decimal.Decimal
			return []any{&d}, func() (observation.Value, error) { return observation.NumericValue{Value: d}, nil }
		},
	},
	observation.ShapeCount: {
		columns:      []column{{name: "value"}},
		resultColumn: "value",
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.CountValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Value}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var n int64
			return []any{&n}, func() (observation.Value, error) { return observation.CountValue{Value: n}, nil }
		},
	},
	observation.ShapeBoolean: {
		columns:      []column{{name: "value"}},
		resultColumn: "value",
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.BooleanValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Value}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var b bool
			return []any{&b}, func() (observation.Value, error) { return observation.BooleanValue{Value: b}, nil }
		},
	},
	observation.ShapeText: {
		columns:      []column{{name: "value"}},
		resultColumn: "value",
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.TextValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Value}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var s string
			return []any{&s}, func() (observation.Value, error) { return observation.TextValue{Value: s}, nil }
		},
	},
	observation.ShapeCategory: {
		columns:      []column{{name: "value"}, {name: "codespace"}},
		resultColumn: "value",
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.CategoryValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Value, val.Codespace}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var value, codespace string
			return []any{&value, &codespace}, func() (observation.Value, error) {
				return observation.CategoryValue{Value: value, Codespace: codespace}, nil
			}
		},
	},
	observation.ShapeGeometry: {
		columns: []column{{name: "value", geometry: true}},
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.GeometryValue)
			if !ok {
				return nil, errValueShape
			}
			data, err := geometryArg(val.Geometry)
			if err != nil {
				return nil, err
			}
			return []any{data}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			scanner := wkb.Scanner(nil)
			return []any{scanner}, func() (observation.Value, error) {
				if !scanner.Valid {
					return observation.GeometryValue{}, nil
				}
				return observation.GeometryValue{Geometry: scanner.Geometry}, nil
			}
		},
	},
	observation.ShapeComplex:    compositeCodec(observation.ShapeComplex),
	observation.ShapeTrajectory: compositeCodec(observation.ShapeTrajectory),
	observation.ShapeSweArray:   compositeCodec(observation.ShapeSweArray),
	observation.ShapeProfile: {
		columns: []column{{name: "value"}, {name: "level_start"}, {name: "level_end"}},
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.ProfileValue)
			if !ok {
				return nil, errValueShape
			}
			data, err := observation.MarshalComposite(val)
			if err != nil {
				return nil, err
			}
			lo, hi, ok := val.LevelBounds()
			if !ok {
				return []any{data, decimal.NullDecimal{}, decimal.NullDecimal{}}, nil
			}
			return []any{data, decimal.NewNullDecimal(lo), decimal.NewNullDecimal(hi)}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var data []byte
			var lo, hi decimal.NullDecimal
			return []any{&data, &lo, &hi}, func() (observation.Value, error) {
				return observation.UnmarshalComposite(observation.ShapeProfile, data)
			}
		},
	},
	observation.ShapeBlob: {
		columns: []column{{name: "value"}, {name: "media_type"}},
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.BlobValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Data, val.MediaType}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var data []byte
			var mediaType string
			return []any{&data, &mediaType}, func() (observation.Value, error) {
				return observation.BlobValue{MediaType: mediaType, Data: data}, nil
			}
		},
	},
	observation.ShapeReference: {
		columns: []column{{name: "href"}, {name: "title"}, {name: "role"}},
		encode: func(v observation.Value) ([]any, error) {
			val, ok := v.(observation.ReferenceValue)
			if !ok {
				return nil, errValueShape
			}
			return []any{val.Href, val.Title, val.Role}, nil
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var href, title, role string
			return []any{&href, &title, &role}, func() (observation.Value, error) {
				return observation.ReferenceValue{Href: href, Title: title, Role: role}, nil
			}
		},
	},
}

func compositeCodec(shape observation.Shape) shapeCodec {
	return shapeCodec{
		columns: []column{{name: "value"}},
		encode: func(v observation.Value) ([]any, error) {
			return observationMarshal(shape, v)
		},
		dest: func() ([]any, func() (observation.Value, error)) {
			var data []byte
			return []any{&data}, func() (observation.Value, error) {
				return observation.UnmarshalComposite(shape, data)
			}
		},
	}
}

func observationMarshal(shape observation.Shape, v observation.Value) ([]any, error) {
	data, err := observation.MarshalComposite(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", shape, err)
	}
	return []any{data}, nil
}

func codecFor(shape observation.Shape) (shapeCodec, error) {
	codec, ok := shapeCodecs[shape]
	if !ok {
		return shapeCodec{}, fmt.Errorf("%w: shape %d", observation.ErrUnsupportedObservationType, shape)
	}
	return codec, nil
}

// encodeGeometry returns WKB for a geometry, or nil for SQL NULL.
func encodeGeometry(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	return wkb.Marshal(g)
}

// geometryArg is encodeGeometry as a query argument; an untyped nil binds NULL.
func geometryArg(g orb.Geometry) (any, error) {
	data, err := encodeGeometry(g)
	if err != nil || data == nil {
		return nil, err
	}
	return data, nil
}
