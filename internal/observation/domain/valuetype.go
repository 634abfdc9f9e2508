package observation

import (
	"fmt"
	"strings"
)

// ValueType is the declared observation type tag.
type ValueType string

const (
	TypeNumeric         ValueType = "numeric"
	TypeCount           ValueType = "count"
	TypeBoolean         ValueType = "boolean"
	TypeText            ValueType = "text"
	TypeCategory        ValueType = "category"
	TypeGeometry        ValueType = "geometry"
	TypeComplex         ValueType = "complex"
	TypeProfile         ValueType = "profile"
	TypeProfileNumeric  ValueType = "profile-numeric"
	TypeProfileCategory ValueType = "profile-category"
	TypeTrajectory      ValueType = "trajectory"
	TypeSweArray        ValueType = "swe-array"
	TypeBlob            ValueType = "blob"
	TypeReference       ValueType = "reference"
)

const omTypePrefix = "http://www.opengis.net/def/observationType/OGC-OM/2.0/"

// Shape identifies a storage representation. The set is closed.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeNumeric
	ShapeCount
	ShapeBoolean
	ShapeText
	ShapeCategory
	ShapeGeometry
	ShapeComplex
	ShapeProfile
	ShapeTrajectory
	ShapeSweArray
	ShapeBlob
	ShapeReference
)

var shapeNames = map[Shape]string{
	ShapeNumeric:    "numeric",
	ShapeCount:      "count",
	ShapeBoolean:    "boolean",
	ShapeText:       "text",
	ShapeCategory:   "category",
	ShapeGeometry:   "geometry",
	ShapeComplex:    "complex",
	ShapeProfile:    "profile",
	ShapeTrajectory: "trajectory",
	ShapeSweArray:   "swe_array",
	ShapeBlob:       "blob",
	ShapeReference:  "reference",
}

// String returns the shape name used in storage identifiers and metrics labels.
func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether the shape is a member of the closed set.
func (s Shape) IsValid() bool {
	_, ok := shapeNames[s]
	return ok
}

// AllShapes returns every storage shape in declaration order.
func AllShapes() []Shape {
	return []Shape{
		ShapeNumeric,
		ShapeCount,
		ShapeBoolean,
		ShapeText,
		ShapeCategory,
		ShapeGeometry,
		ShapeComplex,
		ShapeProfile,
		ShapeTrajectory,
		ShapeSweArray,
		ShapeBlob,
		ShapeReference,
	}
}

// Registry maps value-type tags to storage shapes and classifies stored values.
// It is built once and shared read-only.
type Registry struct {
	shapes  map[ValueType]Shape
	aliases map[string]ValueType
}

// NewRegistry constructs the registry with the built-in tag table.
func NewRegistry() *Registry {
	return &Registry{
		shapes: map[ValueType]Shape{
			TypeNumeric:         ShapeNumeric,
			TypeCount:           ShapeCount,
			TypeBoolean:         ShapeBoolean,
			TypeText:            ShapeText,
			TypeCategory:        ShapeCategory,
			TypeGeometry:        ShapeGeometry,
			TypeComplex:         ShapeComplex,
			TypeProfile:         ShapeProfile,
			TypeProfileNumeric:  ShapeProfile,
			TypeProfileCategory: ShapeProfile,
			TypeTrajectory:      ShapeTrajectory,
			TypeSweArray:        ShapeSweArray,
			TypeBlob:            ShapeBlob,
			TypeReference:       ShapeReference,
		},
		aliases: map[string]ValueType{
			omTypePrefix + "OM_Measurement":          TypeNumeric,
			omTypePrefix + "OM_CountObservation":     TypeCount,
			omTypePrefix + "OM_TruthObservation":     TypeBoolean,
			omTypePrefix + "OM_TextObservation":      TypeText,
			omTypePrefix + "OM_CategoryObservation":  TypeCategory,
			omTypePrefix + "OM_GeometryObservation":  TypeGeometry,
			omTypePrefix + "OM_ComplexObservation":   TypeComplex,
			omTypePrefix + "OM_SWEArrayObservation":  TypeSweArray,
			omTypePrefix + "OM_ReferenceObservation": TypeReference,
		},
	}
}

// Resolve normalizes a tag or an OGC observation-type URI.
func (r *Registry) Resolve(tag string) (ValueType, error) {
	tag = strings.TrimSpace(tag)
	if vt, ok := r.aliases[tag]; ok {
		return vt, nil
	}
	vt := ValueType(strings.ToLower(tag))
	if _, ok := r.shapes[vt]; ok {
		return vt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedObservationType, tag)
}

// ShapeOf returns the storage shape for a value type.
func (r *Registry) ShapeOf(vt ValueType) (Shape, error) {
	shape, ok := r.shapes[vt]
	if !ok {
		return ShapeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedObservationType, vt)
	}
	return shape, nil
}

// Classify returns the value type tag matching a value instance.
func (r *Registry) Classify(v Value) (ValueType, error) {
	switch val := v.(type) {
	case NumericValue:
		return TypeNumeric, nil
	case CountValue:
		return TypeCount, nil
	case BooleanValue:
		return TypeBoolean, nil
	case TextValue:
		return TypeText, nil
	case CategoryValue:
		return TypeCategory, nil
	case GeometryValue:
		return TypeGeometry, nil
	case ComplexValue:
		return TypeComplex, nil
	case ProfileValue:
		return classifyProfile(val), nil
	case TrajectoryValue:
		return TypeTrajectory, nil
	case SweArrayValue:
		return TypeSweArray, nil
	case BlobValue:
		return TypeBlob, nil
	case ReferenceValue:
		return TypeReference, nil
	case nil:
		return "", ErrNilValue
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedObservationType, v)
	}
}

// ShapeOfValue classifies a value and returns its storage shape.
func (r *Registry) ShapeOfValue(v Value) (Shape, error) {
	vt, err := r.Classify(v)
	if err != nil {
		return ShapeUnknown, err
	}
	return r.ShapeOf(vt)
}

func classifyProfile(p ProfileValue) ValueType {
	if len(p.Levels) == 0 || len(p.Levels[0].Members) == 0 {
		return TypeProfile
	}
	switch p.Levels[0].Members[0].Value.(type) {
	case NumericValue, CountValue:
		return TypeProfileNumeric
	case CategoryValue:
		return TypeProfileCategory
	default:
		return TypeProfile
	}
}

// CarriesScalarExtremum reports whether series of this shape track first/last values.
func (r *Registry) CarriesScalarExtremum(shape Shape) bool {
	return shape == ShapeNumeric || shape == ShapeSweArray
}

// SupportsResultFilter reports whether a shape can express a comparison on a value reference.
func (r *Registry) SupportsResultFilter(shape Shape, ref ValueReference, op ComparisonOperator) bool {
	if !op.IsValid() {
		return false
	}
	switch ref.normalized() {
	case ValueReferenceUnit:
		return shape.IsValid() && (op == OpEqualTo || op == OpNotEqualTo || op == OpLike)
	case ValueReferenceProfileLevel:
		return shape == ShapeProfile && op != OpLike
	case ValueReferenceResult:
		switch shape {
		case ShapeNumeric, ShapeCount:
			return op != OpLike
		case ShapeBoolean:
			return op == OpEqualTo || op == OpNotEqualTo
		case ShapeText, ShapeCategory:
			return true
		default:
			return false
		}
	default:
		return false
	}
}
