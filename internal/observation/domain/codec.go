package observation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

type memberDTO struct {
	Name      string `json:"name,omitempty"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Codespace string `json:"codespace,omitempty"`
}

type complexDTO struct {
	Members []memberDTO `json:"members"`
}

type levelDTO struct {
	From    decimal.Decimal `json:"from"`
	To      decimal.Decimal `json:"to"`
	Members []memberDTO     `json:"members"`
}

type profileDTO struct {
	Unit   string     `json:"unit,omitempty"`
	Levels []levelDTO `json:"levels"`
}

type pointDTO struct {
	Time    time.Time   `json:"time"`
	Lon     float64     `json:"lon"`
	Lat     float64     `json:"lat"`
	Members []memberDTO `json:"members,omitempty"`
}

type trajectoryDTO struct {
	Points []pointDTO `json:"points"`
}

type sweDTO struct {
	Fields []SweField `json:"fields"`
	Rows   [][]string `json:"rows"`
}

// MarshalComposite encodes complex, profile, trajectory and SWE array results
// to the JSON document stored for those shapes.
func MarshalComposite(v Value) ([]byte, error) {
	switch val := v.(type) {
	case ComplexValue:
		members, err := encodeMembers(val.Members)
		if err != nil {
			return nil, err
		}
		return json.Marshal(complexDTO{Members: members})
	case ProfileValue:
		dto := profileDTO{Unit: val.Unit, Levels: make([]levelDTO, 0, len(val.Levels))}
		for _, level := range val.Levels {
			members, err := encodeMembers(level.Members)
			if err != nil {
				return nil, err
			}
			dto.Levels = append(dto.Levels, levelDTO{From: level.LevelStart, To: level.LevelEnd, Members: members})
		}
		return json.Marshal(dto)
	case TrajectoryValue:
		dto := trajectoryDTO{Points: make([]pointDTO, 0, len(val.Points))}
		for _, p := range val.Points {
			members, err := encodeMembers(p.Members)
			if err != nil {
				return nil, err
			}
			dto.Points = append(dto.Points, pointDTO{Time: p.Time.UTC(), Lon: p.Location.Lon(), Lat: p.Location.Lat(), Members: members})
		}
		return json.Marshal(dto)
	case SweArrayValue:
		return json.Marshal(sweDTO{Fields: val.Fields, Rows: val.Rows})
	default:
		return nil, fmt.Errorf("%w: %T is not composite", ErrUnsupportedObservationType, v)
	}
}

// UnmarshalComposite decodes a stored JSON document for a composite shape.
func UnmarshalComposite(shape Shape, data []byte) (Value, error) {
	switch shape {
	case ShapeComplex:
		var dto complexDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return nil, err
		}
		members, err := decodeMembers(dto.Members)
		if err != nil {
			return nil, err
		}
		return ComplexValue{Members: members}, nil
	case ShapeProfile:
		var dto profileDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return nil, err
		}
		value := ProfileValue{Unit: dto.Unit, Levels: make([]ProfileLevel, 0, len(dto.Levels))}
		for _, level := range dto.Levels {
			members, err := decodeMembers(level.Members)
			if err != nil {
				return nil, err
			}
			value.Levels = append(value.Levels, ProfileLevel{LevelStart: level.From, LevelEnd: level.To, Members: members})
		}
		return value, nil
	case ShapeTrajectory:
		var dto trajectoryDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return nil, err
		}
		value := TrajectoryValue{Points: make([]TrajectoryPoint, 0, len(dto.Points))}
		for _, p := range dto.Points {
			members, err := decodeMembers(p.Members)
			if err != nil {
				return nil, err
			}
			value.Points = append(value.Points, TrajectoryPoint{Time: p.Time.UTC(), Location: orb.Point{p.Lon, p.Lat}, Members: members})
		}
		return value, nil
	case ShapeSweArray:
		var dto sweDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return nil, err
		}
		return SweArrayValue{Fields: dto.Fields, Rows: dto.Rows}, nil
	default:
		return nil, fmt.Errorf("%w: shape %s is not composite", ErrUnsupportedObservationType, shape)
	}
}

func encodeMembers(members []NamedValue) ([]memberDTO, error) {
	if len(members) == 0 {
		return nil, nil
	}
	result := make([]memberDTO, 0, len(members))
	for _, m := range members {
		dto := memberDTO{Name: m.Name}
		switch val := m.Value.(type) {
		case NumericValue:
			dto.Type, dto.Value = string(TypeNumeric), val.Value.String()
		case CountValue:
			dto.Type, dto.Value = string(TypeCount), strconv.FormatInt(val.Value, 10)
		case BooleanValue:
			dto.Type, dto.Value = string(TypeBoolean), strconv.FormatBool(val.Value)
		case TextValue:
			dto.Type, dto.Value = string(TypeText), val.Value
		case CategoryValue:
			dto.Type, dto.Value, dto.Codespace = string(TypeCategory), val.Value, val.Codespace
		default:
			return nil, fmt.Errorf("%w: member %q of type %T", ErrUnsupportedObservationType, m.Name, m.Value)
		}
		result = append(result, dto)
	}
	return result, nil
}

func decodeMembers(dtos []memberDTO) ([]NamedValue, error) {
	if len(dtos) == 0 {
		return nil, nil
	}
	result := make([]NamedValue, 0, len(dtos))
	for _, dto := range dtos {
		var value Value
		switch ValueType(dto.Type) {
		case TypeNumeric:
			d, err := decimal.NewFromString(dto.Value)
			if err != nil {
				return nil, err
			}
			value = NumericValue{Value: d}
		case TypeCount:
			n, err := strconv.ParseInt(dto.Value, 10, 64)
			if err != nil {
				return nil, err
			}
			value = CountValue{Value: n}
		case TypeBoolean:
			b, err := strconv.ParseBool(dto.Value)
			if err != nil {
				return nil, err
			}
			value = BooleanValue{Value: b}
		case TypeText:
			value = TextValue{Value: dto.Value}
		case TypeCategory:
			value = CategoryValue{Value: dto.Value, Codespace: dto.Codespace}
		default:
			return nil, fmt.Errorf("%w: member type %q", ErrUnsupportedObservationType, dto.Type)
		}
		result = append(result, NamedValue{Name: dto.Name, Value: value})
	}
	return result, nil
}
