package postgres

import (
	"fmt"
	"strings"

	observation "sos-cloud/internal/observation/domain"
)

const (
	seriesAlias      = "s"
	observationAlias = "o"
	existsAlias      = "e"
	indexAlias       = "i"
)

var seriesColumns = []string{
	"id", "procedure", "observable_property", "feature_of_interest", "offering",
	"category", "value_type", "deleted", "published", "hidden_child",
	"first_time_stamp", "last_time_stamp", "first_value", "last_value", "unit",
}

// builder renders compiled predicates into PostgreSQL with positional args.
type builder struct {
	tables Tables
	srid   int
	args   []any
}

func newBuilder(tables Tables, srid int) *builder {
	return &builder{tables: tables, srid: srid}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// scope tells the renderer which observation relation is in reach; obs is
// empty for series queries.
type scope struct {
	obs   string
	shape observation.Shape
}

func (b *builder) seriesSelect(q observation.Query) (string, error) {
	if q.Target != observation.TargetSeries {
		return "", fmt.Errorf("observation postgres: not a series query")
	}
	where, err := b.where(q.Where, scope{})
	if err != nil {
		return "", err
	}
	order, err := b.orderBy(q.OrderBy, scope{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s %s WHERE %s%s%s",
		qualified(seriesAlias, seriesColumns), b.tables.Series, seriesAlias, where, order, page(q)), nil
}

func (b *builder) observationSelect(q observation.Query) (string, error) {
	if q.Target != observation.TargetObservations {
		return "", fmt.Errorf("observation postgres: not an observation query")
	}
	codec, err := codecFor(q.Shape)
	if err != nil {
		return "", err
	}
	sc := scope{obs: observationAlias, shape: q.Shape}
	where, err := b.where(q.Where, sc)
	if err != nil {
		return "", err
	}
	order, err := b.orderBy(q.OrderBy, sc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s %s JOIN %s %s ON %s.id = %s.series_id WHERE %s%s%s",
		observationColumns(observationAlias, codec),
		b.tables.Observations(q.Shape), observationAlias,
		b.tables.Series, seriesAlias, seriesAlias, observationAlias,
		where, order, page(q)), nil
}

func (b *builder) where(p observation.Predicate, sc scope) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "TRUE", nil
	case observation.And:
		return b.join(pred, " AND ", "TRUE", sc)
	case observation.Or:
		return b.join(pred, " OR ", "FALSE", sc)
	case observation.In:
		col, err := b.column(pred.Field, sc)
		if err != nil {
			return "", err
		}
		if len(pred.Values) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, 0, len(pred.Values))
		for _, v := range pred.Values {
			placeholders = append(placeholders, b.arg(v))
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), nil
	case observation.Flag:
		col, err := b.column(pred.Field, sc)
		if err != nil {
			return "", err
		}
		if pred.Value {
			return col + " = TRUE", nil
		}
		return col + " = FALSE", nil
	case observation.TimeOverlaps:
		start, err := b.column(pred.StartField, sc)
		if err != nil {
			return "", err
		}
		end, err := b.column(pred.EndField, sc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s <= %s AND %s >= %s)", start, b.arg(pred.Interval.End), end, b.arg(pred.Interval.Start)), nil
	case observation.OnBound:
		return b.onBound(pred, sc)
	case observation.GeometryMatch:
		return b.geometryMatch(pred, sc)
	case observation.ObservationExists:
		if sc.obs == existsAlias {
			return "", fmt.Errorf("observation postgres: nested observation exists")
		}
		inner, err := b.where(pred.Where, scope{obs: existsAlias, shape: pred.Shape})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s.series_id = %s.id AND %s.deleted = FALSE AND %s)",
			b.tables.Observations(pred.Shape), existsAlias, existsAlias, seriesAlias, existsAlias, inner), nil
	case observation.Compare:
		return b.compare(pred, sc)
	default:
		return "", fmt.Errorf("observation postgres: unsupported predicate %T", p)
	}
}

func (b *builder) join(children []observation.Predicate, sep, empty string, sc scope) (string, error) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := b.where(child, sc)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) column(f observation.Field, sc scope) (string, error) {
	switch f {
	case observation.FieldSeriesID:
		return seriesAlias + ".id", nil
	case observation.FieldProcedure:
		return seriesAlias + ".procedure", nil
	case observation.FieldObservableProperty:
		return seriesAlias + ".observable_property", nil
	case observation.FieldFeatureOfInterest:
		return seriesAlias + ".feature_of_interest", nil
	case observation.FieldOffering:
		return seriesAlias + ".offering", nil
	case observation.FieldCategory:
		return seriesAlias + ".category", nil
	case observation.FieldSeriesDeleted:
		return seriesAlias + ".deleted", nil
	case observation.FieldSeriesPublished:
		return seriesAlias + ".published", nil
	case observation.FieldSeriesHiddenChild:
		return seriesAlias + ".hidden_child", nil
	case observation.FieldSeriesFirstTimeStamp:
		return seriesAlias + ".first_time_stamp", nil
	case observation.FieldSeriesLastTimeStamp:
		return seriesAlias + ".last_time_stamp", nil
	}
	if sc.obs == "" {
		return "", fmt.Errorf("observation postgres: field %d outside observation scope", f)
	}
	switch f {
	case observation.FieldObservationID:
		return sc.obs + ".id", nil
	case observation.FieldObservationDeleted:
		return sc.obs + ".deleted", nil
	case observation.FieldIdentifier:
		return sc.obs + ".identifier", nil
	case observation.FieldPhenomenonTimeStart:
		return sc.obs + ".phenomenon_time_start", nil
	case observation.FieldPhenomenonTimeEnd:
		return sc.obs + ".phenomenon_time_end", nil
	case observation.FieldResultTime:
		return sc.obs + ".result_time", nil
	default:
		return "", fmt.Errorf("observation postgres: unknown field %d", f)
	}
}

// onBound compares the observation bound with the series bound. The cached
// series timestamp wins when set; the ordered subquery covers unset caches.
func (b *builder) onBound(pred observation.OnBound, sc scope) (string, error) {
	if sc.obs == "" {
		return "", fmt.Errorf("observation postgres: bound predicate outside observation scope")
	}
	var col, cached, direction string
	switch pred.Bound {
	case observation.BoundFirst:
		col, cached, direction = "phenomenon_time_start", "first_time_stamp", "ASC"
	case observation.BoundLatest:
		col, cached, direction = "phenomenon_time_end", "last_time_stamp", "DESC"
	default:
		return "", fmt.Errorf("observation postgres: unknown bound %d", pred.Bound)
	}
	derived := fmt.Sprintf("(SELECT %s.%s FROM %s %s WHERE %s.series_id = %s.id AND %s.deleted = FALSE ORDER BY %s.%s %s LIMIT 1)",
		indexAlias, col, b.tables.ObservationIndex, indexAlias, indexAlias, seriesAlias, indexAlias, indexAlias, col, direction)
	bound := derived
	if pred.UseCache {
		bound = fmt.Sprintf("COALESCE(%s.%s, %s)", seriesAlias, cached, derived)
	}
	return fmt.Sprintf("%s.%s = %s", sc.obs, col, bound), nil
}

func (b *builder) geometryMatch(pred observation.GeometryMatch, sc scope) (string, error) {
	data, err := encodeGeometry(pred.Geometry)
	if err != nil {
		return "", fmt.Errorf("observation postgres: encode filter geometry: %w", err)
	}
	if data == nil {
		return "", fmt.Errorf("observation postgres: nil filter geometry")
	}
	operand := fmt.Sprintf("ST_GeomFromWKB(%s, %d)", b.arg(data), b.srid)
	switch pred.Target {
	case observation.TargetSamplingGeometry:
		if sc.obs == "" {
			return "", fmt.Errorf("observation postgres: sampling geometry outside observation scope")
		}
		return spatialExpr(pred.Operator, sc.obs+".sampling_geometry", operand)
	case observation.TargetFeatureGeometry:
		match, err := spatialExpr(pred.Operator, "f.geom", operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s f WHERE f.identifier = %s.feature_of_interest AND %s)",
			b.tables.Features, seriesAlias, match), nil
	default:
		return "", fmt.Errorf("observation postgres: unknown geometry target %d", pred.Target)
	}
}

func spatialExpr(op observation.SpatialOperator, col, operand string) (string, error) {
	switch op {
	case observation.OpBBOX:
		return fmt.Sprintf("%s && %s", col, operand), nil
	case observation.OpIntersects:
		return fmt.Sprintf("ST_Intersects(%s, %s)", col, operand), nil
	case observation.OpWithin:
		return fmt.Sprintf("ST_Within(%s, %s)", col, operand), nil
	default:
		return "", fmt.Errorf("observation postgres: unsupported spatial operator %s", op)
	}
}

var comparisonSQL = map[observation.ComparisonOperator]string{
	observation.OpEqualTo:              "=",
	observation.OpNotEqualTo:           "<>",
	observation.OpLessThan:             "<",
	observation.OpLessThanOrEqualTo:    "<=",
	observation.OpGreaterThan:          ">",
	observation.OpGreaterThanOrEqualTo: ">=",
	observation.OpLike:                 "LIKE",
}

func (b *builder) compare(pred observation.Compare, sc scope) (string, error) {
	if sc.obs == "" {
		return "", fmt.Errorf("observation postgres: comparison outside observation scope")
	}
	switch pred.Operand {
	case observation.OperandUnit:
		return b.compareColumn(sc.obs+".unit", pred)
	case observation.OperandLevel:
		if sc.shape != observation.ShapeProfile {
			return "FALSE", nil
		}
		return b.compareLevel(sc.obs+".level_start", sc.obs+".level_end", pred)
	case observation.OperandResult:
		codec, err := codecFor(sc.shape)
		if err != nil {
			return "", err
		}
		if codec.resultColumn == "" {
			return "FALSE", nil
		}
		return b.compareColumn(sc.obs+"."+codec.resultColumn, pred)
	default:
		return "", fmt.Errorf("observation postgres: unknown operand %d", pred.Operand)
	}
}

func (b *builder) compareColumn(col string, pred observation.Compare) (string, error) {
	if pred.Operator == observation.OpBetween {
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, b.arg(pred.Literal), b.arg(pred.Upper)), nil
	}
	op, ok := comparisonSQL[pred.Operator]
	if !ok {
		return "", fmt.Errorf("observation postgres: unsupported operator %s", pred.Operator)
	}
	return fmt.Sprintf("%s %s %s", col, op, b.arg(pred.Literal)), nil
}

// compareLevel matches when any depth of [lo, hi] satisfies the comparison.
func (b *builder) compareLevel(lo, hi string, pred observation.Compare) (string, error) {
	switch pred.Operator {
	case observation.OpEqualTo:
		x := b.arg(pred.Literal)
		return fmt.Sprintf("(%s <= %s AND %s >= %s)", lo, x, hi, x), nil
	case observation.OpNotEqualTo:
		x := b.arg(pred.Literal)
		return fmt.Sprintf("(%s IS NOT NULL AND NOT (%s = %s AND %s = %s))", lo, lo, x, hi, x), nil
	case observation.OpLessThan:
		return fmt.Sprintf("%s < %s", lo, b.arg(pred.Literal)), nil
	case observation.OpLessThanOrEqualTo:
		return fmt.Sprintf("%s <= %s", lo, b.arg(pred.Literal)), nil
	case observation.OpGreaterThan:
		return fmt.Sprintf("%s > %s", hi, b.arg(pred.Literal)), nil
	case observation.OpGreaterThanOrEqualTo:
		return fmt.Sprintf("%s >= %s", hi, b.arg(pred.Literal)), nil
	case observation.OpBetween:
		return fmt.Sprintf("(%s <= %s AND %s >= %s)", lo, b.arg(pred.Upper), hi, b.arg(pred.Literal)), nil
	default:
		return "", fmt.Errorf("observation postgres: unsupported level operator %s", pred.Operator)
	}
}

func (b *builder) orderBy(orders []observation.Order, sc scope) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		col, err := b.column(o.Field, sc)
		if err != nil {
			return "", err
		}
		if o.Descending {
			col += " DESC"
		} else {
			col += " ASC"
		}
		parts = append(parts, col)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func page(q observation.Query) string {
	var sb strings.Builder
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}
	return sb.String()
}

func qualified(alias string, columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, alias+"."+c)
	}
	return strings.Join(out, ", ")
}

// observationColumns lists the common columns followed by the shape's value columns.
func observationColumns(alias string, codec shapeCodec) string {
	cols := []string{
		alias + ".id",
		alias + ".series_id",
		alias + ".identifier",
		alias + ".phenomenon_time_start",
		alias + ".phenomenon_time_end",
		alias + ".result_time",
		alias + ".valid_time_start",
		alias + ".valid_time_end",
		fmt.Sprintf("ST_AsBinary(%s.sampling_geometry)", alias),
		alias + ".unit",
		alias + ".deleted",
	}
	for _, c := range codec.columns {
		cols = append(cols, c.selectExpr(alias))
	}
	return strings.Join(cols, ", ")
}
