package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	observation "sos-cloud/internal/observation/domain"
)

// row is one candidate of a query: a series alone (series queries) or an
// observation joined with its series.
type row struct {
	series *observation.Series
	obs    *observation.Observation
}

// eval is called with mu held.
func (s *Store) eval(p observation.Predicate, rw row) (bool, error) {
	switch pred := p.(type) {
	case nil:
		return true, nil
	case observation.And:
		for _, child := range pred {
			ok, err := s.eval(child, rw)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case observation.Or:
		for _, child := range pred {
			ok, err := s.eval(child, rw)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case observation.In:
		value, err := textField(pred.Field, rw)
		if err != nil {
			return false, err
		}
		for _, v := range pred.Values {
			if v == value {
				return true, nil
			}
		}
		return false, nil
	case observation.Flag:
		value, err := flagField(pred.Field, rw)
		if err != nil {
			return false, err
		}
		return value == pred.Value, nil
	case observation.TimeOverlaps:
		start, err := timeField(pred.StartField, rw)
		if err != nil {
			return false, err
		}
		end, err := timeField(pred.EndField, rw)
		if err != nil {
			return false, err
		}
		if start.IsZero() || end.IsZero() {
			return false, nil
		}
		return observation.TimeInterval{Start: start, End: end}.Intersects(pred.Interval), nil
	case observation.OnBound:
		return s.onBound(pred, rw)
	case observation.GeometryMatch:
		return s.geometryMatch(pred, rw)
	case observation.ObservationExists:
		return s.observationExists(pred, rw)
	case observation.Compare:
		if rw.obs == nil {
			return false, fmt.Errorf("memory store: comparison outside observation scope")
		}
		return compareObservation(pred, rw.obs)
	default:
		return false, fmt.Errorf("memory store: unsupported predicate %T", p)
	}
}

func textField(f observation.Field, rw row) (string, error) {
	switch f {
	case observation.FieldProcedure:
		return rw.series.Key.Procedure, nil
	case observation.FieldObservableProperty:
		return rw.series.Key.ObservableProperty, nil
	case observation.FieldFeatureOfInterest:
		return rw.series.Key.FeatureOfInterest, nil
	case observation.FieldOffering:
		return rw.series.Key.Offering, nil
	case observation.FieldCategory:
		return rw.series.Category, nil
	case observation.FieldIdentifier:
		if rw.obs != nil {
			return rw.obs.Identifier, nil
		}
	}
	return "", fmt.Errorf("memory store: field %d is not a text field", f)
}

func flagField(f observation.Field, rw row) (bool, error) {
	switch f {
	case observation.FieldSeriesDeleted:
		return rw.series.Deleted, nil
	case observation.FieldSeriesPublished:
		return rw.series.Published, nil
	case observation.FieldSeriesHiddenChild:
		return rw.series.HiddenChild, nil
	case observation.FieldObservationDeleted:
		if rw.obs != nil {
			return rw.obs.Deleted, nil
		}
	}
	return false, fmt.Errorf("memory store: field %d is not a flag", f)
}

func timeField(f observation.Field, rw row) (time.Time, error) {
	switch f {
	case observation.FieldSeriesFirstTimeStamp:
		return rw.series.FirstTimeStamp, nil
	case observation.FieldSeriesLastTimeStamp:
		return rw.series.LastTimeStamp, nil
	}
	if rw.obs != nil {
		switch f {
		case observation.FieldPhenomenonTimeStart:
			return rw.obs.PhenomenonTime.Start, nil
		case observation.FieldPhenomenonTimeEnd:
			return rw.obs.PhenomenonTime.End, nil
		case observation.FieldResultTime:
			return rw.obs.ResultTime, nil
		}
	}
	return time.Time{}, fmt.Errorf("memory store: field %d is not a time field", f)
}

func (s *Store) onBound(pred observation.OnBound, rw row) (bool, error) {
	if rw.obs == nil {
		return false, fmt.Errorf("memory store: bound predicate outside observation scope")
	}
	var cached time.Time
	switch pred.Bound {
	case observation.BoundFirst:
		cached = rw.series.FirstTimeStamp
	case observation.BoundLatest:
		cached = rw.series.LastTimeStamp
	default:
		return false, fmt.Errorf("memory store: unknown bound %d", pred.Bound)
	}
	if !pred.UseCache || cached.IsZero() {
		found := s.boundary(rw.series.ID, pred.Bound)
		if found == nil {
			return false, nil
		}
		cached = boundTime(found, pred.Bound)
	}
	return boundTime(rw.obs, pred.Bound).Equal(cached), nil
}

func boundTime(o *observation.Observation, b observation.Bound) time.Time {
	if b == observation.BoundFirst {
		return o.PhenomenonTime.Start
	}
	return o.PhenomenonTime.End
}

func (s *Store) geometryMatch(pred observation.GeometryMatch, rw row) (bool, error) {
	switch pred.Target {
	case observation.TargetFeatureGeometry:
		feature := s.features[rw.series.Key.FeatureOfInterest]
		if feature == nil || feature.Geometry == nil {
			return false, nil
		}
		return spatialMatch(pred.Operator, feature.Geometry, pred.Geometry)
	case observation.TargetSamplingGeometry:
		if rw.obs == nil || rw.obs.SamplingGeometry == nil {
			return false, nil
		}
		return spatialMatch(pred.Operator, rw.obs.SamplingGeometry, pred.Geometry)
	default:
		return false, fmt.Errorf("memory store: unknown geometry target %d", pred.Target)
	}
}

func (s *Store) observationExists(pred observation.ObservationExists, rw row) (bool, error) {
	for _, stored := range s.observations {
		if stored.shape != pred.Shape || stored.obs.Deleted || stored.obs.SeriesID != rw.series.ID {
			continue
		}
		ok, err := s.eval(pred.Where, row{series: rw.series, obs: stored.obs})
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func compareObservation(pred observation.Compare, o *observation.Observation) (bool, error) {
	switch pred.Operand {
	case observation.OperandUnit:
		return compareLiteral(pred, o.Unit)
	case observation.OperandLevel:
		profile, ok := o.Value.(observation.ProfileValue)
		if !ok {
			return false, nil
		}
		lo, hi, ok := profile.LevelBounds()
		if !ok {
			return false, nil
		}
		return compareLevel(pred, lo, hi)
	case observation.OperandResult:
		switch val := o.Value.(type) {
		case observation.NumericValue:
			return compareLiteral(pred, val.Value)
		case observation.CountValue:
			return compareLiteral(pred, val.Value)
		case observation.BooleanValue:
			return compareLiteral(pred, val.Value)
		case observation.TextValue:
			return compareLiteral(pred, val.Value)
		case observation.CategoryValue:
			return compareLiteral(pred, val.Value)
		default:
			return false, nil
		}
	default:
		return false, fmt.Errorf("memory store: unknown operand %d", pred.Operand)
	}
}

// compareLiteral applies the operator to a stored value and the typed literal.
func compareLiteral(pred observation.Compare, value any) (bool, error) {
	if pred.Operator == observation.OpLike {
		text, ok := value.(string)
		pattern, okPattern := pred.Literal.(string)
		if !ok || !okPattern {
			return false, fmt.Errorf("memory store: like on non-text operand")
		}
		return likeMatch(pattern, text), nil
	}
	cmp, err := order(value, pred.Literal)
	if err != nil {
		return false, err
	}
	switch pred.Operator {
	case observation.OpEqualTo:
		return cmp == 0, nil
	case observation.OpNotEqualTo:
		return cmp != 0, nil
	case observation.OpLessThan:
		return cmp < 0, nil
	case observation.OpLessThanOrEqualTo:
		return cmp <= 0, nil
	case observation.OpGreaterThan:
		return cmp > 0, nil
	case observation.OpGreaterThanOrEqualTo:
		return cmp >= 0, nil
	case observation.OpBetween:
		upper, err := order(value, pred.Upper)
		if err != nil {
			return false, err
		}
		return cmp >= 0 && upper <= 0, nil
	default:
		return false, fmt.Errorf("memory store: unsupported operator %s", pred.Operator)
	}
}

// compareLevel matches when any depth of the closed range [lo, hi] satisfies
// the comparison.
func compareLevel(pred observation.Compare, lo, hi decimal.Decimal) (bool, error) {
	literal, ok := pred.Literal.(decimal.Decimal)
	if !ok {
		return false, fmt.Errorf("memory store: level literal %T", pred.Literal)
	}
	switch pred.Operator {
	case observation.OpEqualTo:
		return lo.LessThanOrEqual(literal) && hi.GreaterThanOrEqual(literal), nil
	case observation.OpNotEqualTo:
		return !(lo.Equal(literal) && hi.Equal(literal)), nil
	case observation.OpLessThan:
		return lo.LessThan(literal), nil
	case observation.OpLessThanOrEqualTo:
		return lo.LessThanOrEqual(literal), nil
	case observation.OpGreaterThan:
		return hi.GreaterThan(literal), nil
	case observation.OpGreaterThanOrEqualTo:
		return hi.GreaterThanOrEqual(literal), nil
	case observation.OpBetween:
		upper, ok := pred.Upper.(decimal.Decimal)
		if !ok {
			return false, fmt.Errorf("memory store: level upper literal %T", pred.Upper)
		}
		return lo.LessThanOrEqual(upper) && hi.GreaterThanOrEqual(literal), nil
	default:
		return false, fmt.Errorf("memory store: unsupported level operator %s", pred.Operator)
	}
}

// order compares a stored value with a literal of the same kind.
func order(value, literal any) (int, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		l, ok := literal.(decimal.Decimal)
		if !ok {
			return 0, fmt.Errorf("memory store: literal %T for decimal", literal)
		}
		return v.Cmp(l), nil
	case int64:
		l, ok := literal.(int64)
		if !ok {
			return 0, fmt.Errorf("memory store: literal %T for count", literal)
		}
		switch {
		case v < l:
			return -1, nil
		case v > l:
			return 1, nil
		}
		return 0, nil
	case bool:
		l, ok := literal.(bool)
		if !ok {
			return 0, fmt.Errorf("memory store: literal %T for boolean", literal)
		}
		if v == l {
			return 0, nil
		}
		if !v {
			return -1, nil
		}
		return 1, nil
	case string:
		l, ok := literal.(string)
		if !ok {
			return 0, fmt.Errorf("memory store: literal %T for text", literal)
		}
		return strings.Compare(v, l), nil
	default:
		return 0, fmt.Errorf("memory store: unsupported value %T", value)
	}
}

// likeMatch implements SQL LIKE: % matches any run, _ one character.
func likeMatch(pattern, text string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// sortAndPage orders rows by the query's sort terms and applies offset/limit.
func sortAndPage(rows []row, q observation.Query) []row {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range q.OrderBy {
			cmp := compareField(o.Field, rows[i], rows[j])
			if cmp == 0 {
				continue
			}
			if o.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return rowID(rows[i]) < rowID(rows[j])
	})
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return nil
		}
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}

func rowID(rw row) int64 {
	if rw.obs != nil {
		return rw.obs.ID
	}
	return rw.series.ID
}

func compareField(f observation.Field, a, b row) int {
	switch f {
	case observation.FieldSeriesID:
		return compareInt(a.series.ID, b.series.ID)
	case observation.FieldObservationID:
		return compareInt(rowID(a), rowID(b))
	}
	if ta, err := timeField(f, a); err == nil {
		tb, _ := timeField(f, b)
		return ta.Compare(tb)
	}
	if sa, err := textField(f, a); err == nil {
		sb, _ := textField(f, b)
		return strings.Compare(sa, sb)
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
