package query

import observation "sos-cloud/internal/observation/domain"

// identityDimension is one identity set of a filter and the field it constrains.
type identityDimension struct {
	field  observation.Field
	values []string
}

// dedupe drops empty and repeated identifiers while keeping first-seen order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// splitBatches cuts values into consecutive batches of at most size elements.
func splitBatches(values []string, size int) [][]string {
	if size <= 0 || len(values) <= size {
		return [][]string{values}
	}
	batches := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		batches = append(batches, values[start:end])
	}
	return batches
}

// identityBatches turns the identity sets of a filter into the cartesian
// product of per-dimension batches. Each element is the list of In predicates
// for one backend query; nil dimensions are unconstrained and contribute
// nothing. A dimension holding only empty identifiers matches no series, so
// no batch is returned. Batches of one dimension are disjoint, so the union
// of the resulting queries has no duplicates.
func identityBatches(f observation.Filter, maxInList int) [][]observation.Predicate {
	dims := []identityDimension{
		{field: observation.FieldProcedure, values: f.Procedures},
		{field: observation.FieldObservableProperty, values: f.ObservableProperties},
		{field: observation.FieldFeatureOfInterest, values: f.Features},
		{field: observation.FieldOffering, values: f.Offerings},
	}

	combos := [][]observation.Predicate{nil}
	for _, dim := range dims {
		if len(dim.values) == 0 {
			continue
		}
		values := dedupe(dim.values)
		if len(values) == 0 {
			return nil
		}
		batches := splitBatches(values, maxInList)
		next := make([][]observation.Predicate, 0, len(combos)*len(batches))
		for _, combo := range combos {
			for _, batch := range batches {
				extended := make([]observation.Predicate, len(combo), len(combo)+1)
				copy(extended, combo)
				extended = append(extended, observation.In{Field: dim.field, Values: batch})
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}
