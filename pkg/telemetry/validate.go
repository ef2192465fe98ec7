package telemetry

// Anomalies maps a field name to its out-of-range value.
type Anomalies map[string]float64

// Detect returns the fields of rec whose values fall strictly outside
// their configured range. A value exactly on a bound is in range. Fields
// absent from either the record or the table are skipped silently, as are
// values that did not decode as JSON numbers: no coercion is applied. A
// non-numeric value for a configured field is neither an anomaly nor an
// error; the record still flows to the sink unchanged.
//
// Detect is pure: it performs no I/O and the same inputs always produce
// the same result.
func Detect(rec Record, table RangeTable) Anomalies {
	anomalies := Anomalies{}
	for field, r := range table {
		raw, ok := rec[field]
		if !ok {
			continue
		}
		value, ok := raw.(float64)
		if !ok {
			continue
		}
		if value < r.Low || value > r.High {
			anomalies[field] = value
		}
	}
	return anomalies
}
