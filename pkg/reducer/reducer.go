// Package reducer folds a subject's observations into a snapshot. Everything
// here is a pure function of (schema, observations).
package reducer

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Subject identifies what is being reduced.
type Subject struct {
	ID   string
	Kind models.SubjectKind
}

// Reduce builds the snapshot of subject from its observations under s.
// Fields that s no longer declares, and does not allow as unknown, are omitted.
func Reduce(s *models.Schema, subject Subject, observations []models.Observation) *models.Snapshot {
	ordered := Order(observations)

	byField := map[string][]models.Observation{}
	for _, obs := range ordered {
		byField[obs.FieldName] = append(byField[obs.FieldName], obs)
	}

	names := make([]string, 0, len(byField))
	for name := range byField {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshot := &models.Snapshot{
		SubjectID:        subject.ID,
		SubjectKind:      subject.Kind,
		Type:             s.TypeName,
		SchemaVersion:    s.Version,
		Fields:           map[string]any{},
		Provenance:       map[string]models.FieldProvenance{},
		ObservationCount: len(ordered),
	}

	for _, name := range names {
		def, ok := s.Field(name)
		if !ok {
			continue
		}

		var (
			value any
			prov  models.FieldProvenance
			keep  bool
		)
		switch def.Reducer {
		case models.ReducerSum:
			value, prov, keep = reduceSum(byField[name])
		case models.ReducerSet:
			value, prov, keep = reduceSet(byField[name])
		case models.ReducerAppend:
			value, prov, keep = reduceAppend(byField[name])
		default:
			value, prov, keep = reduceLatest(byField[name])
		}
		if !keep {
			continue
		}

		prov.Reducer = def.Reducer
		if prov.Reducer == "" {
			prov.Reducer = models.ReducerLatest
		}
		snapshot.Fields[name] = value
		snapshot.Provenance[name] = prov
	}

	return snapshot
}

// Order returns a copy of observations sorted ascending by (created_at, id).
func Order(observations []models.Observation) []models.Observation {
	ordered := make([]models.Observation, len(observations))
	copy(ordered, observations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return before(ordered[i], ordered[j])
	})
	return ordered
}

func before(a, b models.Observation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// reduceLatest picks the top of (is_correction desc, created_at desc, id desc).
func reduceLatest(group []models.Observation) (any, models.FieldProvenance, bool) {
	var winner *models.Observation
	for i := range group {
		obs := &group[i]
		if winner == nil || (obs.IsCorrection && !winner.IsCorrection) || obs.IsCorrection == winner.IsCorrection {
			winner = obs
		}
	}
	if winner == nil {
		return nil, models.FieldProvenance{}, false
	}

	return decode(winner.Value.Data), models.FieldProvenance{
		ObservationIDs: []string{winner.ID},
		SourceIDs:      []string{winner.SourceID},
		Corrected:      winner.IsCorrection,
	}, true
}

// reduceSum adds raw values in (created_at, id) order. The latest correction,
// if any, replaces the total.
func reduceSum(group []models.Observation) (any, models.FieldProvenance, bool) {
	var correction *models.Observation
	for i := range group {
		if group[i].IsCorrection {
			correction = &group[i]
		}
	}
	if correction != nil {
		if n, ok := number(correction.Value.Data); ok {
			return n.value(), models.FieldProvenance{
				ObservationIDs: []string{correction.ID},
				SourceIDs:      []string{correction.SourceID},
				Corrected:      true,
			}, true
		}
	}

	total := numeric{integral: true}
	var ids, sources []string
	for _, obs := range group {
		if obs.IsCorrection {
			continue
		}
		n, ok := number(obs.Value.Data)
		if !ok {
			continue
		}
		total = total.add(n)
		ids = append(ids, obs.ID)
		sources = append(sources, obs.SourceID)
	}
	if len(ids) == 0 {
		return nil, models.FieldProvenance{}, false
	}

	return total.value(), models.FieldProvenance{
		ObservationIDs: ids,
		SourceIDs:      uniqueSorted(sources),
	}, true
}

// reduceSet unions raw values, then applies corrections in order: a plain
// correction adds its value and a tombstone removes it. Members keep first-seen order.
func reduceSet(group []models.Observation) (any, models.FieldProvenance, bool) {
	type member struct {
		value any
		ids   []string
		srcs  []string
	}

	var order []string
	members := map[string]*member{}
	add := func(key string, raw json.RawMessage, obs models.Observation) {
		m, ok := members[key]
		if !ok {
			m = &member{value: decode(raw)}
			members[key] = m
			order = append(order, key)
		}
		m.ids = append(m.ids, obs.ID)
		m.srcs = append(m.srcs, obs.SourceID)
	}

	for _, obs := range group {
		if obs.IsCorrection {
			continue
		}
		if key, ok := setKey(obs.Value.Data); ok {
			add(key, obs.Value.Data, obs)
		}
	}

	corrected := false
	var tombstoneIDs, tombstoneSrcs []string
	for _, obs := range group {
		if !obs.IsCorrection {
			continue
		}
		corrected = true
		if inner, isTombstone := models.ParseTombstone(obs.Value.Data); isTombstone {
			if key, ok := setKey(inner); ok {
				delete(members, key)
			}
			tombstoneIDs = append(tombstoneIDs, obs.ID)
			tombstoneSrcs = append(tombstoneSrcs, obs.SourceID)
			continue
		}
		if key, ok := setKey(obs.Value.Data); ok {
			add(key, obs.Value.Data, obs)
		}
	}

	values := []any{}
	var ids, sources []string
	for _, key := range order {
		m, ok := members[key]
		if !ok {
			continue
		}
		values = append(values, m.value)
		ids = append(ids, m.ids...)
		sources = append(sources, m.srcs...)
	}
	ids = append(ids, tombstoneIDs...)
	sources = append(sources, tombstoneSrcs...)

	return values, models.FieldProvenance{
		ObservationIDs: uniqueSorted(ids),
		SourceIDs:      uniqueSorted(sources),
		Corrected:      corrected,
	}, true
}

// reduceAppend keeps every observation as an entry, oldest first.
func reduceAppend(group []models.Observation) (any, models.FieldProvenance, bool) {
	entries := make([]models.AppendEntry, 0, len(group))
	var ids, sources []string
	corrected := false
	for _, obs := range group {
		entries = append(entries, models.AppendEntry{
			Value:         decode(obs.Value.Data),
			SourceID:      obs.SourceID,
			ObservationID: obs.ID,
			IsCorrection:  obs.IsCorrection,
			CreatedAt:     obs.CreatedAt.UTC(),
		})
		ids = append(ids, obs.ID)
		sources = append(sources, obs.SourceID)
		corrected = corrected || obs.IsCorrection
	}

	return entries, models.FieldProvenance{
		ObservationIDs: ids,
		SourceIDs:      uniqueSorted(sources),
		Corrected:      corrected,
	}, true
}

// decode keeps numbers as their literal text so re-encoding is lossless.
func decode(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func setKey(raw json.RawMessage) (string, bool) {
	key, err := fingerprint.CanonicalJSON(raw)
	if err != nil {
		return "", false
	}
	return key, true
}

// numeric accumulates integers exactly and falls back to float64 once a
// non-integral value is seen.
type numeric struct {
	integral bool
	i        int64
	f        float64
}

func number(raw json.RawMessage) (numeric, bool) {
	n, ok := decode(raw).(json.Number)
	if !ok {
		return numeric{}, false
	}
	if i, err := n.Int64(); err == nil {
		return numeric{integral: true, i: i, f: float64(i)}, true
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return numeric{}, false
	}
	return numeric{f: f}, true
}

func (n numeric) add(o numeric) numeric {
	if n.integral && o.integral {
		return numeric{integral: true, i: n.i + o.i, f: float64(n.i + o.i)}
	}
	return numeric{f: n.f + o.f}
}

func (n numeric) value() any {
	if n.integral {
		return json.Number(strconv.FormatInt(n.i, 10))
	}
	return json.Number(strconv.FormatFloat(n.f, 'f', -1, 64))
}

func uniqueSorted(values []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
