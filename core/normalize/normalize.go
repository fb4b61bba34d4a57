// Package normalize flattens vendor JSON documents into ordered path/value tuples.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/evcc-io/idconnect/util"
)

// Kind selects the index mapping applied to arrays
type Kind int

const (
	// Plain maps array elements to 1-based, zero-padded indices
	Plain Kind = iota
	// Status maps data and field arrays to their ids
	Status
	// Trips maps trip arrays to their trip ids
	Trips
)

func (k Kind) String() string {
	switch k {
	case Status:
		return "status"
	case Trips:
		return "trips"
	default:
		return "plain"
	}
}

// Tuple is a single flattened value
type Tuple struct {
	Path    string
	Value   interface{}
	Unit    string
	Name    string
	Channel bool
}

// Normalizer flattens documents
type Normalizer struct {
	log   *util.Logger
	trips int
}

// New creates a normalizer keeping at most trips entries of trip documents, zero keeps all
func New(log *util.Logger, trips int) *Normalizer {
	return &Normalizer{log: log, trips: trips}
}

type field struct {
	id   string
	unit string
}

type dataEntry struct {
	id     string
	fields []field
}

type walker struct {
	kind   Kind
	data   []dataEntry
	trips  []string
	res    []Tuple
	dataIx int
}

// Normalize flattens doc depth-first with sorted object keys.
// The result is deterministic for a given input.
func (n *Normalizer) Normalize(kind Kind, doc interface{}) ([]Tuple, error) {
	w := &walker{kind: kind, dataIx: -1}

	switch kind {
	case Status:
		w.data = statusLookup(doc)
	case Trips:
		doc = n.limitTrips(doc)
		w.trips = tripLookup(doc)
	}

	if err := w.walk(nil, "", doc); err != nil {
		return nil, err
	}

	return w.res, nil
}

// limitTrips sorts tripData by timestamp descending and keeps the newest entries
func (n *Normalizer) limitTrips(doc interface{}) interface{} {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return doc
	}

	trips, ok := m["tripData"].([]interface{})
	if !ok {
		return doc
	}

	sorted := make([]interface{}, len(trips))
	copy(sorted, trips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return timestamp(sorted[i]) > timestamp(sorted[j])
	})

	if n.trips > 0 && len(sorted) > n.trips {
		sorted = sorted[:n.trips]
	}

	res := make(map[string]interface{}, len(m))
	for k, v := range m {
		res[k] = v
	}
	res["tripData"] = sorted

	return res
}

func timestamp(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		if ts, ok := m["timestamp"].(string); ok {
			return ts
		}
	}
	return ""
}

func statusLookup(doc interface{}) []dataEntry {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil
	}

	data, ok := m["data"].([]interface{})
	if !ok {
		return nil
	}

	res := make([]dataEntry, len(data))
	for i, d := range data {
		dm, ok := d.(map[string]interface{})
		if !ok {
			continue
		}

		res[i].id = scalar(dm["id"])

		fields, _ := dm["field"].([]interface{})
		res[i].fields = make([]field, len(fields))
		for j, f := range fields {
			if fm, ok := f.(map[string]interface{}); ok {
				res[i].fields[j] = field{id: scalar(fm["id"]), unit: scalar(fm["unit"])}
			}
		}
	}

	return res
}

func tripLookup(doc interface{}) []string {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil
	}

	trips, _ := m["tripData"].([]interface{})

	res := make([]string, len(trips))
	for i, t := range trips {
		if tm, ok := t.(map[string]interface{}); ok {
			res[i] = scalar(tm["tripID"])
		}
	}

	return res
}

// scalar formats ids and units, non-scalars yield an empty string
func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// emit adds a leaf, the field unit only applies to leaves keyed value
func (w *walker) emit(path []string, val interface{}, unit string) {
	if len(path) == 0 || path[len(path)-1] != "value" {
		unit = ""
	}

	w.res = append(w.res, Tuple{
		Path:  strings.Join(path, "."),
		Value: val,
		Unit:  unit,
	})
}

func (w *walker) channel(path []string, name string) {
	w.res = append(w.res, Tuple{
		Path:    strings.Join(path, "."),
		Name:    name,
		Channel: true,
	})
}

// walk visits node stored at path, unit is inherited from the enclosing status field
func (w *walker) walk(path []string, unit string, node interface{}) error {
	switch v := node.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			w.emit(path, "{}", "")
			return nil
		}

		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			child := append(append([]string{}, path...), k)

			if err := w.walk(child, unit, v[k]); err != nil {
				return err
			}
		}

	case []interface{}:
		if len(v) == 0 {
			w.emit(path, "[]", "")
			return nil
		}

		for i, el := range v {
			if err := w.element(path, unit, i, el); err != nil {
				return err
			}
		}

	case string:
		if parsed, ok := embeddedJSON(v); ok {
			return w.walk(path, unit, parsed)
		}
		w.emit(path, coerce(v), unit)

	case float64, bool, nil, int, int64, json.Number:
		w.emit(path, v, unit)

	default:
		return fmt.Errorf("unsupported type %T at %s", node, strings.Join(path, "."))
	}

	return nil
}

// element visits the array element at index i of the array stored at path
func (w *walker) element(path []string, unit string, i int, el interface{}) error {
	var parent string
	if len(path) > 0 {
		parent = path[len(path)-1]
	}

	key := fmt.Sprintf("%02d", i+1)
	var name string

	switch {
	case w.kind == Status && parent == "data":
		if i >= len(w.data) || w.data[i].id == "" {
			return nil
		}
		w.dataIx = i
		key = "_" + w.data[i].id
		name = textID(el)

	case w.kind == Status && parent == "field" && w.dataIx >= 0:
		fields := w.data[w.dataIx].fields
		if i >= len(fields) || fields[i].id == "" {
			return nil
		}
		key = "_" + fields[i].id
		unit = fields[i].unit
		name = textID(el)

	case w.kind == Trips && parent == "tripData":
		if i >= len(w.trips) || w.trips[i] == "" {
			return nil
		}
		key = "_" + w.trips[i]
		name = timestamp(el)
	}

	child := append([]string{}, path...)
	if len(child) > 0 {
		child[len(child)-1] += key
	} else {
		child = append(child, key)
	}

	if name != "" {
		w.channel(child, name)
	}

	return w.walk(child, unit, el)
}

func textID(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		return scalar(m["textId"])
	}
	return ""
}

// embeddedJSON parses strings holding JSON objects or arrays
func embeddedJSON(s string) (interface{}, bool) {
	t := strings.TrimSpace(s)
	if len(t) < 2 || !(t[0] == '{' && t[len(t)-1] == '}' || t[0] == '[' && t[len(t)-1] == ']') {
		return nil, false
	}

	var res interface{}
	if err := json.Unmarshal([]byte(t), &res); err != nil {
		return nil, false
	}

	return res, true
}

// coerce converts numeric strings to numbers
func coerce(s string) interface{} {
	if s == "" {
		return s
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}

	return f
}
