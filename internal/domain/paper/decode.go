package paper

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// UnmarshalJSON decodes a record field by field. A malformed optional field
// falls back to its default and is listed in Degraded instead of failing the
// whole record; only a payload that is not a JSON object is an error.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d := fieldDecoder{raw: raw}
	out := Record{}

	out.ID = d.int64("id")
	if out.ID == 0 {
		// Search index documents carry the id as a string "_id".
		if id := d.int64("_id"); id != 0 {
			out.ID = id
			d.clear("id")
		}
	}
	out.Title = d.string("title")
	out.Year = int(d.int64("year"))
	out.NCitation = int(d.int64("n_citation"))
	out.DocType = d.string("doc_type")
	out.Publisher = d.string("publisher")
	out.References = d.int64s("references", false)
	out.NReference = int(d.int64("n_reference"))
	if out.NReference == 0 {
		out.NReference = int(d.int64("n_references"))
	}
	out.AuthorNames = d.strings("author_names")
	out.AuthorOrgs = d.strings("author_orgs")
	out.AuthorIDs = d.int64s("author_ids", true)
	out.VenueName = d.string("venue_name")
	out.VenueID = d.int64("venue_id")
	out.VenueType = d.string("venue_type")
	out.FOSNames = d.strings("fos_names")
	out.FOSWeights = d.float64s("fos_ws")
	out.Degraded = d.degraded

	*r = out
	return nil
}

type fieldDecoder struct {
	raw      map[string]json.RawMessage
	degraded []string
}

func (d *fieldDecoder) value(key string) (any, bool) {
	raw, ok := d.raw[key]
	if !ok {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		d.degrade(key)
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

func (d *fieldDecoder) degrade(key string) {
	for _, k := range d.degraded {
		if k == key {
			return
		}
	}
	d.degraded = append(d.degraded, key)
}

func (d *fieldDecoder) clear(key string) {
	out := d.degraded[:0]
	for _, k := range d.degraded {
		if k != key {
			out = append(out, k)
		}
	}
	d.degraded = out
}

func (d *fieldDecoder) string(key string) string {
	v, ok := d.value(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.degrade(key)
		return ""
	}
	return s
}

func (d *fieldDecoder) int64(key string) int64 {
	v, ok := d.value(key)
	if !ok {
		return 0
	}
	n, ok := toInt64(v)
	if !ok {
		d.degrade(key)
		return 0
	}
	return n
}

// int64s decodes an integer array. With keepPositions a malformed element
// becomes 0 so that parallel arrays stay aligned; otherwise it is dropped.
func (d *fieldDecoder) int64s(key string, keepPositions bool) []int64 {
	v, ok := d.value(key)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		d.degrade(key)
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		n, ok := toInt64(item)
		if !ok {
			d.degrade(key)
			if keepPositions {
				out = append(out, 0)
			}
			continue
		}
		out = append(out, n)
	}
	return out
}

func (d *fieldDecoder) strings(key string) []string {
	v, ok := d.value(key)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		d.degrade(key)
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			if item != nil {
				d.degrade(key)
			}
			s = ""
		}
		out = append(out, s)
	}
	return out
}

func (d *fieldDecoder) float64s(key string) []float64 {
	v, ok := d.value(key)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		d.degrade(key)
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := toFloat64(item)
		if !ok {
			d.degrade(key)
			f = MissingWeight
		}
		out = append(out, f)
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return floatToInt64(t)
	default:
		return 0, false
	}
}

// floatToInt64 accepts whole numbers in [-2^63, 2^63). float64(MaxInt64)
// rounds up to 2^63, which does not fit.
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case float64:
		return t, true
	default:
		return 0, false
	}
}
