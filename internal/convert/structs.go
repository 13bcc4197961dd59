// Package convert maps domain values to and from the structpb messages carried by
// the gRPC content service.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
)

// Request and response keys.
const (
	KeyCollection = "collection"
	KeyID         = "id"
	KeyFilter     = "filter"
	KeySort       = "sort"
	KeyLimit      = "limit"
	KeyRecord     = "record"
	KeyRecords    = "records"
	KeyFields     = "fields"
	KeyDeleted    = "deleted"
	KeyType       = "type"
)

func bad(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// toStruct goes through JSON so any payload that marshals (typed slices, nested
// structs) is accepted.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ToStruct converts a record to its flat message form.
func ToStruct(r model.Record) (*structpb.Struct, error) {
	s, err := toStruct(r)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.ID, err)
	}
	return s, nil
}

// FromStruct converts a flat message to a record.
func FromStruct(s *structpb.Struct) (model.Record, error) {
	if s == nil {
		return model.Record{}, bad("nil record")
	}
	rec, err := model.FromMap(s.AsMap())
	if err != nil {
		return model.Record{}, bad("record: %v", err)
	}
	return rec, nil
}

// ToListValue converts records for a list response.
func ToListValue(recs []model.Record) (*structpb.Struct, error) {
	items := make([]any, 0, len(recs))
	for _, r := range recs {
		items = append(items, r)
	}
	return toStruct(map[string]any{KeyRecords: items})
}

// FromListValue reads a list response.
func FromListValue(s *structpb.Struct) ([]model.Record, error) {
	lv := s.GetFields()[KeyRecords].GetListValue()
	out := make([]model.Record, 0, len(lv.GetValues()))
	for i, v := range lv.GetValues() {
		rec, err := FromStruct(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Collection reads the required collection name of a request.
func Collection(s *structpb.Struct) (model.Collection, error) {
	c := s.GetFields()[KeyCollection].GetStringValue()
	if c == "" {
		return "", bad("missing collection")
	}
	return model.Collection(c), nil
}

// ID reads the id of a point request.
func ID(s *structpb.Struct) string { return s.GetFields()[KeyID].GetStringValue() }

// Fields reads an update payload.
func Fields(s *structpb.Struct) map[string]any {
	f := s.GetFields()[KeyFields].GetStructValue()
	if f == nil {
		return nil
	}
	return f.AsMap()
}

// Record reads the record of a create request.
func Record(s *structpb.Struct) (model.Record, error) {
	return FromStruct(s.GetFields()[KeyRecord].GetStructValue())
}

// Filter reads an optional filter object.
func Filter(s *structpb.Struct) (model.Filter, error) {
	v, ok := s.GetFields()[KeyFilter]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	obj := v.GetStructValue()
	if obj == nil {
		return nil, bad("filter must be an object")
	}
	return model.Filter(obj.AsMap()), nil
}

// QueryFromStruct decodes a list request.
func QueryFromStruct(s *structpb.Struct) (model.Collection, model.Query, error) {
	c, err := Collection(s)
	if err != nil {
		return "", model.Query{}, err
	}
	var q model.Query
	if q.Filter, err = Filter(s); err != nil {
		return "", model.Query{}, err
	}
	if v, ok := s.GetFields()[KeySort]; ok {
		if q.Sort, err = ParseSort(v.AsInterface()); err != nil {
			return "", model.Query{}, err
		}
	}
	if v, ok := s.GetFields()[KeyLimit]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue < 0 || n.NumberValue > math.MaxInt32 {
			return "", model.Query{}, bad("limit must be a non-negative integer")
		}
		q.Limit = int(n.NumberValue)
	}
	return c, q, nil
}

// ParseSort accepts "-published_at,title", a list of such strings, or a list of
// {field, desc} objects. A leading '-' means descending.
func ParseSort(v any) (model.SortSpec, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		var spec model.SortSpec
		for _, part := range strings.Split(x, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			spec = append(spec, sortKey(part))
		}
		return spec, nil
	case []any:
		spec := make(model.SortSpec, 0, len(x))
		for i, item := range x {
			switch it := item.(type) {
			case string:
				spec = append(spec, sortKey(it))
			case map[string]any:
				field, _ := it["field"].(string)
				if field == "" {
					return nil, bad("sort[%d]: missing field", i)
				}
				desc, _ := it["desc"].(bool)
				spec = append(spec, model.SortKey{Field: field, Desc: desc})
			default:
				return nil, bad("sort[%d]: unexpected %T", i, item)
			}
		}
		return spec, nil
	default:
		return nil, bad("sort: unexpected %T", v)
	}
}

func sortKey(s string) model.SortKey {
	if strings.HasPrefix(s, "-") {
		return model.SortKey{Field: s[1:], Desc: true}
	}
	return model.SortKey{Field: strings.TrimPrefix(s, "+")}
}

// FormatSort is the inverse of the string form of ParseSort.
func FormatSort(spec model.SortSpec) string {
	parts := make([]string, 0, len(spec))
	for _, k := range spec {
		if k.Desc {
			parts = append(parts, "-"+k.Field)
			continue
		}
		parts = append(parts, k.Field)
	}
	return strings.Join(parts, ",")
}

// QueryToStruct builds a list request.
func QueryToStruct(c model.Collection, q model.Query) (*structpb.Struct, error) {
	m := map[string]any{KeyCollection: string(c)}
	if len(q.Filter) > 0 {
		m[KeyFilter] = map[string]any(q.Filter)
	}
	if len(q.Sort) > 0 {
		m[KeySort] = FormatSort(q.Sort)
	}
	if q.Limit > 0 {
		m[KeyLimit] = q.Limit
	}
	return toStruct(m)
}

// ChangeToStruct converts a change notification for the Watch stream.
func ChangeToStruct(ev model.ChangeEvent) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		KeyType:       string(ev.Type),
		KeyCollection: string(ev.Collection),
		KeyRecord:     ev.Record,
	})
}

// ChangeFromStruct reads a Watch stream message.
func ChangeFromStruct(s *structpb.Struct) (model.ChangeEvent, error) {
	rec, err := Record(s)
	if err != nil {
		return model.ChangeEvent{}, err
	}
	return model.ChangeEvent{
		Type:       model.ChangeType(s.GetFields()[KeyType].GetStringValue()),
		Collection: model.Collection(s.GetFields()[KeyCollection].GetStringValue()),
		Record:     rec,
	}, nil
}

// Request builds a generic request from key/value pairs.
func Request(m map[string]any) (*structpb.Struct, error) { return toStruct(m) }
