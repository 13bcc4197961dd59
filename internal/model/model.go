// Package model defines domain entities shared by the repository, its backends and the transport.
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Common field names present on every record.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Collection is a named partition of records of one content type.
type Collection string

// Content collections served by the site.
const (
	BlogPosts           Collection = "blog_posts"
	Courses             Collection = "courses"
	Resources           Collection = "resources"
	PortfolioProjects   Collection = "portfolio_projects"
	DigitalProducts     Collection = "digital_products"
	Events              Collection = "events"
	Orders              Collection = "orders"
	ContactMessages     Collection = "contact_messages"
	OnboardingResponses Collection = "onboarding_responses"
	SocialMediaPosts    Collection = "social_media_posts"
)

// Collections lists every known collection in a fixed order.
var Collections = []Collection{
	BlogPosts, Courses, Resources, PortfolioProjects, DigitalProducts,
	Events, Orders, ContactMessages, OnboardingResponses, SocialMediaPosts,
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Known reports whether c is one of the site's collections.
func Known(c Collection) bool {
	for _, k := range Collections {
		if k == c {
			return true
		}
	}
	return false
}

// Validate checks that the collection name is safe to use as a table name and storage key.
func (c Collection) Validate() error {
	if !identRe.MatchString(string(c)) {
		return fmt.Errorf("bad collection name %q", string(c))
	}
	return nil
}

// ValidField reports whether name can be used as a filter or sort field.
func ValidField(name string) bool { return identRe.MatchString(name) }

// Record is the unit of storage. Data carries the type-specific payload and is
// passed through untouched by the repository.
type Record struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      map[string]any
}

// Field returns a payload value or one of the common fields by name.
func (r Record) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return r.ID, r.ID != ""
	case FieldCreatedAt:
		return r.CreatedAt, !r.CreatedAt.IsZero()
	case FieldUpdatedAt:
		return r.UpdatedAt, !r.UpdatedAt.IsZero()
	}
	v, ok := r.Data[name]
	return v, ok && v != nil
}

// Clone returns a copy whose Data map can be modified independently (shallow per value).
func (r Record) Clone() Record {
	out := r
	if r.Data != nil {
		out.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v
		}
	}
	return out
}

// MarshalJSON writes the record as one flat object: common fields plus payload.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// UnmarshalJSON reads the flat object form produced by MarshalJSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	rec, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// FromMap splits a flat object into common fields and payload. Empty timestamps stay zero.
func FromMap(m map[string]any) (Record, error) {
	var rec Record
	data := make(map[string]any, len(m))
	for k, v := range m {
		data[k] = v
	}
	if v, ok := data[FieldID]; ok {
		s, ok := v.(string)
		if !ok && v != nil {
			return Record{}, fmt.Errorf("id: want string, got %T", v)
		}
		rec.ID = s
		delete(data, FieldID)
	}
	var err error
	if rec.CreatedAt, err = popTime(data, FieldCreatedAt); err != nil {
		return Record{}, err
	}
	if rec.UpdatedAt, err = popTime(data, FieldUpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Data = data
	return rec, nil
}

// ToMap is the inverse of FromMap.
func (r Record) ToMap() map[string]any {
	m := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		m[k] = v
	}
	m[FieldID] = r.ID
	m[FieldCreatedAt] = formatTime(r.CreatedAt)
	m[FieldUpdatedAt] = formatTime(r.UpdatedAt)
	return m
}

func popTime(m map[string]any, key string) (time.Time, error) {
	v, ok := m[key]
	if !ok {
		return time.Time{}, nil
	}
	delete(m, key)
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		ts, err := ParseTime(t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", key, err)
		}
		return ts, nil
	case time.Time:
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%s: want timestamp string, got %T", key, v)
	}
}

// ParseTime accepts RFC 3339 timestamps (with or without fractional seconds) and plain dates.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Filter holds equality predicates keyed by field name.
type Filter map[string]any

// Matches reports whether every predicate holds for r. Values are compared in their
// JSON form so 3 and 3.0 or a time and its RFC 3339 string compare equal.
func (f Filter) Matches(r Record) bool {
	for k, want := range f {
		got, ok := r.Field(k)
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !sameJSON(got, want) {
			return false
		}
	}
	return true
}

func sameJSON(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		a = formatTime(ta)
		if sb, ok := b.(string); ok {
			if tb, err := ParseTime(sb); err == nil {
				b = formatTime(tb)
			}
		}
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// SortKey orders by a single field.
type SortKey struct {
	Field string `json:"field" yaml:"field"`
	Desc  bool   `json:"desc" yaml:"desc"`
}

// SortSpec is an ordered list of sort keys; earlier keys take precedence.
type SortSpec []SortKey

// Query describes a list request.
type Query struct {
	Filter Filter
	Sort   SortSpec
	Limit  int // 0 means no limit
}

// ChangeType names a remote mutation pushed over the realtime channel.
type ChangeType string

// Change types as emitted by the remote change trigger.
const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a single remote-origin change. For deletes Record carries at least the id.
type ChangeEvent struct {
	Type       ChangeType
	Collection Collection
	Record     Record
}
