package repository

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/and161185/dualstore/internal/model"
)

// Common sort specs used by the site's list pages.

// ByDateDesc orders newest first by a date field.
func ByDateDesc(field string) model.SortSpec { return model.SortSpec{{Field: field, Desc: true}} }

// ByDateAsc orders oldest first by a date field.
func ByDateAsc(field string) model.SortSpec { return model.SortSpec{{Field: field}} }

// FeaturedThenDate puts featured records first, newest first within each group.
func FeaturedThenDate(field string) model.SortSpec {
	return model.SortSpec{{Field: "featured", Desc: true}, {Field: field, Desc: true}}
}

// ByRatingDesc orders by rating, highest first.
func ByRatingDesc() model.SortSpec { return model.SortSpec{{Field: "rating", Desc: true}} }

// Sort returns a sorted copy of recs. The order is total: after the spec's keys,
// ties break on created_at and then id, so the result does not depend on input order.
// Records missing a key sort after those that have it, in either direction; an
// absent flag is not read as false.
func Sort(recs []model.Record, spec model.SortSpec) []model.Record {
	out := make([]model.Record, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		return Compare(out[i], out[j], spec) < 0
	})
	return out
}

// Compare is the single comparator behind every list operation.
func Compare(a, b model.Record, spec model.SortSpec) int {
	for _, k := range spec {
		av, aok := a.Field(k.Field)
		bv, bok := b.Field(k.Field)
		if c := compareKey(av, aok, bv, bok, k.Desc); c != 0 {
			return c
		}
	}
	if c := compareKey(a.CreatedAt, !a.CreatedAt.IsZero(), b.CreatedAt, !b.CreatedAt.IsZero(), false); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareKey(av any, aok bool, bv any, bok bool, desc bool) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	c := compareValues(av, bv)
	if desc {
		c = -c
	}
	return c
}

type rank int

const (
	rankBool rank = iota
	rankNumber
	rankTime
	rankString
	rankOther
)

func classify(v any) (rank, any) {
	switch x := v.(type) {
	case bool:
		return rankBool, x
	case float64:
		return rankNumber, x
	case float32:
		return rankNumber, float64(x)
	case int:
		return rankNumber, float64(x)
	case int32:
		return rankNumber, float64(x)
	case int64:
		return rankNumber, float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return rankNumber, f
		}
		return rankString, x.String()
	case time.Time:
		return rankTime, x
	case string:
		if t, err := model.ParseTime(x); err == nil {
			return rankTime, t
		}
		return rankString, x
	default:
		b, _ := json.Marshal(x)
		return rankOther, string(b)
	}
}

func compareValues(a, b any) int {
	ra, va := classify(a)
	rb, vb := classify(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankBool:
		x, y := va.(bool), vb.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case rankNumber:
		x, y := va.(float64), vb.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case rankTime:
		return va.(time.Time).Compare(vb.(time.Time))
	default:
		return strings.Compare(va.(string), vb.(string))
	}
}
