// cmd/cli/typed.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/and161185/dualstore/internal/model"
)

// ------- generic builders -------

// typedRecord flattens one of the model content structs into a record.
func typedRecord(v any) (model.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return model.Record{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return model.Record{}, err
	}
	return model.FromMap(m)
}

// ------- validators -------

var reSlug = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func validDate(s string) bool {
	_, err := model.ParseTime(s)
	return err == nil
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ------- commands -------

func buildPost(args []string) (model.BlogPost, error) {
	fs := flag.NewFlagSet("add-post", flag.ContinueOnError)
	title := fs.String("title", "", "title")
	slug := fs.String("slug", "", "url slug (derived from title when empty)")
	excerpt := fs.String("excerpt", "", "excerpt")
	content := fs.String("content", "", "body, or @file to read it from a file ('@-'=stdin)")
	tags := fs.String("tags", "", "comma separated tags")
	featured := fs.Bool("featured", false, "featured post")
	publish := fs.Bool("publish", false, "publish now instead of saving a draft")
	if err := fs.Parse(args); err != nil {
		return model.BlogPost{}, err
	}
	if strings.TrimSpace(*title) == "" {
		return model.BlogPost{}, errors.New("add-post: title required")
	}
	if *slug == "" {
		*slug = slugify(*title)
	}
	if !reSlug.MatchString(*slug) {
		return model.BlogPost{}, fmt.Errorf("add-post: bad slug %q", *slug)
	}
	body := *content
	if strings.HasPrefix(body, "@") {
		b, err := readAll(strings.TrimPrefix(body, "@"))
		if err != nil {
			return model.BlogPost{}, err
		}
		body = string(b)
	}
	p := model.BlogPost{
		Title:    *title,
		Slug:     *slug,
		Excerpt:  *excerpt,
		Content:  body,
		Tags:     splitTags(*tags),
		Featured: *featured,
		Status:   "draft",
	}
	if *publish {
		p.Status = "published"
		p.PublishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return p, nil
}

// cmdAddPost creates a blog post from flags.
func cmdAddPost(ctx context.Context, g globals, args []string) error {
	p, err := buildPost(args)
	if err != nil {
		return err
	}
	rec, err := typedRecord(p)
	if err != nil {
		return err
	}
	return create(ctx, g, model.BlogPosts, rec)
}

func buildEvent(args []string) (model.Event, error) {
	fs := flag.NewFlagSet("add-event", flag.ContinueOnError)
	title := fs.String("title", "", "title")
	date := fs.String("date", "", "event date (YYYY-MM-DD or RFC 3339)")
	location := fs.String("location", "", "location")
	capacity := fs.Int("capacity", 0, "seats (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return model.Event{}, err
	}
	if *title == "" || *date == "" {
		return model.Event{}, errors.New("add-event: title and date required")
	}
	if !validDate(*date) {
		return model.Event{}, fmt.Errorf("add-event: bad date %q", *date)
	}
	if *capacity < 0 {
		return model.Event{}, errors.New("add-event: capacity must not be negative")
	}
	return model.Event{Title: *title, EventDate: *date, Location: *location, Capacity: *capacity, Status: "scheduled"}, nil
}

// cmdAddEvent creates an event from flags.
func cmdAddEvent(ctx context.Context, g globals, args []string) error {
	e, err := buildEvent(args)
	if err != nil {
		return err
	}
	rec, err := typedRecord(e)
	if err != nil {
		return err
	}
	return create(ctx, g, model.Events, rec)
}

func buildProduct(args []string) (model.DigitalProduct, error) {
	fs := flag.NewFlagSet("add-product", flag.ContinueOnError)
	name := fs.String("name", "", "product name")
	desc := fs.String("description", "", "description")
	price := fs.Float64("price", -1, "price")
	currency := fs.String("currency", "USD", "ISO currency code")
	stock := fs.Int("stock", 0, "units in stock")
	featured := fs.Bool("featured", false, "featured product")
	if err := fs.Parse(args); err != nil {
		return model.DigitalProduct{}, err
	}
	if *name == "" || *price < 0 {
		return model.DigitalProduct{}, errors.New("add-product: name and non-negative price required")
	}
	if len(*currency) != 3 {
		return model.DigitalProduct{}, fmt.Errorf("add-product: bad currency %q", *currency)
	}
	return model.DigitalProduct{
		Name:        *name,
		Description: *desc,
		Price:       *price,
		Currency:    strings.ToUpper(*currency),
		Stock:       *stock,
		Featured:    *featured,
		Active:      true,
	}, nil
}

// cmdAddProduct creates a digital product from flags.
func cmdAddProduct(ctx context.Context, g globals, args []string) error {
	p, err := buildProduct(args)
	if err != nil {
		return err
	}
	rec, err := typedRecord(p)
	if err != nil {
		return err
	}
	return create(ctx, g, model.DigitalProducts, rec)
}
