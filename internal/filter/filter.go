package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/troppes/strixlog/logstreamer/internal/model"
)

// ErrInvalidPattern is returned when a regex filter does not compile.
var ErrInvalidPattern = errors.New("invalid filter pattern")

// Record is anything a filter can inspect by field name.
type Record interface {
	Field(name string) (string, bool)
}

// LogFilter decides which records are forwarded. A zero LogFilter passes
// everything.
//
// Every check only constrains records that carry the checked field: a record
// without a level is never rejected by the level filter, and likewise for
// field filters and the message regexes.
type LogFilter struct {
	mu     sync.RWMutex
	regex  []*regexp.Regexp
	fields map[string]string
	level  model.Level // empty means unset
}

// New returns a pass-all filter.
func New() *LogFilter {
	return &LogFilter{fields: make(map[string]string)}
}

// AddRegexFilter appends a message matcher. On a compile error the existing
// filters are left as they were.
func (f *LogFilter) AddRegexFilter(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	f.mu.Lock()
	f.regex = append(f.regex, re)
	f.mu.Unlock()
	return nil
}

// AddFieldFilter requires field to equal value. Last write per field wins.
func (f *LogFilter) AddFieldFilter(field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fields == nil {
		f.fields = make(map[string]string)
	}
	f.fields[field] = value
}

// SetLevelFilter replaces the required level.
func (f *LogFilter) SetLevelFilter(level model.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

// ClearFilters resets to pass-all.
func (f *LogFilter) ClearFilters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regex = nil
	f.fields = make(map[string]string)
	f.level = ""
}

// ShouldProcess reports whether r passes the configured filters.
func (f *LogFilter) ShouldProcess(r Record) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.level != "" {
		if lvl, ok := r.Field("level"); ok && lvl != string(f.level) {
			return false
		}
	}

	for field, want := range f.fields {
		if got, ok := r.Field(field); ok && got != want {
			return false
		}
	}

	// When triggered the regex check is final.
	if len(f.regex) > 0 {
		if msg, ok := r.Field("message"); ok {
			for _, re := range f.regex {
				if re.MatchString(msg) {
					return true
				}
			}
			return false
		}
	}

	return true
}

// Spec is the declarative form of a filter, as loaded from configuration.
type Spec struct {
	Regex  []string // message patterns
	Fields []string // field=value pairs
	Level  string
}

// Configure applies spec on top of the current filters. Invalid entries are
// skipped; the returned error joins all of them.
func (f *LogFilter) Configure(spec Spec) error {
	var errs []error
	for _, p := range spec.Regex {
		if err := f.AddRegexFilter(p); err != nil {
			errs = append(errs, err)
		}
	}
	for _, kv := range spec.Fields {
		field, value, ok := strings.Cut(kv, "=")
		if !ok || field == "" {
			errs = append(errs, fmt.Errorf("field filter %q: want field=value", kv))
			continue
		}
		f.AddFieldFilter(field, value)
	}
	if spec.Level != "" {
		lvl, err := model.ParseLevel(spec.Level)
		if err != nil {
			errs = append(errs, fmt.Errorf("level filter: %w", err))
		} else {
			f.SetLevelFilter(lvl)
		}
	}
	return errors.Join(errs...)
}
