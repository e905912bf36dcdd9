// Package filter narrows a scan to messages whose decoded headers or body
// match regular expressions.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/spam-report/model"
)

// Options captures the filtering configuration. Header patterns are matched
// against "Subject: ...", "From: ..." and "Date: ..." lines built from the
// decoded fields; body patterns against the decoded body text.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type mode int

const (
	modeOff mode = iota
	modeInclude
	modeExclude
)

// patterns is an OR of compiled expressions. An empty set matches nothing.
type patterns []*regexp.Regexp

func (p patterns) match(text string) bool {
	for _, re := range p {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Filter is either an allow-list or a block-list over headers and body,
// never both.
type Filter struct {
	mode   mode
	header patterns
	body   patterns
}

// New compiles opts. Mixing include and exclude patterns is an error.
func New(opts Options) (*Filter, error) {
	var sets [4]patterns
	for i, src := range []struct {
		name string
		list []string
	}{
		{"include-header", opts.IncludeHeader},
		{"include-body", opts.IncludeBody},
		{"exclude-header", opts.ExcludeHeader},
		{"exclude-body", opts.ExcludeBody},
	} {
		compiled, err := compile(src.list)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", src.name, err)
		}
		sets[i] = compiled
	}

	include := len(sets[0]) > 0 || len(sets[1]) > 0
	exclude := len(sets[2]) > 0 || len(sets[3]) > 0
	switch {
	case include && exclude:
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	case include:
		return &Filter{mode: modeInclude, header: sets[0], body: sets[1]}, nil
	case exclude:
		return &Filter{mode: modeExclude, header: sets[2], body: sets[3]}, nil
	default:
		return &Filter{mode: modeOff}, nil
	}
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && f.mode != modeOff
}

// Allows reports whether msg passes. A nil Filter allows everything.
func (f *Filter) Allows(msg model.ParsedMessage) bool {
	if !f.Active() {
		return true
	}

	hit := f.body.match(msg.Body)
	if !hit && len(f.header) > 0 {
		hit = f.header.match(HeaderText(msg))
	}
	if f.mode == modeInclude {
		return hit
	}
	return !hit
}

// HeaderText renders the decoded header fields present on msg, one per line.
func HeaderText(msg model.ParsedMessage) string {
	var b strings.Builder
	line := func(name, value string, ok bool) {
		if ok {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteByte('\n')
		}
	}
	line("Subject", msg.Subject, msg.HasSubject)
	line("From", msg.From, msg.HasFrom)
	line("Date", msg.Date, msg.HasDate)
	return b.String()
}

func compile(list []string) (patterns, error) {
	var out patterns
	for _, expr := range list {
		if expr = strings.TrimSpace(expr); expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}
