package extraction

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies an extraction outcome.
type Kind int

const (
	// KindNone means nothing balance-related was heard.
	KindNone Kind = iota
	// KindManualReview means balance keywords were heard but no amount could be parsed.
	KindManualReview
	// KindDefinite means at least one amount was extracted.
	KindDefinite
)

func (k Kind) String() string {
	switch k {
	case KindDefinite:
		return "definite"
	case KindManualReview:
		return "manual_review"
	default:
		return "none"
	}
}

// Match is the result of running the engine over one utterance.
type Match struct {
	Value string
	Kind  Kind
}

const (
	financialInfoPrefix = "Financial Info: "
	manualReviewPrefix  = "Financial Info Detected: "
	defaultSeparator    = " | "
)

type compiledCategory struct {
	Category
	patterns []*regexp.Regexp
}

// Engine turns free-form transcribed speech into a structured balance string.
// It holds no mutable state after construction and is safe for concurrent use.
type Engine struct {
	categories []compiledCategory
	keywords   []string
	separator  string
	generic    []*regexp.Regexp
}

// Option customises an Engine.
type Option func(*options)

type options struct {
	keywords  []string
	extra     []Category
	separator string
}

// WithKeywords replaces the balance keyword list. An empty list keeps the defaults.
func WithKeywords(keywords []string) Option {
	return func(o *options) {
		if len(keywords) > 0 {
			o.keywords = keywords
		}
	}
}

// WithCategory adds a category after the built-in ones, or replaces the built-in one with the same key.
func WithCategory(c Category) Option {
	return func(o *options) {
		o.extra = append(o.extra, c)
	}
}

// WithSeparator sets the string placed between rendered categories.
func WithSeparator(sep string) Option {
	return func(o *options) {
		if sep != "" {
			o.separator = sep
		}
	}
}

// New compiles the category tables.
func New(opts ...Option) (*Engine, error) {
	o := options{
		keywords:  DefaultKeywords,
		separator: defaultSeparator,
	}
	for _, opt := range opts {
		opt(&o)
	}

	categories := DefaultCategories()
	for _, extra := range o.extra {
		replaced := false
		for i := range categories {
			if categories[i].Key == extra.Key {
				categories[i] = extra
				replaced = true
				break
			}
		}
		if !replaced {
			categories = append(categories, extra)
		}
	}

	e := &Engine{separator: o.separator}
	for _, c := range categories {
		if c.Key == "" {
			return nil, fmt.Errorf("extraction: category without key")
		}
		if c.Label == "" {
			c.Label = labelFor(c.Key)
		}
		cc := compiledCategory{Category: c}
		for _, trigger := range c.Triggers {
			re, err := regexp.Compile(trigger + `.*?(?:is|of)?\s*(` + amountPattern + `)`)
			if err != nil {
				return nil, fmt.Errorf("extraction: category %s trigger %q: %w", c.Key, trigger, err)
			}
			cc.patterns = append(cc.patterns, re)
		}
		e.categories = append(e.categories, cc)
	}

	for _, kw := range o.keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			e.keywords = append(e.keywords, kw)
		}
	}

	for _, p := range genericPatterns {
		e.generic = append(e.generic, regexp.MustCompile(p))
	}
	return e, nil
}

// MustNew is New that panics on a bad pattern. Meant for the built-in tables.
func MustNew(opts ...Option) *Engine {
	e, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Extract returns the rendered balance string for text, or "" when nothing was found.
func (e *Engine) Extract(text string) string {
	return e.Match(text).Value
}

// Match runs the extraction and reports how confident the result is.
func (e *Engine) Match(text string) Match {
	if strings.TrimSpace(text) == "" {
		return Match{}
	}
	lower := strings.ToLower(text)

	found := make(map[string]string, len(e.categories))
	var encountered []compiledCategory
	for _, c := range e.categories {
		for _, re := range c.patterns {
			m := re.FindStringSubmatch(lower)
			if m == nil {
				continue
			}
			if amount := normalizeAmount(m[1]); amount != "" {
				found[c.Key] = amount
				encountered = append(encountered, c)
				break
			}
		}
	}

	if len(found) > 0 {
		return Match{Value: e.render(found, encountered), Kind: KindDefinite}
	}

	if !e.hasKeyword(lower) {
		return Match{}
	}

	for _, re := range e.generic {
		if m := re.FindStringSubmatch(lower); m != nil {
			if amount := normalizeAmount(m[1]); amount != "" {
				return Match{Value: financialInfoPrefix + amount, Kind: KindDefinite}
			}
		}
	}

	return Match{Value: manualReviewPrefix + text, Kind: KindManualReview}
}

func (e *Engine) render(found map[string]string, encountered []compiledCategory) string {
	parts := make([]string, 0, len(found))
	labels := make(map[string]string, len(encountered))
	for _, c := range encountered {
		labels[c.Key] = c.Label
	}

	prioritized := make(map[string]struct{}, len(DisplayPriority))
	for _, key := range DisplayPriority {
		prioritized[key] = struct{}{}
		if amount, ok := found[key]; ok {
			parts = append(parts, labels[key]+": "+amount)
		}
	}
	for _, c := range encountered {
		if _, ok := prioritized[c.Key]; ok {
			continue
		}
		parts = append(parts, c.Label+": "+found[c.Key])
	}
	return strings.Join(parts, e.separator)
}

func (e *Engine) hasKeyword(lower string) bool {
	for _, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// normalizeAmount trims stray separators and guarantees a "$" prefix.
func normalizeAmount(raw string) string {
	amount := strings.TrimRight(strings.TrimSpace(raw), ",")
	if amount == "" || amount == "$" {
		return ""
	}
	if !strings.HasPrefix(amount, "$") {
		amount = "$" + amount
	}
	return amount
}

// labelFor turns "available_credit" into "Available Credit".
func labelFor(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
