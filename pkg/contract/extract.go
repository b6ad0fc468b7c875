package contract

import (
	"regexp"
	"strings"
)

// Financial and identifier fields never carry a party name.
var (
	noiseKeyPattern  = regexp.MustCompile(`(?i)amount|total|percent|date|number|position|id$`)
	clientKeyPattern = regexp.MustCompile(`(?i)client|customer|bill|owner|developer`)
	templatePattern  = regexp.MustCompile(`(?i)template|standard|head contract`)
	numericPattern   = regexp.MustCompile(`^[\d\s.,$%()+\-]+$`)
)

// keys handled by the dedicated party rules; the scans skip them.
var partyKeys = map[string]bool{
	"vendor":    true,
	"owner":     true,
	"bill_to":   true,
	"architect": true,
	"title":     true,
}

// object fields that name the contractor side of the contract.
var contractorKeys = map[string]bool{
	"contractor": true,
	"creator":    true,
	"created_by": true,
	"company":    true,
}

type rule struct {
	name       string
	candidates func(Record) []string
}

// Extractor infers the client/owner name from contract records. Rules are
// evaluated in order and the first acceptable candidate wins.
type Extractor struct {
	self  *regexp.Regexp
	rules []rule
}

// NewExtractor returns an Extractor that rejects any candidate containing one
// of selfNames (the contractor's own organisation names) as whole words, so
// "Ace" rejects "Ace Pty Ltd" but not "Grace Developments".
func NewExtractor(selfNames ...string) *Extractor {
	e := &Extractor{}

	var quoted []string
	for _, n := range selfNames {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	if len(quoted) > 0 {
		e.self = regexp.MustCompile(`(?i)(?:^|[^\pL\pN])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\pL\pN])`)
	}

	e.rules = []rule{
		{name: "vendor", candidates: objectName("vendor")},
		{name: "owner", candidates: objectName("owner")},
		{name: "bill_to", candidates: billTo},
		{name: "architect", candidates: objectName("architect")},
		{name: "client_field", candidates: clientFields},
		{name: "named_party", candidates: namedParties},
	}
	return e
}

// Extract returns the best-guess client name for rec, or "".
func (e *Extractor) Extract(rec Record) string {
	name, _ := e.ExtractWithRule(rec)
	return name
}

// ExtractWithRule is Extract that also reports which rule produced the value.
func (e *Extractor) ExtractWithRule(rec Record) (string, string) {
	for _, r := range e.rules {
		for _, c := range r.candidates(rec) {
			if e.acceptable(c, rec) {
				return c, r.name
			}
		}
	}
	return "", ""
}

// acceptable applies the exclusions shared by every rule.
func (e *Extractor) acceptable(name string, rec Record) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if numericPattern.MatchString(name) {
		return false
	}
	if templatePattern.MatchString(name) {
		return false
	}
	if e.isSelf(name) {
		return false
	}
	if title := rec.Title(); title != "" && strings.EqualFold(name, title) {
		return false
	}
	return true
}

func (e *Extractor) isSelf(name string) bool {
	return e.self != nil && e.self.MatchString(name)
}

func objectName(key string) func(Record) []string {
	return func(rec Record) []string {
		v, _ := rec.Get(key)
		if n := nameOf(v); n != "" {
			return []string{n}
		}
		return nil
	}
}

func billTo(rec Record) []string {
	v, _ := rec.Get("bill_to")
	if s := stringOf(v); s != "" {
		return []string{s}
	}
	if n := nameOf(v); n != "" {
		return []string{n}
	}
	return nil
}

// clientFields scans the remaining keys whose name suggests a client party.
func clientFields(rec Record) []string {
	var out []string
	for _, k := range rec.keys {
		if partyKeys[k] || noiseKeyPattern.MatchString(k) || !clientKeyPattern.MatchString(k) {
			continue
		}
		v := rec.fields[k]
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		if n := nameOf(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// namedParties is the last resort: any object field with a name that is not
// the contractor side.
func namedParties(rec Record) []string {
	var out []string
	for _, k := range rec.keys {
		lk := strings.ToLower(k)
		if partyKeys[lk] || contractorKeys[lk] || noiseKeyPattern.MatchString(k) {
			continue
		}
		v := rec.fields[k]
		if !isObject(v) {
			continue
		}
		if n := nameOf(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}
