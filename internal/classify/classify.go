// Package classify assigns semantic categories to decoded calls using an
// ordered, fixed-priority rule list. Classification is a pure function of
// the call: no I/O, no state, same input always yields the same category.
package classify

import (
	"strings"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/capture"
)

// Category is the semantic class of a decoded call.
type Category string

// Categories in priority order. Security-relevant, specific categories come
// first so broad keyword overlaps (an "attack" inside a chat message) cannot
// shadow them.
const (
	CategoryLogin               Category = "login"
	CategoryBattle              Category = "battle"
	CategoryMarch               Category = "march"
	CategoryResource            Category = "resource"
	CategoryChat                Category = "chat"
	CategoryBuild               Category = "build"
	CategoryResearch            Category = "research"
	CategoryAlliance            Category = "alliance"
	CategoryStaticAsset         Category = "static_asset"
	CategoryBinaryEnvelope      Category = "binary_envelope"
	CategoryAutomationSignature Category = "automation_signature"
	CategoryUnknown             Category = "unknown"
)

// DecodeStatus records how decoding of a frame went.
type DecodeStatus string

const (
	StatusOk        DecodeStatus = "ok"
	StatusMalformed DecodeStatus = "malformed"
	StatusPartial   DecodeStatus = "partial"
)

// DecodedCall is one decoded and classified RPC call. Malformed frames are
// still emitted as calls so the pipeline and diagnostics never lose them.
type DecodedCall struct {
	Frame    capture.Frame `json:"frame"`
	Action   string        `json:"action"`
	Params   amf.Value     `json:"params"`
	Category Category      `json:"category"`
	Status   DecodeStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
}

// Rule matches a call by action-name prefix/substring or by a keyword found
// anywhere in the decoded body. A rule with no patterns at all uses the
// built-in shape predicate for its category (only BinaryEnvelope does this:
// it matches calls with no action name or a raw byte-array body).
type Rule struct {
	Category Category `json:"category"`
	Prefixes []string `json:"prefixes,omitempty"`
	Contains []string `json:"contains,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// DefaultRules returns the shipped rule list in its fixed priority order.
// The order and patterns are tunable via configuration; these defaults come
// from the analyzed capture corpus.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryLogin, Prefixes: []string{"login.", "auth.", "account."}, Keywords: []string{"sessionkey", "password"}},
		{Category: CategoryBattle, Prefixes: []string{"battle.", "combat.", "fight."}, Contains: []string{"attack"}, Keywords: []string{"battleid", "battle"}},
		{Category: CategoryMarch, Prefixes: []string{"march.", "troop.", "army."}, Keywords: []string{"marchid"}},
		{Category: CategoryResource, Prefixes: []string{"resource.", "harvest.", "collect."}, Keywords: []string{"goldamount", "foodamount"}},
		{Category: CategoryChat, Prefixes: []string{"chat.", "mail."}, Keywords: []string{"chatmessage", "chat"}},
		{Category: CategoryBuild, Prefixes: []string{"build.", "city.", "construct."}},
		{Category: CategoryResearch, Prefixes: []string{"research.", "tech."}},
		{Category: CategoryAlliance, Prefixes: []string{"alliance.", "guild."}},
		{Category: CategoryStaticAsset, Prefixes: []string{"asset.", "static."}, Contains: []string{".swf", ".xml"}},
		{Category: CategoryBinaryEnvelope},
		{Category: CategoryAutomationSignature, Prefixes: []string{"echo.", "debug."}, Keywords: []string{"synthetic", "automation"}},
	}
}

// Classifier evaluates an ordered rule list, first match wins, with Unknown
// as the fallback.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier. A nil or empty rule list falls back
// to the shipped defaults.
func NewClassifier(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the category of a decoded call.
func (c *Classifier) Classify(call DecodedCall) Category {
	action := strings.ToLower(call.Action)
	var body string // built lazily, only when a rule needs keywords

	for _, r := range c.rules {
		if len(r.Prefixes) == 0 && len(r.Contains) == 0 && len(r.Keywords) == 0 {
			if matchesShape(r.Category, call) {
				return r.Category
			}
			continue
		}
		for _, p := range r.Prefixes {
			if strings.HasPrefix(action, p) {
				return r.Category
			}
		}
		for _, sub := range r.Contains {
			if action != "" && strings.Contains(action, sub) {
				return r.Category
			}
		}
		if len(r.Keywords) > 0 {
			if body == "" {
				body = bodyText(call.Params)
			}
			for _, kw := range r.Keywords {
				if strings.Contains(body, kw) {
					return r.Category
				}
			}
		}
	}
	return CategoryUnknown
}

// matchesShape implements the pattern-free built-in predicates.
func matchesShape(cat Category, call DecodedCall) bool {
	if cat != CategoryBinaryEnvelope {
		return false
	}
	if call.Action == "" {
		return true
	}
	return call.Params.Kind == amf.KindByteArray
}

// bodyText flattens every string and field name in a value tree into one
// lowercase haystack for keyword matching.
func bodyText(v amf.Value) string {
	var sb strings.Builder
	collectText(&sb, v)
	return strings.ToLower(sb.String())
}

func collectText(sb *strings.Builder, v amf.Value) {
	switch v.Kind {
	case amf.KindString:
		sb.WriteString(v.Str)
		sb.WriteByte('\n')
	case amf.KindDenseArray:
		for _, e := range v.Elems {
			collectText(sb, e)
		}
	case amf.KindAssocArray, amf.KindObject:
		if v.Trait != "" {
			sb.WriteString(v.Trait)
			sb.WriteByte('\n')
		}
		for _, f := range v.Fields {
			sb.WriteString(f.Name)
			sb.WriteByte('\n')
			collectText(sb, f.Value)
		}
	}
}
