package provenance

import "strings"

// Kind is the stage category used for ordering and default icons.
type Kind string

const (
	KindCollection    Kind = "collection"
	KindQualityTest   Kind = "quality-test"
	KindProcessing    Kind = "processing"
	KindManufacturing Kind = "manufacturing"
	KindFinalProduct  Kind = "final-product"
	KindUnknown       Kind = "unknown"
)

var kinds = map[Kind]struct {
	precedence int
	icon       string
	label      string
}{
	KindCollection:    {0, "🌱", "Collection"},
	KindQualityTest:   {1, "🔬", "Quality Testing"},
	KindProcessing:    {2, "⚙️", "Processing"},
	KindManufacturing: {3, "🏭", "Manufacturing"},
	KindFinalProduct:  {4, "📦", "Final Product"},
	KindUnknown:       {5, "📍", "Unknown"},
}

// Precedence orders kinds along the supply chain. Unknown sorts last.
func (k Kind) Precedence() int {
	if info, ok := kinds[k]; ok {
		return info.precedence
	}
	return kinds[KindUnknown].precedence
}

// Icon is the default icon for stages of kind k.
func (k Kind) Icon() string {
	if info, ok := kinds[k]; ok {
		return info.icon
	}
	return kinds[KindUnknown].icon
}

// Label is the human-readable stage name.
func (k Kind) Label() string {
	if info, ok := kinds[k]; ok {
		return info.label
	}
	return kinds[KindUnknown].label
}

// Known reports whether k is one of the five supply-chain kinds.
func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok && k != KindUnknown
}

// ParseKind resolves a stage's kind from its explicit type, falling back
// to its label ("Quality Testing", "quality_test", "Processing", ...).
func ParseKind(typ, label string) Kind {
	if k := normalizeKind(typ); k.Known() {
		return k
	}
	return normalizeKind(label)
}

func normalizeKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch s {
	case "collection", "harvest":
		return KindCollection
	case "quality-test", "quality-testing", "quality", "testing", "lab-test":
		return KindQualityTest
	case "processing":
		return KindProcessing
	case "manufacturing":
		return KindManufacturing
	case "final-product", "product", "packaging":
		return KindFinalProduct
	}
	return KindUnknown
}
