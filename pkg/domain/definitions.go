// Package domain defines the service-report template records edited through
// poolcore: consumable, reading, selector and photo definitions grouped under
// their owning groups.
package domain

import "strings"

// Kind identifies a collection of definitions or groups.
type Kind string

// Supported collection kinds. Definition kinds are parented by a group id;
// group kinds are parented by the empty string.
const (
	// KindConsumables identifies consumable definitions under a consumable group.
	KindConsumables Kind = "consumables"
	// KindReadings identifies reading definitions under a reading group.
	KindReadings Kind = "readings"
	// KindSelectors identifies selector questions under a selector group.
	KindSelectors Kind = "selectors"
	// KindSelectorOptions identifies options under a selector definition.
	KindSelectorOptions Kind = "selector-options"
	// KindPhotos identifies photo definitions under a photo group.
	KindPhotos Kind = "photos"

	KindConsumableGroups Kind = "consumable-groups"
	KindReadingGroups    Kind = "reading-groups"
	KindSelectorGroups   Kind = "selector-groups"
	KindPhotoGroups      Kind = "photo-groups"
)

// Kinds lists every known collection kind in persistence bucket order.
func Kinds() []Kind {
	return []Kind{
		KindConsumableGroups,
		KindConsumables,
		KindReadingGroups,
		KindReadings,
		KindSelectorGroups,
		KindSelectors,
		KindSelectorOptions,
		KindPhotoGroups,
		KindPhotos,
	}
}

// ParseKind validates a kind string received over the wire.
func ParseKind(raw string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == raw {
			return k, true
		}
	}
	return "", false
}

// ConsumableGroup groups consumables shown together on a service report.
type ConsumableGroup struct {
	Name string `json:"name"`
}

// ConsumableDefinition describes a chemical or part a technician may record.
type ConsumableDefinition struct {
	Name        string  `json:"name"`
	Unit        string  `json:"unit"`
	Price       float64 `json:"price,omitempty"`
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
}

// NaturalKey matches a consumable by name and unit.
func (d ConsumableDefinition) NaturalKey() string { return joinKey(d.Name, d.Unit) }

// ReadingGroup groups water-chemistry readings.
type ReadingGroup struct {
	Name string `json:"name"`
}

// ReadingDefinition describes a measured value such as free chlorine.
type ReadingDefinition struct {
	Name        string   `json:"name"`
	Unit        string   `json:"unit"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Step        *float64 `json:"step,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
}

// NaturalKey matches a reading by name and unit.
func (d ReadingDefinition) NaturalKey() string { return joinKey(d.Name, d.Unit) }

// SelectorGroup groups multiple-choice checklist questions.
type SelectorGroup struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SelectorDefinition is a checklist question. Options are only populated on
// create requests, in display order; persisted options live in their own
// collection.
type SelectorDefinition struct {
	Question      string           `json:"question"`
	Required      bool             `json:"required,omitempty"`
	AllowMultiple bool             `json:"allowMultiple,omitempty"`
	Options       []SelectorOption `json:"options,omitempty"`
}

// NaturalKey matches a selector by its question text.
func (d SelectorDefinition) NaturalKey() string { return joinKey(d.Question) }

// SelectorOption is one answer of a selector question.
type SelectorOption struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// NaturalKey matches an option by label.
func (o SelectorOption) NaturalKey() string { return joinKey(o.Label) }

// PhotoGroup groups photo requirements.
type PhotoGroup struct {
	Name string `json:"name"`
}

// PhotoDefinition describes a photo the technician must capture.
type PhotoDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	MinPhotos   int    `json:"minPhotos,omitempty"`
}

// NaturalKey matches a photo definition by name.
func (d PhotoDefinition) NaturalKey() string { return joinKey(d.Name) }

// joinKey builds a composite key; the unit separator cannot appear in user input.
func joinKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// NaturalKey matches a consumable group by name.
func (g ConsumableGroup) NaturalKey() string { return joinKey(g.Name) }

// NaturalKey matches a reading group by name.
func (g ReadingGroup) NaturalKey() string { return joinKey(g.Name) }

// NaturalKey matches a selector group by name.
func (g SelectorGroup) NaturalKey() string { return joinKey(g.Name) }

// NaturalKey matches a photo group by name.
func (g PhotoGroup) NaturalKey() string { return joinKey(g.Name) }

// ChildKind returns the kind parented by records of kind, if any.
func ChildKind(kind Kind) (Kind, bool) {
	switch kind {
	case KindConsumableGroups:
		return KindConsumables, true
	case KindReadingGroups:
		return KindReadings, true
	case KindSelectorGroups:
		return KindSelectors, true
	case KindSelectors:
		return KindSelectorOptions, true
	case KindPhotoGroups:
		return KindPhotos, true
	default:
		return "", false
	}
}

// IsGroup reports whether kind is a top-level group collection.
func (k Kind) IsGroup() bool {
	switch k {
	case KindConsumableGroups, KindReadingGroups, KindSelectorGroups, KindPhotoGroups:
		return true
	default:
		return false
	}
}

// FieldsKey returns the natural-key function for untyped records of kind.
func FieldsKey(kind Kind) func(Fields) string {
	switch kind {
	case KindConsumables:
		return typedKey(ConsumableDefinition.NaturalKey)
	case KindReadings:
		return typedKey(ReadingDefinition.NaturalKey)
	case KindSelectors:
		return typedKey(SelectorDefinition.NaturalKey)
	case KindSelectorOptions:
		return typedKey(SelectorOption.NaturalKey)
	case KindPhotos:
		return typedKey(PhotoDefinition.NaturalKey)
	case KindConsumableGroups:
		return typedKey(ConsumableGroup.NaturalKey)
	case KindReadingGroups:
		return typedKey(ReadingGroup.NaturalKey)
	case KindSelectorGroups:
		return typedKey(SelectorGroup.NaturalKey)
	default:
		return typedKey(PhotoGroup.NaturalKey)
	}
}

func typedKey[T any](key func(T) string) func(Fields) string {
	return func(f Fields) string {
		v, err := DecodeFields[T](f)
		if err != nil {
			return ""
		}
		return key(v)
	}
}

// ParentKind returns the kind whose records parent records of kind.
func ParentKind(kind Kind) (Kind, bool) {
	for _, k := range Kinds() {
		if child, ok := ChildKind(k); ok && child == kind {
			return k, true
		}
	}
	return "", false
}
