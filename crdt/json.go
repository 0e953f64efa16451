package crdt

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Span is a maximal run of consecutive live atoms sharing the same
// attributes, the unit ToJSON renders a weave's text as (grounded on the
// teacher's CausalTree.ToJSON, adapted to this model's per-character
// attribute spans instead of string/counter containers).
type Span struct {
	Text       string `json:"text"`
	Attributes Attrs  `json:"attributes,omitempty"`
}

// Spans groups the weave's live text into attribute-uniform runs, in
// weave order.
func (w *Weave) Spans() []Span {
	var spans []Span
	var sb strings.Builder
	var curAttrs Attrs
	first := true

	flush := func() {
		if sb.Len() > 0 {
			spans = append(spans, Span{Text: sb.String(), Attributes: curAttrs})
			sb.Reset()
		}
	}
	for _, atom := range w.atoms[1:] {
		if first {
			curAttrs = atom.Attrs
			first = false
		} else if !reflect.DeepEqual(curAttrs, atom.Attrs) {
			flush()
			curAttrs = atom.Attrs
		}
		sb.WriteRune(atom.Ch)
	}
	flush()
	return spans
}

// ToJSON renders the weave's live content as an indented JSON array of
// attribute-uniform spans.
func (w *Weave) ToJSON() ([]byte, error) {
	return json.MarshalIndent(w.Spans(), "", "    ")
}

// MarshalJSON implements json.Marshaler by rendering the same spans as
// ToJSON, without the indentation.
func (w *Weave) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Spans())
}
