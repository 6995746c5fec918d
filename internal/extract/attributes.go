package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// attributes inspects elements that name a location in their title, alt or
// city attribute. Any attribute value or the element's own text may carry
// the label.
func (e *Extractor) attributes(snap *Snapshot, out *[]types.Association) {
	for _, loc := range e.locations {
		q := cssString(loc)
		selector := fmt.Sprintf("[title*=%[1]s], [alt*=%[1]s], [%[2]s*=%[1]s]", q, e.cfg.CityAttribute)

		snap.Document().Find(selector).Each(func(i int, sel *goquery.Selection) {
			node := sel.Get(0)
			attrs := make(map[string]string, len(node.Attr))
			for _, a := range node.Attr {
				attrs[a.Key] = a.Val
			}
			text := visibleText(node)

			for _, label := range e.labels {
				if !strings.Contains(text, label) && !anyValueContains(attrs, label) {
					continue
				}
				*out = append(*out, types.Association{
					Location:    loc,
					Label:       label,
					Method:      types.MethodElementAttributes,
					Context:     describeElement(node.Data, attrs),
					Attributes:  attrs,
					ElementText: text,
				})
			}
		})
	}
}

func anyValueContains(attrs map[string]string, sub string) bool {
	for _, v := range attrs {
		if strings.Contains(v, sub) {
			return true
		}
	}
	return false
}

// describeElement renders a short, stable summary like
// `div[data-city="Tours" title="Tours: Bon"]`.
func describeElement(tag string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return tag + "[" + strings.Join(parts, " ") + "]"
}

// cssString quotes s as a CSS string literal.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
