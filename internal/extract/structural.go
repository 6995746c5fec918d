package extract

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// structural looks at the surroundings of every element whose own text
// mentions a location: the parent's text and the next element sibling.
func (e *Extractor) structural(snap *Snapshot, out *[]types.Association) {
	for _, loc := range e.locations {
		expr := fmt.Sprintf(
			"//*[not(self::script) and not(self::style) and not(self::noscript) and contains(text(), %s)]",
			xpathLiteral(loc),
		)
		nodes, err := htmlquery.QueryAll(snap.Root(), expr)
		if err != nil {
			e.logger.Warn("structural query failed",
				"error", &types.ExtractError{Strategy: "structural_context", Location: loc, Err: err},
			)
			continue
		}

		for _, node := range nodes {
			if parent := node.Parent; parent != nil {
				parentText := visibleText(parent)
				if strings.Contains(parentText, loc) {
					for _, label := range e.matchLabels(parentText) {
						*out = append(*out, types.Association{
							Location: loc,
							Label:    label,
							Method:   types.MethodStructuralParent,
							Context:  parentText,
						})
					}
				}
			}

			sibling := nextElementSibling(node)
			if sibling == nil {
				continue
			}
			siblingText := visibleText(sibling)
			for _, label := range e.matchLabels(siblingText) {
				*out = append(*out, types.Association{
					Location: loc,
					Label:    label,
					Method:   types.MethodStructuralSibling,
					Context:  loc + " -> " + siblingText,
				})
			}
		}
	}
}

// xpathLiteral quotes s for use inside an XPath 1.0 expression, falling back
// to concat() when s holds both quote characters.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
