package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// proximity scans the raw markup, not the DOM, so labels sitting in
// attributes, comments or serialized data still count.
func (e *Extractor) proximity(snap *Snapshot, out *[]types.Association) {
	for _, loc := range e.locations {
		for _, pos := range occurrences(snap.Markup, loc) {
			win := window(snap.Markup, pos, e.cfg.ProximityRadius)
			labels := e.matchLabels(win)
			if len(labels) == 0 {
				continue
			}
			flat := flatten(win)
			for _, label := range labels {
				*out = append(*out, types.Association{
					Location: loc,
					Label:    label,
					Method:   types.MethodTextProximity,
					Context:  flat,
				})
			}
		}
	}
}

// inlineScripts applies the same window search to the body of every inline
// <script>, with a wider radius.
func (e *Extractor) inlineScripts(snap *Snapshot, out *[]types.Association) {
	snap.Document().Find("script").Each(func(i int, sel *goquery.Selection) {
		if _, external := sel.Attr("src"); external {
			return
		}
		body := sel.Text()
		if strings.TrimSpace(body) == "" {
			return
		}

		for _, loc := range e.locations {
			for _, pos := range occurrences(body, loc) {
				win := window(body, pos, e.cfg.ScriptRadius)
				for _, label := range e.matchLabels(win) {
					*out = append(*out, types.Association{
						Location: loc,
						Label:    label,
						Method:   types.MethodInlineScript,
						Context:  win,
					})
				}
			}
		}
	})
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
