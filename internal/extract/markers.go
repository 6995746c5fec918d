package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// dismissJS closes a popup by clicking somewhere neutral.
const dismissJS = `() => { document.body.click(); return true; }`

// Markers clicks every map marker and records the popup each one opens.
// A marker that cannot be clicked, opens nothing, or leaves its popup open
// never stops the loop.
func (e *Extractor) Markers(ctx context.Context, s Session) []types.PopupRecord {
	markers := e.collectMarkers(ctx, s)
	e.logger.Info("markers found", "count", len(markers))

	var records []types.PopupRecord
	for i, marker := range markers {
		if ctx.Err() != nil {
			e.logger.Warn("marker scan interrupted", "done", i, "error", ctx.Err())
			break
		}

		index := i + 1
		rec, ok, err := e.probeMarker(ctx, s, index, marker)
		if err != nil {
			e.logger.Warn("marker skipped", "marker", index, "error", err)
			continue
		}
		if !ok {
			e.logger.Debug("no popup for marker", "marker", index)
			continue
		}
		e.logger.Debug("popup captured", "marker", index, "selector", rec.Selector, "text", truncate(rec.Text, 100))
		records = append(records, rec)
	}
	return records
}

// collectMarkers queries every marker selector in order and keeps the first
// handle seen for each DOM node.
func (e *Extractor) collectMarkers(ctx context.Context, s Session) []Element {
	seen := make(map[string]bool)
	var markers []Element

	for _, selector := range e.cfg.MarkerSelectors {
		els, err := s.Elements(ctx, selector)
		if err != nil {
			e.logger.Debug("marker selector failed", "selector", selector, "error", err)
			continue
		}
		for _, el := range els {
			key := el.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			markers = append(markers, el)
		}
	}
	return markers
}

func (e *Extractor) probeMarker(ctx context.Context, s Session, index int, marker Element) (types.PopupRecord, bool, error) {
	if err := marker.ScrollIntoView(ctx); err != nil {
		return types.PopupRecord{}, false, fmt.Errorf("scroll marker %d: %w", index, err)
	}
	e.sleep(e.cfg.ScrollDelay)

	if err := marker.Click(ctx); err != nil {
		return types.PopupRecord{}, false, fmt.Errorf("click marker %d: %w", index, err)
	}
	e.sleep(e.cfg.ClickDelay)

	for _, selector := range e.cfg.PopupSelectors {
		popup, err := s.Element(ctx, selector)
		if err != nil {
			continue
		}
		visible, err := popup.Visible(ctx)
		if err != nil || !visible {
			continue
		}
		text, err := popup.Text(ctx)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		e.dismissPopup(ctx, s)
		e.sleep(e.cfg.DismissDelay)

		return types.PopupRecord{Marker: index, Text: text, Selector: selector}, true, nil
	}
	return types.PopupRecord{}, false, nil
}

// dismissPopup tries the close button first, then a click on the page body.
// Failure is only logged.
func (e *Extractor) dismissPopup(ctx context.Context, s Session) {
	if e.cfg.CloseSelector != "" {
		closeBtn, err := s.Element(ctx, e.cfg.CloseSelector)
		if err == nil {
			if err = closeBtn.Click(ctx); err == nil {
				return
			}
		}
		e.logger.Debug("close button unavailable, clicking elsewhere", "error", err)
	}
	if _, err := s.Eval(ctx, dismissJS); err != nil {
		e.logger.Debug("popup left open", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
