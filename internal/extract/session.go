package extract

import (
	"context"
	"encoding/json"
)

// Session is the slice of a live browser page the extractor needs.
// Implementations return types.ErrElementNotFound from Element when nothing
// matches.
type Session interface {
	// HTML returns the current rendered markup of the page.
	HTML(ctx context.Context) (string, error)

	// Elements returns every element matching a CSS selector, in DOM order.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// Element returns the first element matching a CSS selector.
	Element(ctx context.Context, selector string) (Element, error)

	// Eval runs a JavaScript function expression in the page and returns
	// its JSON-encoded result.
	Eval(ctx context.Context, js string) (json.RawMessage, error)
}

// Element is a handle on one DOM element of a live page.
type Element interface {
	// Key identifies the underlying DOM node. Two handles on the same node
	// share a key.
	Key() string

	ScrollIntoView(ctx context.Context) error

	// Click dispatches a synthetic click on the element.
	Click(ctx context.Context) error

	Visible(ctx context.Context) (bool, error)

	Text(ctx context.Context) (string, error)
}
