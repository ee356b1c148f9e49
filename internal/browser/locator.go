package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// LocatorKind discriminates the supported selector languages.
type LocatorKind int

const (
	LocatorCSS LocatorKind = iota
	LocatorXPath
)

// Locator is a tagged selector, decided once at configuration-load time.
// The rest of the code never sniffs selector strings at call sites.
type Locator struct {
	Kind LocatorKind
	Expr string
}

// CSS builds a CSS locator.
func CSS(expr string) Locator { return Locator{Kind: LocatorCSS, Expr: expr} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Kind: LocatorXPath, Expr: expr} }

// ParseLocator converts a configuration string into a Locator. Accepted
// forms: "css:<expr>", "xpath:<expr>", a bare XPath starting with "//", or a
// bare CSS selector.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Locator{}, fmt.Errorf("empty locator")
	case strings.HasPrefix(s, "css:"):
		expr := strings.TrimSpace(strings.TrimPrefix(s, "css:"))
		if expr == "" {
			return Locator{}, fmt.Errorf("empty css locator")
		}
		return CSS(expr), nil
	case strings.HasPrefix(s, "xpath:"):
		expr := strings.TrimSpace(strings.TrimPrefix(s, "xpath:"))
		if expr == "" {
			return Locator{}, fmt.Errorf("empty xpath locator")
		}
		return XPath(expr), nil
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//"):
		return XPath(s), nil
	default:
		return CSS(s), nil
	}
}

// MustParseLocator is ParseLocator for compiled-in defaults.
func MustParseLocator(s string) Locator {
	l, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return l
}

// ParseLocators parses an ordered candidate list.
func ParseLocators(exprs []string) ([]Locator, error) {
	out := make([]Locator, 0, len(exprs))
	for _, e := range exprs {
		l, err := ParseLocator(e)
		if err != nil {
			return nil, fmt.Errorf("locator %q: %w", e, err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (l Locator) String() string {
	if l.Kind == LocatorXPath {
		return "xpath:" + l.Expr
	}
	return "css:" + l.Expr
}

// by maps the locator onto the matching chromedp query option.
func (l Locator) by() chromedp.QueryOption {
	if l.Kind == LocatorXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// jsFind renders a JavaScript expression that resolves the locator to a
// single element (or null). Used for non-blocking DOM probes.
func (l Locator) jsFind() string {
	if l.Kind == LocatorXPath {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
			l.Expr)
	}
	return fmt.Sprintf(`document.querySelector(%q)`, l.Expr)
}
