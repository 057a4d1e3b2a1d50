package automation

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/awattacker/observer/internal/model"
)

var (
	boundsPattern   = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)
	selectorPattern = regexp.MustCompile(`\.(text|textContains|textStartsWith|description|descriptionContains|resourceId|className)\("((?:[^"\\]|\\.)*)"\)`)
)

type xmlNode struct {
	Text          string    `xml:"text,attr"`
	ResourceID    string    `xml:"resource-id,attr"`
	Class         string    `xml:"class,attr"`
	Package       string    `xml:"package,attr"`
	ContentDesc   string    `xml:"content-desc,attr"`
	Bounds        string    `xml:"bounds,attr"`
	VisibleToUser string    `xml:"visible-to-user,attr"`
	Children      []xmlNode `xml:"node"`
}

type xmlHierarchy struct {
	XMLName xml.Name  `xml:"hierarchy"`
	Nodes   []xmlNode `xml:"node"`
}

// uiNode is a flattened hierarchy node. Path is the dotted child-index path
// from the root and serves as the element identifier.
type uiNode struct {
	xmlNode
	Path string
}

func (n uiNode) element() *Element {
	el := &Element{ID: n.Path}
	if m := boundsPattern.FindStringSubmatch(n.Bounds); m != nil {
		x1, _ := strconv.Atoi(m[1])
		y1, _ := strconv.Atoi(m[2])
		x2, _ := strconv.Atoi(m[3])
		y2, _ := strconv.Atoi(m[4])
		el.X, el.Y = x1, y1
		el.Width, el.Height = x2-x1, y2-y1
	}
	el.Visible = el.Width > 0 && el.Height > 0 && n.VisibleToUser != "false"
	return el
}

// extractHierarchy cuts the XML document out of uiautomator dump output,
// which is followed by a status line when dumped to /dev/tty.
func extractHierarchy(output string) (string, error) {
	start := strings.Index(output, "<?xml")
	if start < 0 {
		start = strings.Index(output, "<hierarchy")
	}
	end := strings.LastIndex(output, "</hierarchy>")
	if start < 0 || end < start {
		return "", fmt.Errorf("no hierarchy in uiautomator output: %q", truncate(output, 120))
	}
	return output[start : end+len("</hierarchy>")], nil
}

// parseHierarchy flattens a uiautomator dump in document order.
func parseHierarchy(source string) ([]uiNode, error) {
	var h xmlHierarchy
	if err := xml.Unmarshal([]byte(source), &h); err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy: %w", err)
	}

	var nodes []uiNode
	var walk func(children []xmlNode, prefix string)
	walk = func(children []xmlNode, prefix string) {
		for i, c := range children {
			path := strconv.Itoa(i)
			if prefix != "" {
				path = prefix + "." + path
			}
			nodes = append(nodes, uiNode{xmlNode: c, Path: path})
			walk(c.Children, path)
		}
	}
	walk(h.Nodes, "")
	return nodes, nil
}

// matcherFor compiles a locator into a node predicate.
func matcherFor(loc Locator) (func(uiNode) bool, error) {
	v := loc.Value
	switch loc.Strategy {
	case StrategyID:
		return func(n uiNode) bool { return n.ResourceID == v }, nil
	case StrategyClassName:
		return func(n uiNode) bool { return n.Class == v }, nil
	case StrategyAccessibilityID, StrategyContentDesc:
		return func(n uiNode) bool { return n.ContentDesc == v }, nil
	case StrategyText:
		return func(n uiNode) bool { return n.Text == v }, nil
	case StrategyUiAutomator:
		return selectorMatcher(v)
	default:
		return nil, fmt.Errorf("%s: %w", loc.Strategy, model.ErrUnsupportedLocator)
	}
}

// selectorMatcher supports the attribute subset of UiSelector expressions,
// e.g. new UiSelector().className("android.widget.Button").text("OK").
// All conditions must hold.
func selectorMatcher(expr string) (func(uiNode) bool, error) {
	matches := selectorPattern.FindAllStringSubmatch(expr, -1)
	if !strings.Contains(expr, "UiSelector()") || len(matches) == 0 {
		return nil, fmt.Errorf("uiautomator %q: %w", expr, model.ErrUnsupportedLocator)
	}

	type cond func(uiNode) bool
	conds := make([]cond, 0, len(matches))
	for _, m := range matches {
		arg := strings.ReplaceAll(m[2], `\"`, `"`)
		switch m[1] {
		case "text":
			conds = append(conds, func(n uiNode) bool { return n.Text == arg })
		case "textContains":
			conds = append(conds, func(n uiNode) bool { return strings.Contains(n.Text, arg) })
		case "textStartsWith":
			conds = append(conds, func(n uiNode) bool { return strings.HasPrefix(n.Text, arg) })
		case "description":
			conds = append(conds, func(n uiNode) bool { return n.ContentDesc == arg })
		case "descriptionContains":
			conds = append(conds, func(n uiNode) bool { return strings.Contains(n.ContentDesc, arg) })
		case "resourceId":
			conds = append(conds, func(n uiNode) bool { return n.ResourceID == arg })
		case "className":
			conds = append(conds, func(n uiNode) bool { return n.Class == arg })
		}
	}

	return func(n uiNode) bool {
		for _, c := range conds {
			if !c(n) {
				return false
			}
		}
		return true
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
