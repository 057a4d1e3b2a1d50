// Package automation provides access to the device under observation.
//
// The Driver interface is the only surface the rest of the server uses;
// ADBDriver implements it on top of the adb command line tool.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/awattacker/observer/internal/model"
)

// Strategy names a locator strategy.
type Strategy string

const (
	StrategyID              Strategy = "id"
	StrategyClassName       Strategy = "class_name"
	StrategyAccessibilityID Strategy = "accessibility_id"
	StrategyText            Strategy = "text"
	StrategyContentDesc     Strategy = "content-desc"
	StrategyUiAutomator     Strategy = "uiautomator"
)

// Locator identifies an element on screen.
type Locator struct {
	Strategy Strategy
	Value    string
}

// Element describes a located element.
type Element struct {
	ID      string
	X       int
	Y       int
	Width   int
	Height  int
	Visible bool
}

// Driver is the automation backend. Every call may fail transiently.
type Driver interface {
	CurrentPackage(ctx context.Context) (string, error)
	CurrentActivity(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	FindElement(ctx context.Context, loc Locator) (*Element, error)
	Close() error
}

// FindFirst tries each locator in order and returns the first element found.
// Lookup failures of individual locators are skipped.
func FindFirst(ctx context.Context, d Driver, locators []Locator) (*Element, error) {
	for _, loc := range locators {
		el, err := d.FindElement(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if el != nil {
			return el, nil
		}
	}
	return nil, model.ErrElementNotFound
}

// AppMismatchError reports that the foreground app differs from the expected one.
type AppMismatchError struct {
	ExpectedPackage  string
	ExpectedActivity string
	ActualPackage    string
	ActualActivity   string
}

func (e *AppMismatchError) Error() string {
	return fmt.Sprintf("Current app mismatch. Expected: %s/%s, Got: %s/%s",
		e.ExpectedPackage, e.ExpectedActivity, e.ActualPackage, e.ActualActivity)
}

// VerifyCurrentApp checks that the given package and activity are in the foreground.
// It returns an *AppMismatchError when they are not.
func VerifyCurrentApp(ctx context.Context, d Driver, packageName, activityName string) error {
	pkg, err := d.CurrentPackage(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current package: %w", err)
	}
	act, err := d.CurrentActivity(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current activity: %w", err)
	}
	if pkg != packageName || act != activityName {
		return &AppMismatchError{
			ExpectedPackage:  packageName,
			ExpectedActivity: activityName,
			ActualPackage:    pkg,
			ActualActivity:   act,
		}
	}
	return nil
}

// IsAppMismatch reports whether err is an *AppMismatchError.
func IsAppMismatch(err error) bool {
	var mismatch *AppMismatchError
	return errors.As(err, &mismatch)
}

// LocatorsFromMap converts a request map (strategy -> value) into locators.
// Order follows keys as listed in preferred, followed by any remaining keys
// sorted alphabetically, so lookups are deterministic.
func LocatorsFromMap(info map[string]string) []Locator {
	preferred := []Strategy{StrategyID, StrategyAccessibilityID, StrategyText, StrategyContentDesc, StrategyClassName}

	seen := make(map[string]bool, len(info))
	locators := make([]Locator, 0, len(info))
	for _, s := range preferred {
		if v, ok := info[string(s)]; ok {
			locators = append(locators, Locator{Strategy: s, Value: v})
			seen[string(s)] = true
		}
	}

	var rest []string
	for k := range info {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		locators = append(locators, Locator{Strategy: Strategy(strings.TrimSpace(k)), Value: info[k]})
	}
	return locators
}
