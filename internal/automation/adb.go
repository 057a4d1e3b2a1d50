package automation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/awattacker/observer/internal/model"
)

// commandRunner executes a command and returns its stdout and stderr.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

var (
	// stackActivityPattern matches "am stack list" output.
	stackActivityPattern = regexp.MustCompile(`topActivity=ComponentInfo\{([^/]+)/([^}]+)\}`)

	// resumedActivityPattern matches "dumpsys activity activities" output on
	// releases where "am stack list" is not available.
	resumedActivityPattern = regexp.MustCompile(`(?:mResumedActivity|topResumedActivity)[:=]\s*ActivityRecord\{\S+ \S+ ([^/\s]+)/([^\s}]+)`)
)

// ADBConfig holds configuration for the adb driver.
type ADBConfig struct {
	// Path is the adb executable. Defaults to "adb".
	Path string
	// Serial selects the device. Empty means the single connected device.
	Serial string
}

// ADBDriver implements Driver with the adb command line tool.
type ADBDriver struct {
	adbPath string
	run     commandRunner

	mu     sync.RWMutex
	serial string
}

// NewADBDriver creates a new ADBDriver.
func NewADBDriver(config ADBConfig) *ADBDriver {
	if config.Path == "" {
		config.Path = "adb"
	}
	return &ADBDriver{
		adbPath: config.Path,
		serial:  config.Serial,
		run:     execRunner,
	}
}

// Open resolves the target device. With no serial configured exactly one
// device must be connected, and it is pinned for later calls.
func (d *ADBDriver) Open(ctx context.Context) error {
	out, err := d.exec(ctx, "", "devices")
	if err != nil {
		return err
	}
	devices := parseDevices(out)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serial != "" {
		for _, dev := range devices {
			if dev == d.serial {
				return nil
			}
		}
		return fmt.Errorf("device %s: %w", d.serial, model.ErrNoDevice)
	}

	switch len(devices) {
	case 0:
		return model.ErrNoDevice
	case 1:
		d.serial = devices[0]
		return nil
	default:
		return fmt.Errorf("multiple devices connected (%s), please specify a device serial", strings.Join(devices, ", "))
	}
}

// Serial returns the device serial in use.
func (d *ADBDriver) Serial() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.serial
}

// Close releases driver resources. The adb server itself is not owned by the driver.
func (d *ADBDriver) Close() error {
	return nil
}

// CurrentPackage returns the package of the resumed activity.
func (d *ADBDriver) CurrentPackage(ctx context.Context) (string, error) {
	pkg, _, err := d.topActivity(ctx)
	return pkg, err
}

// CurrentActivity returns the resumed activity, relative to its package when possible.
func (d *ADBDriver) CurrentActivity(ctx context.Context) (string, error) {
	_, act, err := d.topActivity(ctx)
	return act, err
}

// PageSource returns the uiautomator hierarchy dump of the current screen.
func (d *ADBDriver) PageSource(ctx context.Context) (string, error) {
	out, err := d.exec(ctx, d.Serial(), "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return "", err
	}
	return extractHierarchy(out)
}

// FindElement locates the first element matching loc in the current page source.
func (d *ADBDriver) FindElement(ctx context.Context, loc Locator) (*Element, error) {
	if loc.Strategy == StrategyID && !strings.Contains(loc.Value, ":") {
		pkg, err := d.CurrentPackage(ctx)
		if err != nil {
			return nil, err
		}
		loc.Value = pkg + ":id/" + loc.Value
	}

	match, err := matcherFor(loc)
	if err != nil {
		return nil, err
	}

	source, err := d.PageSource(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := parseHierarchy(source)
	if err != nil {
		return nil, err
	}

	for _, n := range nodes {
		if match(n) {
			return n.element(), nil
		}
	}
	return nil, model.ErrElementNotFound
}

func (d *ADBDriver) topActivity(ctx context.Context) (string, string, error) {
	serial := d.Serial()

	out, err := d.exec(ctx, serial, "shell", "am", "stack", "list")
	if err == nil {
		if pkg, act, ok := parseActivity(stackActivityPattern, out); ok {
			return pkg, act, nil
		}
	}

	out, err = d.exec(ctx, serial, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		return "", "", err
	}
	if pkg, act, ok := parseActivity(resumedActivityPattern, out); ok {
		return pkg, act, nil
	}
	return "", "", fmt.Errorf("no visible activity found")
}

// exec runs adb with the given arguments against serial (if non-empty).
func (d *ADBDriver) exec(ctx context.Context, serial string, args ...string) (string, error) {
	full := make([]string, 0, len(args)+2)
	if serial != "" {
		full = append(full, "-s", serial)
	}
	full = append(full, args...)

	stdout, stderr, err := d.run(ctx, d.adbPath, full...)
	errText := strings.TrimSpace(string(stderr))
	if err != nil {
		return "", fmt.Errorf("adb %s failed: %s: %w", strings.Join(args, " "), errText, err)
	}
	if strings.TrimSpace(string(stdout)) == "" && errText != "" {
		return "", fmt.Errorf("adb %s produced no output: %s", strings.Join(args, " "), errText)
	}
	return string(stdout), nil
}

// parseActivity extracts package and relative activity name.
func parseActivity(pattern *regexp.Regexp, output string) (string, string, bool) {
	m := pattern.FindStringSubmatch(output)
	if len(m) < 3 {
		return "", "", false
	}
	pkg, act := m[1], m[2]
	act = strings.TrimPrefix(act, pkg)
	if !strings.HasPrefix(act, ".") {
		act = "." + act
	}
	return pkg, act, true
}

// parseDevices returns the serials of attached devices in "adb devices" output.
func parseDevices(output string) []string {
	var devices []string
	for i, line := range strings.Split(output, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			devices = append(devices, fields[0])
		}
	}
	return devices
}
