// Package notify shows success and error notifications for upload activity.
// Notifications are tracked by ID so they can be dismissed individually or
// all at once. Desktop delivery uses github.com/gen2brain/beeep.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/events"
	"github.com/rescale/csvup/internal/logging"
)

// Severity is the notification type.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notification is one message shown to the user.
type Notification struct {
	ID        string
	Content   string
	Severity  Severity
	CreatedAt time.Time
}

// Sink is what the upload coordinator needs from a notification provider.
type Sink interface {
	Notify(content string, severity Severity) string
	Dismiss(id string)
	DismissAll()
}

// Display renders notifications somewhere visible.
type Display interface {
	Show(n Notification) error
	Hide(id string)
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are shown at all.
	Enabled bool

	// Desktop sends notifications to the OS notification center as well.
	Desktop bool

	// Sound beeps on error notifications.
	Sound bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Desktop: false, // Terminal output is enough for interactive runs
		Sound:   false,
	}
}

// Center tracks active notifications and fans them out to displays.
type Center struct {
	logger   *logging.Logger
	bus      *events.EventBus
	displays []Display
	enabled  bool
	active   map[string]Notification
	order    []string
	mu       sync.RWMutex
}

// NewCenter creates a notification center. bus may be nil.
func NewCenter(cfg *Config, logger *logging.Logger, bus *events.EventBus, displays ...Display) *Center {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Center{
		logger:   logger,
		bus:      bus,
		displays: displays,
		enabled:  cfg.Enabled,
		active:   make(map[string]Notification),
	}
}

// SetEnabled enables or disables notifications.
func (c *Center) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (c *Center) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Notify shows content and returns its ID. A disabled center still returns
// an ID so callers can track and dismiss it uniformly.
func (c *Center) Notify(content string, severity Severity) string {
	n := Notification{
		ID:        uuid.NewString(),
		Content:   content,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return n.ID
	}
	c.active[n.ID] = n
	c.order = append(c.order, n.ID)
	displays := c.displays
	c.mu.Unlock()

	for _, d := range displays {
		if err := d.Show(n); err != nil {
			c.logger.Warn().Err(err).Str("severity", string(severity)).Msg("Failed to show notification")
		}
	}
	if c.bus != nil {
		c.bus.PublishNotification(n.ID, n.Content, string(n.Severity), false)
	}
	return n.ID
}

// Dismiss hides a single notification. Unknown IDs are ignored.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	if _, ok := c.active[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.active, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	displays := c.displays
	c.mu.Unlock()

	for _, d := range displays {
		d.Hide(id)
	}
	if c.bus != nil {
		c.bus.PublishNotification(id, "", "", true)
	}
}

// DismissAll hides every active notification.
func (c *Center) DismissAll() {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()

	for _, id := range ids {
		c.Dismiss(id)
	}
}

// Active returns the active notifications, oldest first.
func (c *Center) Active() []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Notification, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.active[id])
	}
	return out
}

// WriterDisplay prints notifications as single lines.
type WriterDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterDisplay creates a display that writes to w.
func NewWriterDisplay(w io.Writer) *WriterDisplay {
	return &WriterDisplay{w: w}
}

// SetWriter redirects output, e.g. above active progress bars.
func (d *WriterDisplay) SetWriter(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w = w
}

// Show prints the notification with a severity marker.
func (d *WriterDisplay) Show(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	marker := "✓"
	if n.Severity == SeverityError {
		marker = "✗"
	}
	_, err := fmt.Fprintf(d.w, "%s %s\n", marker, n.Content)
	return err
}

// Hide is a no-op; printed lines cannot be taken back.
func (d *WriterDisplay) Hide(id string) {}

// DesktopDisplay sends notifications through the OS notification center.
type DesktopDisplay struct {
	title  string
	sound  bool
	notify func(title, message, icon string) error
	alert  func(title, message, icon string) error
	beep   func(freq float64, duration int) error
}

// NewDesktopDisplay creates a display using beeep.
func NewDesktopDisplay(title string, sound bool) *DesktopDisplay {
	return &DesktopDisplay{
		title:  title,
		sound:  sound,
		notify: beeep.Notify,
		alert:  beeep.Alert,
		beep:   beeep.Beep,
	}
}

// Show sends the notification. Errors use the more prominent alert and fall
// back to a regular notification.
func (d *DesktopDisplay) Show(n Notification) error {
	message := truncate(n.Content, constants.NotificationTruncateLength)

	if n.Severity != SeverityError {
		return d.notify(d.title, message, "")
	}

	if d.sound {
		_ = d.beep(beeep.DefaultFreq, beeep.DefaultDuration)
	}
	if err := d.alert(d.title, message, ""); err != nil {
		return d.notify(d.title, message, "")
	}
	return nil
}

// Hide is a no-op; the OS expires desktop notifications on its own.
func (d *DesktopDisplay) Hide(id string) {}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
