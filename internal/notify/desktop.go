package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier raises a desktop notification so a reviewer away
// from the terminal still hears about a waiting batch
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // Unsupported
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q", n.Message, n.Title)
	if n.RunID != "" {
		script += fmt.Sprintf(" subtitle %q", "run "+n.RunID)
	}
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	cmd := exec.Command("notify-send",
		"--app-name=canonry",
		"--urgency="+desktopUrgency(n.Type),
		n.Title, n.Message)
	return cmd.Run()
}

// desktopUrgency maps notification types onto notify-send urgency
// levels so a failed run interrupts and a ready batch does not
func desktopUrgency(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifyWarning:
		return "normal"
	default:
		return "low"
	}
}
