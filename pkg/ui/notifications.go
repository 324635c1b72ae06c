package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"igsync/pkg/syncer"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender uses notify-send
type LinuxNotificationSender struct{}

func (LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender uses osascript
type MacOSNotificationSender struct{}

func (MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier tells the operator about runs that need attention
type Notifier struct {
	sender  NotificationSender
	printer *Printer
}

// NewNotifier picks the platform sender. Platforms without one only print.
func NewNotifier(printer *Printer) *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = LinuxNotificationSender{}
	case "darwin":
		sender = MacOSNotificationSender{}
	}
	return NewNotifierWithSender(printer, sender)
}

// NewNotifierWithSender uses sender, which may be nil
func NewNotifierWithSender(printer *Printer, sender NotificationSender) *Notifier {
	if printer == nil {
		printer = NewPrinter(nil)
	}
	return &Notifier{sender: sender, printer: printer}
}

// NotifyRun notifies when a run halted or recorded errors. It reports
// whether a notification was produced.
func (n *Notifier) NotifyRun(r syncer.SyncReport) bool {
	var title, message string
	switch {
	case r.Halted:
		title = "igsync: credential rejected"
		message = "Sync halted. Rotate the access token and run again."
	case len(r.Errors) > 0:
		profiles := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			if e.Profile != "" {
				profiles = append(profiles, "@"+e.Profile)
			}
		}
		title = fmt.Sprintf("igsync: %d error(s)", len(r.Errors))
		message = "Affected: " + strings.Join(profiles, ", ")
	default:
		return false
	}

	n.printer.Warning(title + ": " + message)
	if n.sender != nil {
		// desktop notifications are best effort
		_ = n.sender.Send(title, message)
	}
	return true
}
