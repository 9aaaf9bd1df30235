// Package systemd reports service state to the systemd manager via sd_notify.
// Every call is a no-op when the process is not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"surveybot/pkg/logx"
)

// Notifier sends sd_notify messages. The zero value notifies the socket in
// $NOTIFY_SOCKET.
type Notifier struct {
	// UnsetEnv clears $NOTIFY_SOCKET after the first message so children
	// never inherit it.
	UnsetEnv bool
	Log      logx.Logger
}

func (n Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(n.UnsetEnv, state)
	if err != nil && !n.Log.IsZero() {
		n.Log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
	return sent
}

// Ready reports startup completion. It returns false when not under systemd.
func (n Notifier) Ready() bool { return n.notify(daemon.SdNotifyReady) }

func (n Notifier) Stopping() bool { return n.notify(daemon.SdNotifyStopping) }

// Reloading marks a config reload. Call Ready once it is applied.
func (n Notifier) Reloading() bool {
	return n.notify(fmt.Sprintf("%s\nMONOTONIC_USEC=%d", daemon.SdNotifyReloading, monotonicUsec()))
}

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(msg string) bool { return n.notify("STATUS=" + msg) }

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when WatchdogSec is not set.
func (n Notifier) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
