package daemon

import (
	"context"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/ojdaemon/ojd/internal/adapter/session"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/state"
)

// Shutdown flushes the log, releases the state-directory lock, and
// (when kill is set) force-kills every session still on record, folding
// every failure into one error instead of stopping at the first.
func (d *Daemon) Shutdown(ctx context.Context, sessions *session.Adapter, kill bool, logger *slog.Logger) error {
	var result *multierror.Error

	d.writeMu.Lock()
	if err := d.wal.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	d.writeMu.Unlock()

	if kill {
		var ids []oj.SessionID
		d.Read(func(s *state.State) {
			for id := range s.Sessions {
				ids = append(ids, id)
			}
		})
		for _, id := range ids {
			if err := sessions.Close(ctx, id, true, 0); err != nil {
				logger.Error("killing session during shutdown", "session", id, "error", err)
				result = multierror.Append(result, err)
			}
		}
	}

	if err := d.lock.Release(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
