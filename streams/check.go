package streams

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/meowbot/telemetry"
	"github.com/onnwee/meowbot/twitchapi"
)

// CheckReport is the result of an on-demand live check.
type CheckReport struct {
	Live   []twitchapi.Stream
	Errors int
}

// CheckLive asks Helix which watched channels are live right now. It does not
// touch the recorded statuses, so it never causes or suppresses an alert.
func (p *Poller) CheckLive(ctx context.Context) (CheckReport, error) {
	var report CheckReport
	if p.creds.Token() == "" {
		if err := p.refresh(ctx); err != nil {
			return report, err
		}
	}
	refreshed := false
	for _, name := range p.List() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		live, err := p.helix.GetStreams(cctx, name)
		cancel()
		if errors.Is(err, twitchapi.ErrUnauthorized) && !refreshed {
			refreshed = true
			_ = p.refresh(ctx)
		}
		if err != nil {
			report.Errors++
			slog.Warn("live check failed", slog.String("streamer", name), slog.Any("err", err))
			continue
		}
		if len(live) > 0 {
			s := live[0]
			if s.UserLogin == "" {
				s.UserLogin = name
			}
			report.Live = append(report.Live, s)
		}
	}
	telemetry.LoggerWithCorr(ctx).Debug("live check complete", slog.Int("live", len(report.Live)), slog.Int("errors", report.Errors))
	return report, nil
}
