package mpd

import (
	"context"
	"time"

	"github.com/samber/lo"

	"mpdris/internal/player"
)

// idleCommand lists the subsystems whose changes affect the published status
const idleCommand = "idle stored_playlist playlist player mixer options"

type idleResult struct {
	pairs []Pair
	err   error
}

// idleLoop waits for subsystem changes on the idle connection and refreshes
// the shared status after each one
func (c *Client) idleLoop(ctx context.Context) {
	log := c.logger.WithField("channel", idleChannel)
	frame, _ := Encode(idleCommand)

	for ctx.Err() == nil {
		c.idleMu.Lock()

		generation := c.idle.Generation()
		s := c.idle.current()
		if s == nil {
			c.idleMu.Unlock()
			return
		}

		// the read runs on a snapshot of the stream; when it is abandoned a
		// reconnect closes that stream and the late result lands in the buffer
		result := make(chan idleResult, 1)
		go func() {
			pairs, err := s.roundTrip(ctx, frame)
			result <- idleResult{pairs: pairs, err: err}
		}()

		select {
		case res := <-result:
			if res.err != nil {
				c.idleMu.Unlock()
				if ctx.Err() != nil {
					return
				}
				log.WithError(res.err).Warn("Idle failed, reconnecting")
				c.recoverIdle(ctx, generation)
				continue
			}

			changed := changedSubsystems(res.pairs)
			log.WithField("subsystems", changed).Debug("Backend changed")

			couldBeSeeking, err := c.refresh(ctx, c.idle)
			c.idleMu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("Failed to update status")
				continue
			}

			if couldBeSeeking && lo.Contains(changed, "player") {
				s := c.state.Snapshot()
				c.state.Publish(player.PositionEvent(s.ElapsedMicros()))
			}

		case <-c.interrupt:
			c.idleMu.Unlock()

			// a reconnect holds the locks now; wait until it is done
			select {
			case <-c.interrupt:
			case <-ctx.Done():
				return
			}

			if c.idle.Generation() == generation {
				c.recoverIdle(ctx, generation)
			}

		case <-ctx.Done():
			c.idleMu.Unlock()
			return
		}
	}
}

// recoverIdle reconnects the idle connection unless someone else already did.
// An abandoned idle request leaves an unread response on the socket, so the
// old stream is never reused.
func (c *Client) recoverIdle(ctx context.Context, generation uint64) {
	c.idleMu.Lock()
	var err error
	if c.idle.Generation() == generation {
		err = c.idle.Reconnect(ctx)
	}
	c.idleMu.Unlock()

	if err == nil || ctx.Err() != nil {
		return
	}
	c.logger.WithError(err).WithField("channel", idleChannel).Error("Failed to reconnect idle connection")

	delay := c.idle.Options().RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
