package mpd

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"mpdris/internal/player"
)

func (c *Client) run(ctx context.Context, command string) error {
	_, err := c.Request(ctx, command)
	return err
}

// Play starts or resumes playback
func (c *Client) Play(ctx context.Context) error {
	return c.run(ctx, "play")
}

// Pause pauses playback; a stopped player stays stopped
func (c *Client) Pause(ctx context.Context) error {
	return c.run(ctx, "pause 1")
}

// Stop stops playback
func (c *Client) Stop(ctx context.Context) error {
	return c.run(ctx, "stop")
}

// TogglePlay flips between playing and paused
func (c *Client) TogglePlay(ctx context.Context) error {
	return c.run(ctx, "pause")
}

// PlaySong plays the queue entry with the given song id
func (c *Client) PlaySong(ctx context.Context, id uint32) error {
	return c.run(ctx, fmt.Sprintf("playid %d", id))
}

// formatSeconds renders a duration as seconds with millisecond precision
func formatSeconds(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// Seek jumps to an absolute position in the current song
func (c *Client) Seek(ctx context.Context, position time.Duration) error {
	return c.run(ctx, "seekcur "+formatSeconds(max(position, 0)))
}

// SeekRelative moves the playhead forward or backward by offset
func (c *Client) SeekRelative(ctx context.Context, forward bool, offset time.Duration) error {
	sign := lo.Ternary(forward, "+", "-")
	return c.run(ctx, "seekcur "+sign+formatSeconds(max(offset, 0)))
}

// Next skips to the following song. At the end of the queue the player stops,
// unless repeat is on, in which case nothing happens.
func (c *Client) Next(ctx context.Context) error {
	status := c.state.Snapshot()
	switch {
	case status.NextSong != nil:
		return c.run(ctx, fmt.Sprintf("seekid %d 0", *status.NextSong))
	case status.Repeat == player.RepeatOff:
		return c.Stop(ctx)
	default:
		return nil
	}
}

// Previous goes back one song. previous always starts playback, so a paused or
// stopped player is paused again in the same batch.
func (c *Client) Previous(ctx context.Context) error {
	status := c.state.Snapshot()
	if status.PlaylistLength == 0 {
		return nil
	}
	if status.State == player.Playing {
		return c.run(ctx, "previous")
	}
	_, err := c.RequestList(ctx, "previous", "pause 1")
	return err
}

// SetVolume sets the mixer volume in percent
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	volume = lo.Clamp(volume, 0, 100)
	if err := c.run(ctx, fmt.Sprintf("setvol %d", volume)); err != nil {
		return err
	}
	c.state.Update(func(s *player.Status) {
		s.Volume = volume
	})
	return nil
}

// SetRepeat sets the repeat and single flags together
func (c *Client) SetRepeat(ctx context.Context, repeat player.Repeat) error {
	repeatFlag := lo.Ternary(repeat != player.RepeatOff, 1, 0)
	singleFlag := lo.Ternary(repeat == player.RepeatSingle, 1, 0)

	_, err := c.RequestList(ctx,
		fmt.Sprintf("repeat %d", repeatFlag),
		fmt.Sprintf("single %d", singleFlag),
	)
	if err != nil {
		return err
	}
	c.state.Update(func(s *player.Status) {
		s.Repeat = repeat
	})
	return nil
}

// SetShuffle turns random playback on or off
func (c *Client) SetShuffle(ctx context.Context, shuffle bool) error {
	if err := c.run(ctx, fmt.Sprintf("random %d", lo.Ternary(shuffle, 1, 0))); err != nil {
		return err
	}
	c.state.Update(func(s *player.Status) {
		s.Shuffle = shuffle
	})
	return nil
}
