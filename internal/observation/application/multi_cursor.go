package application

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observability/metrics"
)

type openFunc func(ctx context.Context, q observation.Query) (observation.Cursor, error)

// multiCursor concatenates the cursors of several queries, opening each
// lazily.
type multiCursor struct {
	ctx     context.Context
	queries []observation.Query
	open    openFunc
	logger  *zap.Logger

	next    int
	part    observation.Cursor
	current *observation.Observation
	closed  bool
	err     error
}

func newMultiCursor(ctx context.Context, queries []observation.Query, open openFunc, logger *zap.Logger) *multiCursor {
	metrics.CursorOpened()
	return &multiCursor{ctx: ctx, queries: queries, open: open, logger: logger}
}

func (c *multiCursor) Next() bool {
	if c.closed {
		if c.err == nil {
			c.err = observation.ErrCursorClosed
		}
		return false
	}
	c.current = nil
	for {
		if err := c.ctx.Err(); err != nil {
			c.fail(err)
			return false
		}
		if c.part == nil {
			if c.next >= len(c.queries) {
				return false
			}
			part, err := c.open(c.ctx, c.queries[c.next])
			if err != nil {
				c.fail(err)
				return false
			}
			c.part = part
			c.next++
		}
		if c.part.Next() {
			c.current = c.part.Observation()
			return true
		}
		err := c.part.Err()
		err = multierr.Append(err, c.part.Close())
		c.part = nil
		if err != nil {
			c.fail(err)
			return false
		}
	}
}

func (c *multiCursor) fail(err error) {
	c.err = err
	if closeErr := c.Close(); closeErr != nil {
		c.logger.Warn("cursor close after failure", zap.Error(closeErr))
	}
}

func (c *multiCursor) Observation() *observation.Observation { return c.current }

func (c *multiCursor) Err() error { return c.err }

func (c *multiCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = nil
	metrics.CursorClosed()
	if c.part == nil {
		return nil
	}
	err := c.part.Close()
	c.part = nil
	return err
}
