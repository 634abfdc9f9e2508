package memory

import (
	"context"

	observation "sos-cloud/internal/observation/domain"
)

// DefaultPageSize is used when a stream is opened without a page size.
const DefaultPageSize = 100

type fetchFunc func(ctx context.Context, limit, offset int) ([]*observation.Observation, error)

// pageCursor pulls one page at a time from a fetch function.
type pageCursor struct {
	ctx      context.Context
	fetch    fetchFunc
	pageSize int

	page    []*observation.Observation
	pos     int
	offset  int
	current *observation.Observation
	done    bool
	closed  bool
	err     error
}

func newPageCursor(ctx context.Context, pageSize int, fetch fetchFunc) *pageCursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &pageCursor{ctx: ctx, fetch: fetch, pageSize: pageSize}
}

func (c *pageCursor) Next() bool {
	if c.closed {
		if c.err == nil {
			c.err = observation.ErrCursorClosed
		}
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		c.Close()
		return false
	}
	if c.pos >= len(c.page) {
		if c.done {
			c.current = nil
			return false
		}
		page, err := c.fetch(c.ctx, c.pageSize, c.offset)
		if err != nil {
			c.err = err
			c.Close()
			return false
		}
		c.page, c.pos = page, 0
		c.offset += len(page)
		if len(page) < c.pageSize {
			c.done = true
		}
		if len(page) == 0 {
			c.current = nil
			return false
		}
	}
	c.current = c.page[c.pos]
	c.pos++
	return true
}

func (c *pageCursor) Observation() *observation.Observation { return c.current }

func (c *pageCursor) Err() error { return c.err }

func (c *pageCursor) Close() error {
	c.closed = true
	c.page = nil
	c.current = nil
	return nil
}
