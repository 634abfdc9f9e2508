package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	observation "sos-cloud/internal/observation/domain"
)

// DefaultFetchSize is the number of rows fetched per round trip.
const DefaultFetchSize = 500

// serverCursor pages through a DECLAREd cursor with FETCH FORWARD. Outside a
// transaction it owns a read-only transaction that ends on Close.
type serverCursor struct {
	ctx      context.Context
	tx       *sql.Tx
	ownsTx   bool
	name     string
	shape    observation.Shape
	pageSize int

	buffer  []*observation.Observation
	current *observation.Observation
	done    bool
	closed  bool
	err     error
}

func openCursor(ctx context.Context, store *Store, shape observation.Shape, query string, args []any, pageSize int) (*serverCursor, error) {
	if pageSize <= 0 {
		pageSize = DefaultFetchSize
	}
	tx, owns := store.tx, false
	if tx == nil {
		var err error
		tx, err = store.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("observation cursor: begin: %w", err)
		}
		owns = true
	}
	c := &serverCursor{
		ctx:      ctx,
		tx:       tx,
		ownsTx:   owns,
		name:     "obs_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		shape:    shape,
		pageSize: pageSize,
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", c.name, query), args...); err != nil {
		if owns {
			_ = tx.Rollback()
		}
		return nil, fmt.Errorf("observation cursor: declare: %w", err)
	}
	return c, nil
}

// Next advances to the next observation, fetching a page when the buffer is empty.
func (c *serverCursor) Next() bool {
	if c.closed {
		c.current = nil
		if c.err == nil {
			c.err = observation.ErrCursorClosed
		}
		return false
	}
	if c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		_ = c.release()
		return false
	}
	if len(c.buffer) == 0 && !c.done {
		if err := c.fetch(); err != nil {
			c.err = err
			_ = c.release()
			return false
		}
	}
	if len(c.buffer) == 0 {
		c.current = nil
		return false
	}
	c.current = c.buffer[0]
	c.buffer = c.buffer[1:]
	return true
}

func (c *serverCursor) fetch() error {
	rows, err := c.tx.QueryContext(c.ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", c.pageSize, c.name))
	if err != nil {
		return fmt.Errorf("observation cursor: fetch: %w", err)
	}
	defer rows.Close()
	page := make([]*observation.Observation, 0, c.pageSize)
	for rows.Next() {
		o, err := scanObservation(rows, c.shape)
		if err != nil {
			return err
		}
		page = append(page, o)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(page) < c.pageSize {
		c.done = true
	}
	c.buffer = page
	return nil
}

// Observation returns the current observation.
func (c *serverCursor) Observation() *observation.Observation {
	return c.current
}

// Err returns the first error met while iterating.
func (c *serverCursor) Err() error {
	return c.err
}

// Close releases the server-side cursor. It is safe to call more than once.
func (c *serverCursor) Close() error {
	if c.closed {
		return nil
	}
	return c.release()
}

func (c *serverCursor) release() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.buffer = nil
	_, closeErr := c.tx.ExecContext(context.Background(), "CLOSE "+c.name)
	err := ignoreDone(closeErr)
	if c.ownsTx {
		err = multierr.Append(err, ignoreDone(c.tx.Commit()))
	}
	if err != nil {
		return fmt.Errorf("observation cursor: close: %w", err)
	}
	return nil
}

var _ observation.Cursor = (*serverCursor)(nil)
