package bot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/search"
)

// Client sends tasks to remote workers over NATS request-reply. Each task
// is a request on its own goroutine; the reply, or the error, is posted as
// a result.
type Client struct {
	nc      *nats.Conn
	subject string
	slots   int
	timeout time.Duration
	results chan<- search.Result
	ctx     context.Context
}

// NewClient returns a transport with the given number of worker slots.
// Requests in flight are abandoned when ctx is done.
func NewClient(ctx context.Context, nc *nats.Conn, subject string, slots int, timeout time.Duration,
	results chan<- search.Result) *Client {
	return &Client{nc: nc, subject: subject, slots: slots, timeout: timeout, results: results, ctx: ctx}
}

func (c *Client) Size() int {
	return c.slots
}

func (c *Client) Send(ctx context.Context, t search.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	go func() {
		c.post(c.request(t, data))
	}()
	return nil
}

func (c *Client) request(t search.Task, data []byte) search.Result {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		if c.nc.LastError() != nil {
			log.Error().Msgf("%v for request", c.nc.LastError())
		}
		log.Err(err).Int("worker", t.WorkerID).Msg("request-failed")
		return search.Failed(t, err)
	}
	var res search.Result
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return search.Failed(t, err)
	}
	// the reply answers this slot whatever the remote says
	res.WorkerID = t.WorkerID
	return res
}

func (c *Client) post(res search.Result) {
	select {
	case c.results <- res:
	case <-c.ctx.Done():
	}
}
