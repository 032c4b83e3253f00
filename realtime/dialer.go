package realtime

import (
	"context"

	"github.com/roommate-match/go-client/logger"
)

// Dialer opens channels against one realtime base url.
type Dialer struct {
	BaseURL string
	Origin  string
	Logger  logger.Logger
}

// Dial opens a channel, filling the base url, origin and logger from the
// dialer when opts leaves them empty.
func (d *Dialer) Dial(ctx context.Context, opts Options) (Conn, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = d.BaseURL
	}
	if opts.Origin == "" {
		opts.Origin = d.Origin
	}
	if opts.Logger == nil {
		opts.Logger = d.Logger
	}
	ch, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
