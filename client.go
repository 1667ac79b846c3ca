package rtmp

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/config"
	"go.uber.org/zap"
)

// Client publishes one stream to the URL of its configuration. The last path element of the URL is the stream key
// unless the configuration sets one, the rest is the URL of the connection.
type Client struct {
	logger *zap.SugaredLogger
	cfg    *config.Config

	// OnEvent receives every event of the session. It's called from the session goroutine.
	OnEvent func(Event)

	connectURL string
	streamKey  string
	session    *Session
	stream     *Stream
}

func NewClient(cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	connectURL, streamKey, err := SplitStreamURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.StreamKey != "" {
		streamKey = cfg.StreamKey
	}
	if streamKey == "" {
		return nil, ErrInvalidURLPath
	}

	c := &Client{
		logger:     logger,
		cfg:        cfg,
		connectURL: connectURL,
		streamKey:  streamKey,
	}
	opts = append([]Option{WithEventHandler(c.onEvent)}, opts...)
	c.session = NewSession(cfg, logger, opts...)
	c.stream = c.session.NewStream()
	return c, nil
}

// SplitStreamURL splits an rtmp:// or rtmps:// URL into the URL to connect to and the stream key, its last path
// element. The query stays with the connection URL.
func SplitStreamURL(rawURL string) (connectURL string, streamKey string, err error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", "", err
	}
	path := strings.TrimRight(u.Path, "/")
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "", "", errors.Wrapf(ErrInvalidURLPath, "%q", u.Path)
	}
	streamKey, err = url.PathUnescape(path[i+1:])
	if err != nil {
		return "", "", errors.Wrapf(err, "stream key %q", path[i+1:])
	}
	c := *u
	c.Path = path[:i]
	c.RawPath = ""
	return c.String(), streamKey, nil
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Stream() *Stream {
	return c.stream
}

func (c *Client) StreamKey() string {
	return c.streamKey
}

// Run connects, publishes and runs the session until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Infof("publishing %q to %s", c.streamKey, tcURLString(c.connectURL))
	if err := c.stream.Publish(c.streamKey); err != nil {
		return err
	}
	if err := c.session.Connect(c.connectURL); err != nil {
		return err
	}
	return c.session.Run(ctx)
}

func (c *Client) onEvent(event Event) {
	if c.OnEvent != nil {
		c.OnEvent(event)
	}
}

// tcURLString hides the credentials of rawURL for logging.
func tcURLString(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return tcURL(u)
}
