package scpi

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/transport"
)

const (
	// ErrorStatusQuery asks the instrument for the oldest entry of its error queue.
	ErrorStatusQuery = "SYST:ERR?"

	// DefaultErrorQueueDepth is the number of entries DrainErrors reads at most.
	DefaultErrorQueueDepth = 20
)

// Client sends commands and queries over a shared transport.Session.
//
// Every method holds the session transaction lock for its whole exchange, so a checked write
// and its error status query are never interleaved with another client's traffic.
type Client struct {
	sess       *transport.Session
	logger     logger.Logger
	resyncCmd  string
	queueDepth int

	metrics Metrics
}

// ClientOption represents a functional option for configuring a Client.
type ClientOption interface {
	apply(*Client) error
}

type clientOptFunc func(*Client) error

func (f clientOptFunc) apply(c *Client) error { return f(c) }

// WithLogger sets the logger of the client.
//
// The default logger is the session logger.
func WithLogger(l logger.Logger) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if l == nil {
			return errors.New("scpi: logger is nil")
		}
		c.logger = l

		return nil
	})
}

// WithResyncCommand sets a command that is written right after a stale session was reopened
// and before the failed round trip is retried, e.g. "*CLS".
//
// The default is no resync command.
func WithResyncCommand(cmd string) ClientOption {
	return clientOptFunc(func(c *Client) error {
		c.resyncCmd = cmd
		return nil
	})
}

// WithErrorQueueDepth sets the maximum number of entries read by DrainErrors.
// An error is returned if depth is outside the range [1, 100].
//
// The default value is 20.
func WithErrorQueueDepth(depth int) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if depth < 1 || depth > 100 {
			return errors.New("scpi: error queue depth out of range [1, 100]")
		}
		c.queueDepth = depth

		return nil
	})
}

// NewClient creates a Client on sess.
func NewClient(sess *transport.Session, opts ...ClientOption) (*Client, error) {
	if sess == nil {
		return nil, ErrSessionNil
	}

	c := &Client{
		sess:       sess,
		logger:     sess.GetLogger(),
		queueDepth: DefaultErrorQueueDepth,
	}

	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Session returns the underlying session.
func (c *Client) Session() *transport.Session { return c.sess }

// GetLogger returns the logger associated with the client.
func (c *Client) GetLogger() logger.Logger { return c.logger }

// GetMetrics returns the metrics associated with the client.
func (c *Client) GetMetrics() *Metrics { return &c.metrics }

// Write sends cmd without checking the instrument error status.
func (c *Client) Write(cmd string) error {
	c.sess.Lock()
	defer c.sess.Unlock()

	return c.write(cmd)
}

// Query sends cmd and returns the raw response.
func (c *Client) Query(cmd string) (string, error) {
	c.sess.Lock()
	defer c.sess.Unlock()

	return c.query(cmd)
}

// WriteChecked sends cmd and then queries the instrument error status.
//
// A nonzero status is returned as *DeviceError.
func (c *Client) WriteChecked(cmd string) error {
	c.sess.Lock()
	defer c.sess.Unlock()

	if err := c.write(cmd); err != nil {
		return err
	}

	return c.checkStatus(cmd)
}

// QueryChecked sends cmd and parses the response with parse.
//
// A response that parse rejects is returned as *ParseError.
func QueryChecked[T any](c *Client, cmd string, parse ParseFunc[T]) (T, error) {
	c.sess.Lock()
	defer c.sess.Unlock()

	var zero T

	resp, err := c.query(cmd)
	if err != nil {
		return zero, err
	}

	val, err := parse(resp)
	if err != nil {
		c.metrics.incParseErrCount()
		c.logger.Error("malformed response", "command", cmd, "response", resp, "error", err)

		return zero, &ParseError{Command: cmd, Response: resp, Err: err}
	}

	return val, nil
}

// QueryFloat is QueryChecked with ParseFloat.
func (c *Client) QueryFloat(cmd string) (float64, error) {
	return QueryChecked(c, cmd, ParseFloat)
}

// QueryInt is QueryChecked with ParseInt.
func (c *Client) QueryInt(cmd string) (int, error) {
	return QueryChecked(c, cmd, ParseInt)
}

// QueryBool is QueryChecked with ParseBool.
func (c *Client) QueryBool(cmd string) (bool, error) {
	return QueryChecked(c, cmd, ParseBool)
}

// Identify returns the *IDN? identification string.
func (c *Client) Identify() (string, error) {
	return QueryChecked(c, "*IDN?", ParseString)
}

// ClearStatus clears the status registers and the error queue of the instrument.
func (c *Client) ClearStatus() error {
	return c.Write("*CLS")
}

// ErrorStatus reads one entry of the instrument error queue.
//
// It returns nil when the instrument reports code 0.
func (c *Client) ErrorStatus() (*DeviceError, error) {
	c.sess.Lock()
	defer c.sess.Unlock()

	return c.readStatus("")
}

// DrainErrors reads the error queue until it reports code 0, at most the configured depth.
func (c *Client) DrainErrors() ([]*DeviceError, error) {
	c.sess.Lock()
	defer c.sess.Unlock()

	var devErrs []*DeviceError
	for i := 0; i < c.queueDepth; i++ {
		devErr, err := c.readStatus("")
		if err != nil {
			return devErrs, err
		}
		if devErr == nil {
			return devErrs, nil
		}
		devErrs = append(devErrs, devErr)
	}

	return devErrs, nil
}

func (c *Client) checkStatus(cmd string) error {
	devErr, err := c.readStatus(cmd)
	if err != nil {
		return err
	}

	if devErr != nil {
		c.metrics.incDeviceErrCount()
		c.logger.Error("instrument rejected command", "command", cmd, "code", devErr.Code, "message", devErr.Message)

		return devErr
	}

	return nil
}

func (c *Client) readStatus(cmd string) (*DeviceError, error) {
	resp, err := c.query(ErrorStatusQuery)
	if err != nil {
		return nil, err
	}

	code, msg, err := ParseErrorStatus(resp)
	if err != nil {
		c.metrics.incParseErrCount()
		return nil, &ParseError{Command: ErrorStatusQuery, Response: resp, Err: err}
	}

	if code == 0 {
		return nil, nil //nolint:nilnil
	}

	return &DeviceError{Code: code, Message: msg, Command: cmd}, nil
}

func (c *Client) write(cmd string) error {
	c.logger.Debug("write", "command", cmd)
	c.metrics.incWriteCount()

	return c.withRecovery(cmd, func() error {
		return c.sess.Write(cmd)
	})
}

func (c *Client) query(cmd string) (string, error) {
	c.logger.Debug("query", "command", cmd)
	c.metrics.incQueryCount()

	var resp string
	err := c.withRecovery(cmd, func() error {
		var err error
		resp, err = c.sess.Query(cmd)

		return err
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("response", "command", cmd, "response", resp)

	return resp, nil
}

// withRecovery runs op and, if it failed on a stale session, reopens the session and runs it
// exactly once more.
func (c *Client) withRecovery(cmd string, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	if !transport.IsSessionInvalid(err) {
		c.metrics.incTransportErrCount()
		c.logger.Error("transport failure", "command", cmd, "error", err)

		return err
	}

	c.metrics.incRecoveryCount()
	c.logger.Warn("session invalid, reopening", "command", cmd, "error", err)

	if rerr := c.sess.Reopen(); rerr != nil {
		c.metrics.incTransportErrCount()
		return fmt.Errorf("scpi: recover %q: %w", cmd, rerr)
	}

	if c.resyncCmd != "" {
		if rerr := c.sess.Write(c.resyncCmd); rerr != nil {
			c.metrics.incTransportErrCount()
			return rerr
		}
	}

	if err := op(); err != nil {
		c.metrics.incTransportErrCount()
		c.logger.Error("retry after reopen failed", "command", cmd, "error", err)

		return err
	}

	return nil
}
