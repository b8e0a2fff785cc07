package sscma

import (
	"errors"
	"fmt"
	"sync"
)

// Sender writes one command to the device.
type Sender func(payload []byte) error

// Client drives one device. Replies are fed in through Receive.
type Client struct {
	send Sender

	mu        sync.Mutex
	onConnect func(ModelInfo)
	onResult  func(Result)
}

// NewClient creates a client that writes through send.
func NewClient(send Sender) *Client {
	return &Client{send: send}
}

// OnConnect sets the callback run when the device answers the handshake.
func (c *Client) OnConnect(fn func(ModelInfo)) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// OnResult sets the callback run for every inference event.
func (c *Client) OnResult(fn func(Result)) {
	c.mu.Lock()
	c.onResult = fn
	c.mu.Unlock()
}

// Handshake asks the device for its model info.
func (c *Client) Handshake() error {
	return c.write(Query(NameInfo))
}

// Invoke starts inference. times -1 runs until stopped; resultOnly false
// includes the frame image in each event.
func (c *Client) Invoke(times int, differed, resultOnly bool) error {
	return c.write(Set(NameInvoke, times, differed, resultOnly))
}

// SetScoreThreshold sets the detection confidence threshold (0-100).
func (c *Client) SetScoreThreshold(v int) error {
	return c.write(Set(NameTScore, v))
}

// SetIoUThreshold sets the non-max suppression IoU threshold (0-100).
func (c *Client) SetIoUThreshold(v int) error {
	return c.write(Set(NameTIoU, v))
}

func (c *Client) write(cmd []byte) error {
	if err := c.send(cmd); err != nil {
		return fmt.Errorf("sending %q: %w", cmd, err)
	}
	return nil
}

// Receive dispatches one device payload.
func (c *Client) Receive(payload []byte) error {
	replies, err := Parse(payload)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	onConnect, onResult := c.onConnect, c.onResult
	c.mu.Unlock()

	for _, r := range replies {
		switch {
		case r.Type == TypeLog:
			continue

		case r.Type == TypeResponse && r.Name == NameInfo:
			if r.Code != 0 {
				errs = append(errs, fmt.Errorf("%w: INFO code %d", ErrDevice, r.Code))
				continue
			}
			info, err := DecodeModelInfo(r.Data)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if onConnect != nil {
				onConnect(info)
			}

		case r.Type == TypeEvent && (r.Name == NameInvoke || r.Name == NameSample):
			if r.Code != 0 {
				continue
			}
			res, err := DecodeResult(r.Data)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if onResult != nil {
				onResult(res)
			}

		case r.Type == TypeEvent && r.Name == NameInitStat:
			// The device rebooted; its model may have changed.
			if err := c.Handshake(); err != nil {
				errs = append(errs, err)
			}

		case r.Code != 0:
			errs = append(errs, fmt.Errorf("%w: %s code %d", ErrDevice, r.Name, r.Code))
		}
	}
	return errors.Join(errs...)
}
