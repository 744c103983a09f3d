package control

import (
	"fmt"

	"github.com/vk/patchflow/internal/attr"
	"github.com/vk/patchflow/internal/msg"
	"github.com/vk/patchflow/internal/operator"
)

var counterAttrs = attr.Schema{
	attr.Number("inc", 1),
	attr.String("dir", "up", "up", "down", "up-down"),
	attr.Number("min", 0),
	attr.Number("max", 16),
}

// boundary names the bound a carry was last fired for.
type boundary uint8

const (
	noBoundary boundary = iota
	lowerBoundary
	upperBoundary
)

// Counter steps a value between inclusive bounds. The first outlet carries
// the value, the second a bang when the value crosses a bound. A carry is
// latched to its bound and released once the value leaves it, so a value
// held on a bound never floods the carry outlet.
type Counter struct {
	node      *operator.Node
	current   float64
	direction float64
	latch     boundary
}

// NewCounter reads its attributes live from n on every evaluation.
func NewCounter(n *operator.Node) (operator.Behavior, error) {
	c := &Counter{node: n, direction: 1}
	c.current, _ = c.bounds()
	return c, nil
}

func (c *Counter) bounds() (lo, hi float64) {
	lo, hi = c.node.Attrs.Number("min"), c.node.Attrs.Number("max")
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

func (c *Counter) mode() string { return c.node.Attrs.String("dir") }

// Value returns the current count.
func (c *Counter) Value() float64 { return c.current }

// Evaluate implements operator.Behavior.
func (c *Counter) Evaluate(m msg.Message) ([]msg.Message, error) {
	inc := c.node.Attrs.Number("inc")
	carry := false
	switch {
	case msg.IsBang(m):
		carry = c.step(c.heading() * inc)
	case m == "inc":
		carry = c.step(inc)
	case m == "dec":
		carry = c.step(-inc)
	case m == "reset":
		lo, _ := c.bounds()
		c.set(lo)
	default:
		f, ok := m.(float64)
		if !ok {
			return nil, fmt.Errorf("counter: unsupported message %s", msg.Format(m))
		}
		c.set(f)
	}
	out := []msg.Message{c.current, nil}
	if carry {
		out[1] = msg.Bang
	}
	return out, nil
}

// heading is the direction a bang moves the value in.
func (c *Counter) heading() float64 {
	switch c.mode() {
	case "down":
		return -1
	case "up-down":
		return c.direction
	default:
		return 1
	}
}

// set moves the value without carry and resets the latch.
func (c *Counter) set(v float64) {
	lo, hi := c.bounds()
	c.current = min(max(v, lo), hi)
	c.latch = noBoundary
	if c.mode() == "up-down" {
		switch {
		case c.current >= hi:
			c.direction = -1
		case c.current <= lo:
			c.direction = 1
		}
	}
}

func (c *Counter) step(delta float64) bool {
	lo, hi := c.bounds()
	if c.latch == upperBoundary && c.current != hi || c.latch == lowerBoundary && c.current != lo {
		c.latch = noBoundary
	}

	next := c.current + delta
	crossed := noBoundary
	if c.mode() == "up-down" {
		switch {
		case delta > 0 && next >= hi:
			next, crossed, c.direction = hi, upperBoundary, -1
		case delta < 0 && next <= lo:
			next, crossed, c.direction = lo, lowerBoundary, 1
		}
	} else {
		switch {
		case next > hi:
			next, crossed = lo, upperBoundary
		case next < lo:
			next, crossed = hi, lowerBoundary
		}
	}
	c.current = next

	if crossed == noBoundary || crossed == c.latch {
		return false
	}
	c.latch = crossed
	return true
}
