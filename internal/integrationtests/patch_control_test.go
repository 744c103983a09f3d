package integrationtests

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/patchflow/internal/msg"
)

func TestControl_CounterThroughSubpatch(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// Nodes are numbered objects first: count=0, wrap=1, show=2, tick=3.
	r := startPatch(t, `
patch "count" {
  object "count" {
    text = "counter"
  }
  object "wrap" {
    text = "p"
    patch {
      object "in" {
        text = "in 1"
      }
      object "out" {
        text = "out 1"
      }
      connect {
        from = "in"
        to   = "out"
      }
    }
  }
  object "show" {
    text = "number"
  }
  message "tick" {
    value = "bang"
  }
  connect {
    from = "tick"
    to   = "count"
  }
  connect {
    from = "count"
    to   = "wrap"
  }
  connect {
    from = "wrap"
    to   = "show"
  }
}
`)

	// --- Act & Assert ---
	r.send(t, "3", 0, msg.Bang)
	r.eventuallyValue(t, "2", 1.0)
	r.send(t, "3", 0, msg.Bang)
	r.eventuallyValue(t, "2", 2.0)
}

func TestControl_ArithmeticUsesColdArgument(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	r := startPatch(t, `
patch "sum" {
  object "add" {
    text = "+ 10"
  }
  object "show" {
    text = "number"
  }
  message "five" {
    value = 5
  }
  message "one" {
    value = 1
  }
  connect {
    from = "five"
    to   = "add"
  }
  connect {
    from = "one"
    to   = "add:1"
  }
  connect {
    from = "add"
    to   = "show"
  }
}
`)

	// --- Act & Assert ---
	r.send(t, "2", 0, msg.Bang)
	r.eventuallyValue(t, "1", 15.0)

	// The right inlet is cold: it only replaces the operand.
	r.send(t, "3", 0, msg.Bang)
	r.send(t, "0", 0, msg.Bang)
	r.eventuallyValue(t, "1", 6.0)
}

func TestControl_PublishToSubscribers(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	r := startPatch(t, `
patch "bus" {
  object "tx" {
    text = "send freq"
  }
  object "rx" {
    text = "r freq"
  }
  object "show" {
    text = "number"
  }
  message "value" {
    value = 440
  }
  connect {
    from = "value"
    to   = "tx"
  }
  connect {
    from = "rx"
    to   = "show"
  }
}
`)

	// --- Act ---
	// A number message ignores what it receives and sends its own value.
	r.send(t, "3", 0, 7.0)

	// --- Assert ---
	r.eventuallyValue(t, "2", 440.0)
}

func TestControl_LoadbangReachesAuthoringOperators(t *testing.T) {
	t.Parallel()

	// --- Arrange & Act ---
	r := startPatch(t, `
patch "hello" {
  object "start" {
    text = "loadbang"
  }
  object "log" {
    text       = "print"
    attributes = { label = "hello" }
  }
  connect {
    from = "start"
    to   = "log"
  }
}
`)

	// --- Assert ---
	require.Eventually(t, func() bool {
		return strings.Contains(r.logs.String(), "🖨️  hello: bang")
	}, testTimeout, testTick)
}

func TestControl_ButtonFeedsCounterInEvaluationContext(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The button runs in the authoring context and its bang is sent back
	// into the evaluation context through its outlet.
	r := startPatch(t, `
patch "press" {
  object "button" {
    text = "bang"
  }
  object "count" {
    text = "counter"
  }
  object "show" {
    text = "number"
  }
  connect {
    from = "button"
    to   = "count"
  }
  connect {
    from = "count"
    to   = "show"
  }
}
`)

	// --- Act ---
	r.send(t, "0", 0, msg.Bang)
	r.eventuallyValue(t, "2", 1.0)
	r.send(t, "0", 0, 3.0)

	// --- Assert ---
	r.eventuallyValue(t, "2", 2.0)
}
