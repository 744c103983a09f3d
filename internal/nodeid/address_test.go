// internal/nodeid/address_test.go
package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_String(t *testing.T) {
	testCases := []struct {
		name        string
		addr        Address
		expectedStr string
	}{
		{name: "top level", addr: New(3), expectedStr: "3"},
		{name: "nested", addr: New(3, 7, 2), expectedStr: "3/7/2"},
		{name: "root", addr: Root(), expectedStr: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedStr, tc.addr.String())
		})
	}
}

func TestAddress_RoundTrip(t *testing.T) {
	for _, id := range []string{"0", "12", "1/2/3", "4294967295/0"} {
		t.Run(id, func(t *testing.T) {
			addr, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, id, addr.String())

			again, err := Parse(addr.String())
			require.NoError(t, err)
			assert.True(t, addr.Equal(again))
		})
	}
}

func TestAddress_Navigation(t *testing.T) {
	addr := New(1, 5)
	child := addr.Child(9)
	assert.Equal(t, "1/5/9", child.String())
	assert.Equal(t, uint32(9), child.Leaf())
	assert.Equal(t, "1/5", addr.String(), "Child must not alias the receiver")

	parent, ok := child.Parent()
	require.True(t, ok)
	assert.True(t, parent.Equal(addr))

	_, ok = New(1).Parent()
	assert.False(t, ok)
	assert.True(t, Root().IsRoot())
}
