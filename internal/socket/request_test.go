package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncodeDecodeRoundTrips(t *testing.T) {
	r := Request{
		Lockspace:     "cluster1",
		Resource:      "vm1",
		Generation:    42,
		ExpectOwnerID: 7,
		Remember:      true,
		ForceMode:     false,
	}

	decoded, err := DecodeRequest(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestRequestEncodeDecodeEmptyStrings(t *testing.T) {
	r := Request{Generation: 1}
	decoded, err := DecodeRequest(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestDecodeRequestRejectsTruncatedPayload(t *testing.T) {
	_, err := DecodeRequest([]byte{0, 0, 0, 0}) // two zero-length strings, no fixed tail
	require.Error(t, err)

	_, err = DecodeRequest([]byte{0, 0})
	require.Error(t, err)
}

func TestRequestEncodeDecodeRoundTripsResourceList(t *testing.T) {
	r := Request{
		Lockspace:  "cluster1",
		Generation: 3,
		Resources:  []string{"vm1", "vm2", "vm3"},
	}

	decoded, err := DecodeRequest(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
	assert.Equal(t, r.Resources, decoded.ResourceNames())
}

func TestResourceNamesFallsBackToSingularResource(t *testing.T) {
	r := Request{Resource: "vm1"}
	assert.Equal(t, []string{"vm1"}, r.ResourceNames())

	assert.Nil(t, Request{}.ResourceNames())
}
