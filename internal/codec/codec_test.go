package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct {
	Table string         `json:"table"`
	Data  map[string]any `json:"data"`
}

func TestJSONRoundTrip(t *testing.T) {
	in := payload{Table: "posts", Data: map[string]any{"title": "A"}}

	data, err := JSON{}.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, JSON{}.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestCBORRoundTrip(t *testing.T) {
	in := payload{Table: "posts", Data: map[string]any{"title": "A"}}

	data, err := CBOR{}.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, CBOR{}.Unmarshal(data, &out))
	require.Equal(t, in.Table, out.Table)
}
