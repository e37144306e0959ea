package transport

import (
	"encoding/json"
	"testing"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeForSuccess(t *testing.T) {
	req := &Envelope{Type: "Echo", RequestID: "r1"}
	out := envelopeFor(req, map[string]int{"n": 7}, nil)

	assert.Equal(t, "Echo", out.Type)
	assert.Equal(t, "r1", out.RequestID)
	assert.Nil(t, out.Error)
	assert.JSONEq(t, `{"n":7}`, string(out.Body))
}

func TestEnvelopeForCarriesErrorKindAndHint(t *testing.T) {
	req := &Envelope{Type: "ConfigPublish"}
	out := envelopeFor(req, nil, types.NotLeader("10.0.0.2:8849"))

	require.NotNil(t, out.Error)
	assert.Equal(t, string(types.KindNotLeader), out.Error.Kind)
	assert.Equal(t, "10.0.0.2:8849", out.Error.Hint)

	// The error survives the wire round-trip with its Kind intact.
	back := errorFromEnvelope(out.Error)
	assert.Equal(t, types.KindNotLeader, types.KindOf(back))
}

func TestEnvelopeForUntypedErrorMapsToInternal(t *testing.T) {
	out := envelopeFor(&Envelope{Type: "X"}, nil, json.Unmarshal([]byte("{"), &struct{}{}))
	require.NotNil(t, out.Error)
	assert.Equal(t, string(types.KindInternal), out.Error.Kind)
}

func TestDecodeBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	got, err := decodeBody[payload]([]byte(`{"name":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	empty, err := decodeBody[payload](nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Name)

	_, err = decodeBody[payload]([]byte(`{broken`))
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestCodecRoundTrip(t *testing.T) {
	in := &Envelope{
		Type:    "ConfigGet",
		Headers: map[string]string{"accessToken": "tok"},
		Body:    json.RawMessage(`{"dataId":"a"}`),
	}

	data, err := envelopeCodec{}.Marshal(in)
	require.NoError(t, err)

	out := new(Envelope)
	require.NoError(t, envelopeCodec{}.Unmarshal(data, out))
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Headers, out.Headers)
	assert.JSONEq(t, string(in.Body), string(out.Body))

	_, err = envelopeCodec{}.Marshal("not an envelope")
	assert.Error(t, err)
}
