package metatx

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testForwarder = common.HexToAddress("0x86C80a8aa58e0A4fa09A69624c31Ab2a6CAD56b8")

func TestExecuteSelector(t *testing.T) {
	want := crypto.Keccak256([]byte("execute(address,bytes)"))[:4]
	assert.Equal(t, want, ExecuteSelector)
}

func TestBuild(t *testing.T) {
	to := "0x9399BB24DBB5C4b782C70c2969F58716Ebbd6a3b"

	env, err := Build(testForwarder, to, "0xdeadbeef", "1000")
	require.NoError(t, err)

	assert.Equal(t, testForwarder, env.Forwarder)
	assert.Equal(t, big.NewInt(1000), env.Value)
	require.True(t, len(env.Data) > 4)
	assert.Equal(t, ExecuteSelector, env.Data[:4])

	args, err := forwarder.Methods["execute"].Inputs.Unpack(env.Data[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, common.HexToAddress(to), args[0])
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, args[1])
}

func TestBuild_Deterministic(t *testing.T) {
	to := "0x9399bb24dbb5c4b782c70c2969f58716ebbd6a3b"

	a, err := Build(testForwarder, to, "0x01", "")
	require.NoError(t, err)

	b, err := Build(testForwarder, to, "0x01", "0")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(0), a.Value.Int64())
}

func TestBuild_Errors(t *testing.T) {
	valid := "0x9399BB24DBB5C4b782C70c2969F58716Ebbd6a3b"

	tests := []struct {
		name  string
		to    string
		data  string
		value string
		want  error
	}{
		{name: "not an address", to: "not-an-address", data: "0x", want: ErrInvalidAddress},
		{name: "short address", to: "0x1234", data: "0x", want: ErrInvalidAddress},
		{name: "bad checksum", to: "0x9399Bb24DBB5C4b782C70c2969F58716Ebbd6a3b", data: "0x", want: ErrInvalidAddress},
		{name: "missing prefix", to: valid, data: "deadbeef", want: ErrInvalidPayload},
		{name: "non hex", to: valid, data: "0xzz", want: ErrInvalidPayload},
		{name: "odd length", to: valid, data: "0xabc", want: ErrInvalidPayload},
		{name: "negative value", to: valid, data: "0x", value: "-1", want: ErrInvalidValue},
		{name: "garbage value", to: valid, data: "0x", value: "ten", want: ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(testForwarder, tt.to, tt.data, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestParseAddress_CaseVariants(t *testing.T) {
	for _, s := range []string{
		"0x9399BB24DBB5C4b782C70c2969F58716Ebbd6a3b",
		"0x9399bb24dbb5c4b782c70c2969f58716ebbd6a3b",
		"0x9399BB24DBB5C4B782C70C2969F58716EBBD6A3B",
	} {
		addr, err := ParseAddress(s)
		require.NoError(t, err, s)
		assert.Equal(t, common.HexToAddress(s), addr)
	}
}

func TestParseValue_Hex(t *testing.T) {
	v, err := ParseValue("0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(16), v.Int64())
}
