package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNetwork = "Test SDF Network ; September 2015"

func TestApplicationAddress_Deterministic(t *testing.T) {
	a := ApplicationAddress(1002)
	b := ApplicationAddress(1002)
	c := ApplicationAddress(1003)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, IsApplicationAddress(a))
	assert.Equal(t, byte('C'), a[0])
	assert.Error(t, ValidateAccountAddress(a))
	assert.NoError(t, ValidateAddress(a))
}

func TestValidateAccountAddress(t *testing.T) {
	kp := keypair.MustRandom()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid account", kp.Address(), false},
		{"empty", "", true},
		{"seed instead of address", kp.Seed(), true},
		{"garbage", "GNOTANADDRESS", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccountAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	kp := keypair.MustRandom()

	env, err := Sign(testNetwork, kp, OpTransferNative, map[string]any{"to": "x", "amount": 5})
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), env.Sender)
	assert.NoError(t, env.Verify(testNetwork))

	// Same envelope on a different network must not verify
	err = env.Verify("Public Global Stellar Network ; September 2015")
	assert.Equal(t, CodeInvalidAuthority, CodeOf(err))

	// Tampered body
	env.Body = []byte(`{"to":"y","amount":5}`)
	assert.Error(t, env.Verify(testNetwork))
}

func TestSign_RequiresSigner(t *testing.T) {
	_, err := Sign(testNetwork, nil, OpCreateAsset, struct{}{})
	assert.Equal(t, CodeMalformed, CodeOf(err))
}

func TestParseKeyring(t *testing.T) {
	a := keypair.MustRandom()
	b := keypair.MustRandom()

	ring, err := ParseKeyring([]string{a.Seed(), " ", b.Seed()})
	require.NoError(t, err)
	assert.Len(t, ring, 2)
	assert.Equal(t, a.Address(), ring.Signer(a.Address()).Address())
	assert.Nil(t, ring.Signer(keypair.MustRandom().Address()))

	_, err = ParseKeyring([]string{"not-a-seed"})
	assert.Error(t, err)
}

func TestIsAmbiguous(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"definite rejection", Errorf(CodeInsufficientBalance, "short"), false},
		{"ambiguous submission", AmbiguousError(OpCreateAsset, errors.New("i/o timeout")), true},
		{"wrapped ambiguous", fmt.Errorf("step: %w", AmbiguousError(OpCreateAsset, nil)), true},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAmbiguous(tt.err))
		})
	}
}

func TestApplicationCompatible(t *testing.T) {
	app := &Application{SchemaVersion: 1, Bootstrap: BootstrapArgs{AssetID: 7, Price: 10}}

	assert.True(t, app.Compatible(AppSpec{SchemaVersion: 1, Bootstrap: BootstrapArgs{AssetID: 7, Price: 10}}))
	assert.False(t, app.Compatible(AppSpec{SchemaVersion: 2, Bootstrap: BootstrapArgs{AssetID: 7, Price: 10}}))
	assert.False(t, app.Compatible(AppSpec{SchemaVersion: 1, Bootstrap: BootstrapArgs{AssetID: 7, Price: 11}}))
}
