package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	k1, err := DeriveKey([]byte("correct horse"), salt, testParams)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("correct horse"), salt, testParams)
	require.NoError(t, err)
	k3, err := DeriveKey([]byte("wrong horse"), salt, testParams)
	require.NoError(t, err)

	assert.Equal(t, k1.b, k2.b)
	assert.NotEqual(t, k1.b, k3.b)
}

func TestDeriveKeyRejectsBadInput(t *testing.T) {
	salt, _ := GenerateSalt()
	_, err := DeriveKey(nil, salt, testParams)
	assert.Error(t, err)
	_, err = DeriveKey([]byte("p"), salt[:4], testParams)
	assert.Error(t, err)
	_, err = DeriveKey([]byte("p"), salt, KDFParams{Time: 0, MemoryKiB: 1024, Threads: 1})
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	salt, _ := GenerateSalt()
	key, err := DeriveKey([]byte("pass"), salt, testParams)
	require.NoError(t, err)

	for _, plain := range [][]byte{{}, []byte("x"), []byte(`{"branches":{"main":{}}}`)} {
		sealed, err := Seal(key, plain, []byte("brain-1"))
		require.NoError(t, err)
		got, err := Open(key, sealed, []byte("brain-1"))
		require.NoError(t, err)
		assert.Equal(t, string(plain), string(got))
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	salt, _ := GenerateSalt()
	key, _ := DeriveKey([]byte("pass"), salt, testParams)
	a, _ := Seal(key, []byte("same"), nil)
	b, _ := Seal(key, []byte("same"), nil)
	assert.NotEqual(t, a, b)
}

func TestOpenFailsClosed(t *testing.T) {
	salt, _ := GenerateSalt()
	key, _ := DeriveKey([]byte("pass"), salt, testParams)
	other, _ := DeriveKey([]byte("other"), salt, testParams)
	sealed, err := Seal(key, []byte("secret state"), []byte("brain-1"))
	require.NoError(t, err)

	_, err = Open(other, sealed, []byte("brain-1"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = Open(key, sealed, []byte("brain-2"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0x01
	plain, err := Open(key, flipped, []byte("brain-1"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Nil(t, plain)

	_, err = Open(key, sealed[:10], []byte("brain-1"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestKeyZero(t *testing.T) {
	salt, _ := GenerateSalt()
	key, _ := DeriveKey([]byte("pass"), salt, testParams)
	key.Zero()
	assert.Equal(t, [KeyLen]byte{}, key.b)
}

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	require.NoError(t, err)

	msg := []byte("canonical manifest")
	sig := Sign(priv, msg)
	assert.True(t, Verify(pub, msg, sig))
	assert.False(t, Verify(pub, []byte("canonical manifesT"), sig))
	assert.False(t, Verify(pub[:10], msg, sig))

	rebuilt, err := SigningKeyFromSeed(priv.Seed(), pub)
	require.NoError(t, err)
	assert.Equal(t, []byte(priv), []byte(rebuilt))

	otherPub, _, _ := GenerateSigningKey()
	_, err = SigningKeyFromSeed(priv.Seed(), otherPub)
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
}

func TestKDFParamsUpperBounds(t *testing.T) {
	assert.NoError(t, DefaultKDFParams().Validate())
	assert.NoError(t, KDFParams{Time: MaxKDFTime, MemoryKiB: MaxKDFMemoryKiB, Threads: MaxKDFThreads}.Validate())

	for name, p := range map[string]KDFParams{
		"all huge": {Time: 1 << 31, MemoryKiB: 1<<32 - 1, Threads: 255},
		"time":     {Time: MaxKDFTime + 1, MemoryKiB: 64 * 1024, Threads: 4},
		"memory":   {Time: 3, MemoryKiB: MaxKDFMemoryKiB + 1, Threads: 4},
		"threads":  {Time: 3, MemoryKiB: 64 * 1024, Threads: MaxKDFThreads + 1},
	} {
		assert.Error(t, p.Validate(), name)
	}
}
