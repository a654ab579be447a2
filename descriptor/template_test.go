package descriptor

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/stretchr/testify/require"
)

// TestNewTemplate checks the standard account descriptors against the
// published BIP44/49/84/86 vectors for the "abandon ... about" mnemonic.
func TestNewTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		params     *chaincfg.Params
		scriptType ScriptType
		branch     uint32
		prefix     string
		addr       string
	}{
		{
			name:       "bip44 mainnet",
			params:     &chaincfg.MainNetParams,
			scriptType: P2PKH,
			branch:     waddrmgr.ExternalBranch,
			prefix:     "pkh([73c5da0a/44h/0h/0h]xpub",
			addr:       "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA",
		},
		{
			name:       "bip49 testnet",
			params:     &chaincfg.TestNet3Params,
			scriptType: P2SHP2WPKH,
			branch:     waddrmgr.ExternalBranch,
			prefix:     "sh(wpkh([73c5da0a/49h/1h/0h]tpub",
			addr:       "2Mww8dCYPUpKHofjgcXcBCEGmniw9CoaiD2",
		},
		{
			name:       "bip84 receive",
			params:     &chaincfg.MainNetParams,
			scriptType: P2WPKH,
			branch:     waddrmgr.ExternalBranch,
			prefix:     "wpkh([73c5da0a/84h/0h/0h]xpub",
			addr:       "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		},
		{
			name:       "bip84 change",
			params:     &chaincfg.MainNetParams,
			scriptType: P2WPKH,
			branch:     waddrmgr.InternalBranch,
			prefix:     "wpkh([73c5da0a/84h/0h/0h]xpub",
			addr:       "bc1q8c6fshw2dlwun7ekn9qwf37cu2rn755upcp6el",
		},
		{
			name:       "bip86 receive",
			params:     &chaincfg.MainNetParams,
			scriptType: P2TR,
			branch:     waddrmgr.ExternalBranch,
			prefix:     "tr([73c5da0a/86h/0h/0h]xpub",
			addr: "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqj" +
				"jwudpxqkedrcr",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			info, err := waddrmgr.RestoreExtendedKey(
				tc.params, abandonMnemonic, "",
			)
			require.NoError(t, err)

			d, err := NewTemplate(
				info.Key, tc.scriptType, tc.branch, tc.params,
			)
			require.NoError(t, err)
			require.False(t, d.IsPrivate())
			require.True(t, strings.HasPrefix(d.String(), tc.prefix),
				d.String())

			exp, err := d.Expand(0)
			require.NoError(t, err)
			require.Equal(t, tc.addr, exp.Address.EncodeAddress())

			// The canonical form parses back to the same outputs.
			again, err := Parse(d.String(), tc.params)
			require.NoError(t, err)

			exp2, err := again.Expand(0)
			require.NoError(t, err)
			require.Equal(t, exp.Script, exp2.Script)
		})
	}
}

// TestNewTemplateErrors checks the key requirements of templates.
func TestNewTemplateErrors(t *testing.T) {
	t.Parallel()

	info, err := waddrmgr.RestoreExtendedKey(
		&chaincfg.MainNetParams, abandonMnemonic, "",
	)
	require.NoError(t, err)

	_, err = NewTemplate(
		info.Key, P2WPKH, waddrmgr.ExternalBranch,
		&chaincfg.TestNet3Params,
	)
	require.ErrorIs(t, err, ErrNetworkMismatch)

	pub, err := info.Key.Neuter()
	require.NoError(t, err)
	_, err = NewTemplate(
		pub, P2WPKH, waddrmgr.ExternalBranch, &chaincfg.MainNetParams,
	)
	require.ErrorIs(t, err, ErrHardenedFromPublic)

	child, err := info.Key.Derive(0)
	require.NoError(t, err)
	_, err = NewTemplate(
		child, P2WPKH, waddrmgr.ExternalBranch, &chaincfg.MainNetParams,
	)
	require.ErrorIs(t, err, ErrInvalidKey)
}

// TestNewPublicTemplate checks that an account xpub plus its origin yields
// the same descriptor as the template built from the master key.
func TestNewPublicTemplate(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	info, err := waddrmgr.RestoreExtendedKey(params, abandonMnemonic, "")
	require.NoError(t, err)

	account, err := waddrmgr.Derive(
		info.Key, waddrmgr.KeyScopeBIP0084.AccountPath(0),
	)
	require.NoError(t, err)

	fromMaster, err := NewTemplate(
		info.Key, P2WPKH, waddrmgr.InternalBranch, params,
	)
	require.NoError(t, err)

	fromAccount, err := NewPublicTemplate(
		account, info.Fingerprint, P2WPKH, waddrmgr.InternalBranch,
		params,
	)
	require.NoError(t, err)
	require.Equal(t, fromMaster.String(), fromAccount.String())
}

// TestMustParse checks that MustParse panics on invalid input only.
func TestMustParse(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		MustParse(testDescriptor, testNet)
	})
	require.Panics(t, func() {
		MustParse("wpkh()", testNet)
	})
}
