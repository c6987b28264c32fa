package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/logger"
)

func TestLoad_GeneratesNewKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.key")
	w, err := Load(path, logger.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, w.Address())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoad_ReloadsExistingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.key")
	w1, err := Load(path, logger.NewNop())
	require.NoError(t, err)

	w2, err := Load(path, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, w1.Address(), w2.Address())
}

func TestAddressFromPubKey_ValidatesOK(t *testing.T) {
	w, err := Load(filepath.Join(t.TempDir(), "wallet.key"), logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, ValidateAddress(w.Address()))
}

func TestValidateAddress_RejectsGarbage(t *testing.T) {
	assert.Error(t, ValidateAddress("not-an-address"))
	assert.Error(t, ValidateAddress(""))
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	w, err := Load(filepath.Join(t.TempDir(), "wallet.key"), logger.NewNop())
	require.NoError(t, err)

	msg, err := BuildSpendMessage(block.OutPoint{TxID: "tx1", Index: 0}, 0, w.PublicKeyBytes(), []block.TxOut{{Value: 10, ToAddress: "addr1"}})
	require.NoError(t, err)

	sig, err := w.Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, VerifySignature(w.PublicKeyBytes(), sig, msg))
}

func TestVerifySignature_RejectsWrongMessage(t *testing.T) {
	w, err := Load(filepath.Join(t.TempDir(), "wallet.key"), logger.NewNop())
	require.NoError(t, err)

	msg, err := BuildSpendMessage(block.OutPoint{TxID: "tx1", Index: 0}, 0, w.PublicKeyBytes(), []block.TxOut{{Value: 10, ToAddress: "addr1"}})
	require.NoError(t, err)
	sig, err := w.Sign(msg)
	require.NoError(t, err)

	otherMsg, err := BuildSpendMessage(block.OutPoint{TxID: "tx2", Index: 0}, 0, w.PublicKeyBytes(), []block.TxOut{{Value: 10, ToAddress: "addr1"}})
	require.NoError(t, err)

	assert.Error(t, VerifySignature(w.PublicKeyBytes(), sig, otherMsg))
}

func TestBuildSpendMessage_BindsToOutputs(t *testing.T) {
	op := block.OutPoint{TxID: "tx1", Index: 0}
	pk := []byte{0x01, 0x02}

	m1, err := BuildSpendMessage(op, 0, pk, []block.TxOut{{Value: 10, ToAddress: "addr1"}})
	require.NoError(t, err)
	m2, err := BuildSpendMessage(op, 0, pk, []block.TxOut{{Value: 20, ToAddress: "addr1"}})
	require.NoError(t, err)

	assert.NotEqual(t, m1, m2)
}
