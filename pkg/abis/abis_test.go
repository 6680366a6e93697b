package abis

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load(t *testing.T) {
	t.Run("Should load every embedded abi", func(t *testing.T) {
		for _, name := range []string{Market, Auditor, Factory, Account, Plugin, ProposalManager, Oracle} {
			a, err := Load(name)
			require.NoError(t, err, name)
			assert.NotEmpty(t, a.Events, name)
		}
	})
	t.Run("Should compute the canonical transfer topic", func(t *testing.T) {
		a := MustLoad(Market)
		assert.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), a.Events["Transfer"].ID)
	})
	t.Run("Should compute the borrow at maturity topic", func(t *testing.T) {
		a := MustLoad(Market)
		expected := crypto.Keccak256Hash([]byte("BorrowAtMaturity(uint256,address,address,address,uint256,uint256)"))
		assert.Equal(t, expected, a.Events["BorrowAtMaturity"].ID)
	})
	t.Run("Should fail for an unknown abi", func(t *testing.T) {
		_, err := Load("vault")
		assert.Error(t, err)
	})
}
