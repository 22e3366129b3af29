// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/stretchr/testify/require"
)

func newTestKeys(t *testing.T, n int) ([]*secp256k1.PrivateKey, [][]byte) {
	factory := secp256k1.Factory{}
	keys := make([]*secp256k1.PrivateKey, n)
	pubs := make([][]byte, n)
	for i := range keys {
		key, err := factory.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = key
		pubs[i] = key.PublicKey().Bytes()
	}
	return keys, pubs
}

func TestBFTThreshold(t *testing.T) {
	require := require.New(t)
	require.Equal(1, BFTThreshold(1))
	require.Equal(3, BFTThreshold(4))
	require.Equal(5, BFTThreshold(7))
}

func TestMultisigSortedAndStable(t *testing.T) {
	require := require.New(t)
	_, pubs := newTestKeys(t, 4)

	ms1, err := NewMultisig(3, pubs)
	require.NoError(err)
	reversed := [][]byte{pubs[3], pubs[2], pubs[1], pubs[0]}
	ms2, err := NewMultisig(3, reversed)
	require.NoError(err)
	require.Equal(ms1.ScriptHash(), ms2.ScriptHash())

	parsed, err := ParseMultisig(ms1.Bytes())
	require.NoError(err)
	require.Equal(ms1.ScriptHash(), parsed.ScriptHash())
}

func TestMultisigInvalid(t *testing.T) {
	require := require.New(t)
	_, pubs := newTestKeys(t, 2)

	_, err := NewMultisig(0, pubs)
	require.ErrorIs(err, ErrInvalidThreshold)
	_, err = NewMultisig(3, pubs)
	require.ErrorIs(err, ErrInvalidThreshold)
	_, err = NewMultisig(1, [][]byte{pubs[0], pubs[0]})
	require.ErrorIs(err, ErrDuplicateKey)
	_, err = NewMultisig(1, nil)
	require.ErrorIs(err, ErrNoPublicKeys)
}

func TestMultisigVerify(t *testing.T) {
	require := require.New(t)
	keys, pubs := newTestKeys(t, 4)
	ms, err := NewMultisig(3, pubs)
	require.NoError(err)

	msg := []byte("payload")
	var sigs [][]byte
	for _, pub := range ms.PublicKeys {
		for _, key := range keys {
			if string(key.PublicKey().Bytes()) != string(pub) {
				continue
			}
			sig, err := key.Sign(msg)
			require.NoError(err)
			sigs = append(sigs, sig)
		}
	}
	require.Len(sigs, 4)

	require.True(ms.Verify(msg, sigs[:3]))
	require.True(ms.Verify(msg, sigs[1:]))
	// m-1 signatures never verify
	require.False(ms.Verify(msg, sigs[:2]))
	// out of key order
	require.False(ms.Verify(msg, [][]byte{sigs[2], sigs[1], sigs[0]}))
	require.False(ms.Verify([]byte("other"), sigs[:3]))
}

func TestAddressRoundTrip(t *testing.T) {
	require := require.New(t)
	hash := ids.ShortID{1, 2, 3}

	addr := FormatAddress(0x35, hash)
	parsed, err := ParseAddress(0x35, addr)
	require.NoError(err)
	require.Equal(hash, parsed)

	_, err = ParseAddress(0x17, addr)
	require.ErrorIs(err, ErrAddressVersion)
}

func TestIdentityMatches(t *testing.T) {
	require := require.New(t)
	_, pubs := newTestKeys(t, 1)
	_, otherPubs := newTestKeys(t, 1)

	identity := Identity{Magic: 1234, AddressVersion: 0x35, Validators: pubs}
	hash, err := identity.ScriptHash()
	require.NoError(err)
	otherHash, err := Identity{Validators: otherPubs}.ScriptHash()
	require.NoError(err)

	require.NoError(identity.Matches(1234, 0x35, hash))
	require.ErrorIs(identity.Matches(1235, 0x35, hash), ErrMagicMismatch)
	require.ErrorIs(identity.Matches(1234, 0x17, hash), ErrAddressVersionMismatch)
	require.ErrorIs(identity.Matches(1234, 0x35, otherHash), ErrScriptHashMismatch)
}

func TestTransactionIDExcludesWitnesses(t *testing.T) {
	require := require.New(t)
	tx := &Transaction{
		Nonce:           7,
		SystemFee:       100,
		NetworkFee:      200,
		ValidUntilBlock: 10,
		Signers:         []ids.ShortID{{1}},
		Attributes: []Attribute{
			&OracleResponse{ID: 3, Code: Success, Result: []byte("ok")},
		},
		Script:    []byte{1, 2, 3},
		Witnesses: []Witness{{}},
	}
	require.NoError(tx.Initialize())
	unsignedID := tx.ID()
	unsignedSize := tx.Size()

	tx.Witnesses[0] = Witness{
		Invocation:   [][]byte{make([]byte, secp256k1.SignatureLen)},
		Verification: []byte{4, 5, 6},
	}
	require.NoError(tx.Initialize())
	require.Equal(unsignedID, tx.ID())
	require.Equal(unsignedSize+tx.Witnesses[0].Size()-(&Witness{}).Size(), tx.Size())

	parsed, err := ParseTransaction(tx.Bytes())
	require.NoError(err)
	require.Equal(tx.ID(), parsed.ID())
	resp, ok := parsed.OracleResponse()
	require.True(ok)
	require.Equal(uint64(3), resp.ID)
	require.Equal([]byte("ok"), resp.Result)

	sender, err := parsed.Sender()
	require.NoError(err)
	require.Equal(ids.ShortID{1}, sender)
}

func TestMerkleRoot(t *testing.T) {
	require := require.New(t)
	a, b, c := ids.ID{1}, ids.ID{2}, ids.ID{3}

	require.Equal(ids.Empty, MerkleRoot(nil))
	require.Equal(a, MerkleRoot([]ids.ID{a}))

	ab := ids.ID(hashing.ComputeHash256Array(append(a[:], b[:]...)))
	require.Equal(ab, MerkleRoot([]ids.ID{a, b}))

	cc := ids.ID(hashing.ComputeHash256Array(append(c[:], c[:]...)))
	require.Equal(
		ids.ID(hashing.ComputeHash256Array(append(ab[:], cc[:]...))),
		MerkleRoot([]ids.ID{a, b, c}),
	)
}

func TestBlockIDExcludesWitness(t *testing.T) {
	require := require.New(t)
	tx := &Transaction{Signers: []ids.ShortID{{1}}, Script: []byte{1}, Witnesses: []Witness{{}}}
	require.NoError(tx.Initialize())

	blk := &Block{
		Header: Header{
			PrevHash:   ids.ID{9},
			MerkleRoot: MerkleRoot([]ids.ID{tx.ID()}),
			Timestamp:  1000,
			Height:     1,
		},
		Transactions: []*Transaction{tx},
	}
	require.NoError(blk.Initialize())
	require.NoError(blk.VerifyMerkleRoot())
	id := blk.ID()

	blk.Header.Witness = Witness{Invocation: [][]byte{{1}}, Verification: []byte{2}}
	require.NoError(blk.Initialize())
	require.Equal(id, blk.ID())

	parsed, err := ParseBlock(blk.Bytes())
	require.NoError(err)
	require.Equal(id, parsed.ID())
	require.Equal([]ids.ID{tx.ID()}, parsed.TxIDs())

	blk.Header.MerkleRoot = ids.Empty
	require.ErrorIs(blk.VerifyMerkleRoot(), ErrMerkleRootMismatch)
}
