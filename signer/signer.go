// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signer collects partial signatures from validator key shares into
// multisig witnesses.
package signer

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"

	"github.com/ava-labs/sandboxvm/chain"
)

var (
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrUnknownKey             = errors.New("key is not part of the multisig")
	ErrInvalidSignature       = errors.New("invalid signature")

	factory = secp256k1.Factory{}
)

// Keyring holds the key shares this instance signs with. It is not modified
// after construction.
type Keyring struct {
	keys map[string]*secp256k1.PrivateKey
}

func NewKeyring(keys ...*secp256k1.PrivateKey) *Keyring {
	k := &Keyring{keys: make(map[string]*secp256k1.PrivateKey, len(keys))}
	for _, key := range keys {
		k.keys[string(key.PublicKey().Bytes())] = key
	}
	return k
}

// Has reports whether the keyring holds the private key of [pub].
func (k *Keyring) Has(pub []byte) bool {
	_, ok := k.keys[string(pub)]
	return ok
}

func (k *Keyring) Len() int { return len(k.keys) }

// Sign produces a witness for [msg] under [ms] using every share of [ms] the
// keyring holds.
func (k *Keyring) Sign(msg []byte, ms *chain.Multisig) (*chain.Witness, error) {
	c := NewCollector(msg, ms)
	for _, pub := range ms.PublicKeys {
		key, ok := k.keys[string(pub)]
		if !ok {
			continue
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to sign with %s: %w", key.PublicKey().Address(), err)
		}
		if err := c.Add(pub, sig); err != nil {
			return nil, err
		}
		if c.Complete() {
			break
		}
	}
	return c.Witness()
}

// Collector accumulates partial signatures over one payload.
type Collector struct {
	msg  []byte
	ms   *chain.Multisig
	sigs map[int][]byte
}

func NewCollector(msg []byte, ms *chain.Multisig) *Collector {
	return &Collector{
		msg:  msg,
		ms:   ms,
		sigs: make(map[int][]byte, len(ms.PublicKeys)),
	}
}

// Add verifies [sig] against [pub] and records it.
func (c *Collector) Add(pub []byte, sig []byte) error {
	i := c.ms.Index(pub)
	if i < 0 {
		return ErrUnknownKey
	}
	key, err := factory.ToPublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	if !key.Verify(c.msg, sig) {
		return fmt.Errorf("%w from %s", ErrInvalidSignature, key.Address())
	}
	c.sigs[i] = sig
	return nil
}

func (c *Collector) Len() int { return len(c.sigs) }

// Complete reports whether the threshold has been reached.
func (c *Collector) Complete() bool { return len(c.sigs) >= int(c.ms.Threshold) }

// Witness returns the first [Threshold] signatures in public key order
// together with the verification script.
func (c *Collector) Witness() (*chain.Witness, error) {
	if !c.Complete() {
		return nil, fmt.Errorf("%w: have %d of %d", ErrInsufficientSignatures, len(c.sigs), c.ms.Threshold)
	}
	invocation := make([][]byte, 0, c.ms.Threshold)
	for i := range c.ms.PublicKeys {
		sig, ok := c.sigs[i]
		if !ok {
			continue
		}
		invocation = append(invocation, sig)
		if len(invocation) == int(c.ms.Threshold) {
			break
		}
	}
	return &chain.Witness{
		Invocation:   invocation,
		Verification: c.ms.Bytes(),
	}, nil
}
