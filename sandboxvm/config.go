// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/cb58"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/ava-labs/avalanchego/utils/set"
	"github.com/ava-labs/avalanchego/utils/units"
	"sigs.k8s.io/yaml"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/signer"
)

const (
	// GenesisWallet names the validator multisig account.
	GenesisWallet = "genesis"

	DefaultAddressVersion              byte   = 0x35
	DefaultMaxValidUntilBlockIncrement uint64 = 5760
	DefaultMaxTransactionsPerBlock            = 512
	DefaultMaxTransactionSize                 = 100 * units.KiB
	DefaultMaxScriptSize                      = 64 * units.KiB
	DefaultMaxOracleResultSize                = 0xffff
	DefaultLogLevel                           = "info"
	DefaultHTTPAddress                        = "127.0.0.1:50012"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingKeyShares  = errors.New("missing validator key shares")
	ErrReservedName      = errors.New("reserved wallet name")
	ErrUnknownWallet     = errors.New("unknown wallet")
	validNodeCounts      = []int{1, 4, 7}
	keyFactory           = secp256k1.Factory{}
	errNoValidators      = errors.New("no validators")
	errDuplicateWallet   = errors.New("duplicate wallet name")
	errPublicKeyMismatch = errors.New("private key does not match public key")
)

// ValidatorShare is one slot of the validator multisig. PrivateKey is empty
// when the operator does not hold the share.
type ValidatorShare struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// Wallet is a named single key account.
type Wallet struct {
	Name       string `json:"name"`
	PrivateKey string `json:"privateKey"`
}

// Config describes one sandbox instance.
type Config struct {
	NetworkMagic   uint32           `json:"networkMagic"`
	AddressVersion byte             `json:"addressVersion"`
	Validators     []ValidatorShare `json:"validators"`
	Wallets        []Wallet         `json:"wallets,omitempty"`

	DataDir string `json:"dataDir,omitempty"`
	LockDir string `json:"lockDir,omitempty"`
	// Discard runs on an in-memory overlay; nothing is written to DataDir.
	Discard bool `json:"discard,omitempty"`

	// SecondsPerBlock is the block interval; zero builds a block for every
	// submission.
	SecondsPerBlock             uint32 `json:"secondsPerBlock"`
	ValidatorRefreshInterval    uint64 `json:"validatorRefreshInterval"`
	MaxTransactionsPerBlock     int    `json:"maxTransactionsPerBlock"`
	MaxValidUntilBlockIncrement uint64 `json:"maxValidUntilBlockIncrement"`
	MaxTransactionSize          int    `json:"maxTransactionSize"`
	MaxScriptSize               int    `json:"maxScriptSize"`
	MaxOracleResultSize         int    `json:"maxOracleResultSize"`

	LogLevel    string `json:"logLevel,omitempty"`
	HTTPAddress string `json:"httpAddress,omitempty"`
}

// NewConfig returns a configuration with fresh key shares for [nodes]
// validators.
func NewConfig(nodes int, magic uint32) (*Config, error) {
	if !validNodeCount(nodes) {
		return nil, fmt.Errorf("%w: %d validators, expected one of %v", ErrInvalidConfig, nodes, validNodeCounts)
	}
	c := &Config{NetworkMagic: magic}
	for i := 0; i < nodes; i++ {
		key, err := keyFactory.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		pub, err := cb58.Encode(key.PublicKey().Bytes())
		if err != nil {
			return nil, err
		}
		c.Validators = append(c.Validators, ValidatorShare{
			PublicKey:  pub,
			PrivateKey: key.String(),
		})
	}
	c.SetDefaults()
	return c, c.Verify()
}

// SetDefaults fills unset limits.
func (c *Config) SetDefaults() {
	if c.AddressVersion == 0 {
		c.AddressVersion = DefaultAddressVersion
	}
	if c.ValidatorRefreshInterval == 0 {
		c.ValidatorRefreshInterval = uint64(len(c.Validators))
	}
	if c.MaxTransactionsPerBlock == 0 {
		c.MaxTransactionsPerBlock = DefaultMaxTransactionsPerBlock
	}
	if c.MaxValidUntilBlockIncrement == 0 {
		c.MaxValidUntilBlockIncrement = DefaultMaxValidUntilBlockIncrement
	}
	if c.MaxTransactionSize == 0 {
		c.MaxTransactionSize = DefaultMaxTransactionSize
	}
	if c.MaxScriptSize == 0 {
		c.MaxScriptSize = DefaultMaxScriptSize
	}
	if c.MaxOracleResultSize == 0 {
		c.MaxOracleResultSize = DefaultMaxOracleResultSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HTTPAddress == "" {
		c.HTTPAddress = DefaultHTTPAddress
	}
	if c.LockDir == "" {
		c.LockDir = filepath.Join(os.TempDir(), "sandboxvm-locks")
	}
}

func validNodeCount(n int) bool {
	for _, valid := range validNodeCounts {
		if n == valid {
			return true
		}
	}
	return false
}

// Verify reports configuration errors.
func (c *Config) Verify() error {
	if len(c.Validators) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errNoValidators)
	}
	if !validNodeCount(len(c.Validators)) {
		return fmt.Errorf("%w: %d validators, expected one of %v", ErrInvalidConfig, len(c.Validators), validNodeCounts)
	}
	pubs, keys, err := c.parseValidators()
	if err != nil {
		return err
	}
	if threshold := chain.BFTThreshold(len(pubs)); len(keys) < threshold {
		return fmt.Errorf("%w: hold %d of the %d needed", ErrMissingKeyShares, len(keys), threshold)
	}

	names := set.NewSet[string](len(c.Wallets))
	for _, w := range c.Wallets {
		if isReservedName(w.Name, len(c.Validators)) {
			return fmt.Errorf("%w: %q", ErrReservedName, w.Name)
		}
		if names.Contains(w.Name) {
			return fmt.Errorf("%w: %v %q", ErrInvalidConfig, errDuplicateWallet, w.Name)
		}
		names.Add(w.Name)
		if _, err := parsePrivateKey(w.PrivateKey); err != nil {
			return fmt.Errorf("%w: wallet %q: %v", ErrInvalidConfig, w.Name, err)
		}
	}
	return nil
}

// isReservedName reports whether [name] is "genesis" or a node name
// ("node1" ... "node<n>"), matched case insensitively.
func isReservedName(name string, nodes int) bool {
	lower := strings.ToLower(name)
	if lower == GenesisWallet {
		return true
	}
	for i := 1; i <= nodes; i++ {
		if lower == nodeWallet(i) {
			return true
		}
	}
	return false
}

func nodeWallet(i int) string { return fmt.Sprintf("node%d", i) }

func parsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	b, err := cb58.Decode(strings.TrimPrefix(s, secp256k1.PrivateKeyPrefix))
	if err != nil {
		return nil, err
	}
	return keyFactory.ToPrivateKey(b)
}

// parseValidators returns the validator public keys in configuration order
// and the private keys held for them.
func (c *Config) parseValidators() ([][]byte, []*secp256k1.PrivateKey, error) {
	pubs := make([][]byte, len(c.Validators))
	var keys []*secp256k1.PrivateKey
	for i, v := range c.Validators {
		pub, err := cb58.Decode(v.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: validator %d public key: %v", ErrInvalidConfig, i, err)
		}
		if _, err := keyFactory.ToPublicKey(pub); err != nil {
			return nil, nil, fmt.Errorf("%w: validator %d public key: %v", ErrInvalidConfig, i, err)
		}
		pubs[i] = pub
		if v.PrivateKey == "" {
			continue
		}
		key, err := parsePrivateKey(v.PrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: validator %d private key: %v", ErrInvalidConfig, i, err)
		}
		if string(key.PublicKey().Bytes()) != string(pub) {
			return nil, nil, fmt.Errorf("%w: validator %d: %v", ErrInvalidConfig, i, errPublicKeyMismatch)
		}
		keys = append(keys, key)
	}
	return pubs, keys, nil
}

// Identity returns the chain identity the configuration describes.
func (c *Config) Identity() (chain.Identity, error) {
	pubs, _, err := c.parseValidators()
	if err != nil {
		return chain.Identity{}, err
	}
	return chain.Identity{
		Magic:          c.NetworkMagic,
		AddressVersion: c.AddressVersion,
		Validators:     pubs,
	}, nil
}

// LockID is the key of this instance in the instance registry.
func (c *Config) LockID() (string, error) {
	identity, err := c.Identity()
	if err != nil {
		return "", err
	}
	hash, err := identity.ScriptHash()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", c.NetworkMagic, hash), nil
}

// account is a signing identity known by name.
type account struct {
	name    string
	ms      *chain.Multisig
	keyring *signer.Keyring
}

func (a *account) hash() ids.ShortID { return a.ms.ScriptHash() }

// accounts resolves every named account of the configuration.
func (c *Config) accounts() (map[string]*account, error) {
	pubs, keys, err := c.parseValidators()
	if err != nil {
		return nil, err
	}
	genesis, err := chain.NewBFTMultisig(pubs)
	if err != nil {
		return nil, err
	}
	accounts := map[string]*account{
		GenesisWallet: {name: GenesisWallet, ms: genesis, keyring: signer.NewKeyring(keys...)},
	}
	for i, v := range c.Validators {
		if v.PrivateKey == "" {
			continue
		}
		key, err := parsePrivateKey(v.PrivateKey)
		if err != nil {
			return nil, err
		}
		a, err := singleKeyAccount(nodeWallet(i+1), key)
		if err != nil {
			return nil, err
		}
		accounts[a.name] = a
	}
	for _, w := range c.Wallets {
		key, err := parsePrivateKey(w.PrivateKey)
		if err != nil {
			return nil, err
		}
		a, err := singleKeyAccount(w.Name, key)
		if err != nil {
			return nil, err
		}
		accounts[strings.ToLower(w.Name)] = a
	}
	return accounts, nil
}

func singleKeyAccount(name string, key *secp256k1.PrivateKey) (*account, error) {
	ms, err := chain.NewMultisig(1, [][]byte{key.PublicKey().Bytes()})
	if err != nil {
		return nil, err
	}
	return &account{name: name, ms: ms, keyring: signer.NewKeyring(key)}, nil
}

// AddWallet adds a wallet with a fresh key.
func (c *Config) AddWallet(name string) (*Wallet, error) {
	key, err := keyFactory.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	c.Wallets = append(c.Wallets, Wallet{Name: name, PrivateKey: key.String()})
	if err := c.Verify(); err != nil {
		c.Wallets = c.Wallets[:len(c.Wallets)-1]
		return nil, err
	}
	return &c.Wallets[len(c.Wallets)-1], nil
}

// Save writes the configuration to [path] as YAML.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// LoadConfig reads and verifies the configuration at [path].
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.SetDefaults()
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}
