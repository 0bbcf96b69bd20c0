package main

// main.go is the node's CLI entry point: run/genesis/keygen subcommands
// under a cobra root command, grounded on cmd/synnergy/main.go's
// rootCmd/AddCommand shape, generalized from that file's mock testnet/
// token subcommands into the real node lifecycle (§6 exit codes,
// genesis loading, key management, controller startup).

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solacechain/node/core"
	"github.com/solacechain/node/internal/errs"
	"github.com/solacechain/node/internal/genesis"
	"github.com/solacechain/node/pkg/config"
)

// Exit codes (§6): 0 normal shutdown; 1 configuration error; 2 store
// corruption; 3 unrecoverable consensus fault observed in own state.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitStoreCorrupt = 2
	exitConsensus    = 3
)

func main() {
	_ = godotenv.Load()
	log := logrus.StandardLogger()

	root := &cobra.Command{Use: "solaced"}
	root.AddCommand(runCmd(log))
	root.AddCommand(genesisCmd(log))
	root.AddCommand(keygenCmd(log))

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(exitConfigError)
	}
}

func runCmd(log *logrus.Logger) *cobra.Command {
	var (
		env          string
		dataDir      string
		genesisFile  string
		keyFile      string
		passphrase   string
		snapshotEvery uint64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				log.WithError(err).Error("config load failed")
				os.Exit(exitConfigError)
			}
			if dataDir == "" {
				dataDir = cfg.Node.DataDir
			}
			if genesisFile == "" {
				genesisFile = cfg.Node.GenesisFile
			}
			if keyFile == "" {
				keyFile = cfg.Node.KeyFile
			}
			if snapshotEvery == 0 {
				snapshotEvery = cfg.Storage.SnapshotEvery
			}
			if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
				log.SetLevel(lvl)
			}

			gcfg, err := genesis.Load(genesisFile)
			if err != nil {
				log.WithError(err).Error("genesis load failed")
				os.Exit(exitConfigError)
			}

			km, err := loadKeyMaterial(keyFile, passphrase)
			if err != nil {
				log.WithError(err).Error("signer load failed")
				os.Exit(exitConfigError)
			}

			code := runNode(cmd.Context(), log, cfg, gcfg, km, dataDir, snapshotEvery)
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay name")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "store data directory")
	cmd.Flags().StringVar(&genesisFile, "genesis", "", "genesis YAML file")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "encrypted validator key file")
	cmd.Flags().StringVar(&passphrase, "passphrase", os.Getenv("SOLACE_KEY_PASSPHRASE"), "key file passphrase (or SOLACE_KEY_PASSPHRASE)")
	cmd.Flags().Uint64Var(&snapshotEvery, "snapshot-every", 0, "store snapshot interval in batches")
	return cmd
}

// runNode wires every component (§4.1-§4.10) and runs the Chain Controller
// until ctx is cancelled or an unrecoverable fault occurs, returning the
// exit code §6 specifies.
func runNode(ctx context.Context, log *logrus.Logger, cfg *config.Config, gcfg core.GenesisConfig, km keyMaterial, dataDir string, snapshotEvery uint64) int {
	store, err := core.OpenStore(core.StoreConfig{Dir: dataDir, SnapshotEvery: snapshotEvery, Logger: log})
	if err != nil {
		log.WithError(err).Error("store open failed")
		if errs.Is(err, errs.KindStoreCorruption) {
			return exitStoreCorrupt
		}
		return exitConfigError
	}
	defer store.Close()

	signer, ownAddr, err := buildSigner(store, km)
	if err != nil {
		log.WithError(err).Error("signer construction failed")
		return exitConfigError
	}

	if _, ok := store.Head(); !ok {
		genBlock := genesis.BuildGenesisBlock(gcfg)
		if err := store.PutBlock(genBlock); err != nil {
			log.WithError(err).Error("genesis block write failed")
			return exitStoreCorrupt
		}
		if err := store.SetHead(0, genBlock.Hash()); err != nil {
			log.WithError(err).Error("genesis head set failed")
			return exitStoreCorrupt
		}
		entries := make([]core.AccountEntry, 0, len(gcfg.InitialBalances))
		for addr, amt := range gcfg.InitialBalances {
			entries = append(entries, core.AccountEntry{Address: addr, State: core.AccountState{Balance: amt}})
		}
		if err := store.ApplyAccounts(entries); err != nil {
			log.WithError(err).Error("genesis accounts write failed")
			return exitStoreCorrupt
		}
	}

	state := core.NewWorldState(gcfg.RewardInitial, gcfg.RewardHalvingEvery)
	state.LoadFrom(store.AllAccounts())

	mempool := core.NewMempool(core.MempoolConfig{Capacity: gcfg.MempoolCapacity, FeeMinimum: gcfg.FeeMinimum})
	validators := core.NewValidatorSet(gcfg.InitialValidators)
	slotClock := core.NewSlotClock(time.Unix(gcfg.GenesisTimestamp, 0), time.Duration(gcfg.SlotDuration)*time.Second)
	skew := time.Duration(gcfg.SkewTolerance) * time.Second
	validator := core.NewBlockValidator(gcfg.MaxTxPerBlock, gcfg.MaxBlockBytes, skew, gcfg.FeeMinimum, gcfg.RewardInitial, gcfg.RewardHalvingEvery)
	assembler := core.NewAssembler(gcfg.MaxTxPerBlock, gcfg.MaxBlockBytes)
	fork := core.NewForkResolver(gcfg.MaxReorgDepth)
	orphans := core.NewOrphanPool(256)
	health := core.NewPeerHealth()

	producerKeys := staticProducerKeys(signer, ownAddr)
	verifyTx := func(tx *core.Transaction) bool {
		pub, ok := producerKeys(tx.Sender)
		if !ok {
			return false
		}
		return core.Verify(pub, core.EncodeTxSigningBytes(tx), core.Signature(tx.Signature))
	}

	ctrl, err := core.NewController(core.ControllerDeps{
		Store: store, Mempool: mempool, State: state, Validators: validators,
		Validator: validator, Assembler: assembler, Fork: fork, Orphans: orphans,
		SlotClock: slotClock, Health: health, Signer: signer, OwnAddr: ownAddr,
		ProducerKeys: producerKeys, VerifyTx: verifyTx, Config: gcfg,
	})
	if err != nil {
		log.WithError(err).Error("controller construction failed")
		return exitConsensus
	}

	transport, err := core.NewTransport(ctx, cfg.Network.ListenAddr, gcfg.ChainID, cfg.Network.DiscoveryTag, cfg.Network.BootstrapPeers, health,
		ctrl.BlockRequestHandler, ctrl.HeadQueryHandler)
	if err != nil {
		log.WithError(err).Error("transport construction failed")
		return exitConfigError
	}
	defer transport.Close()
	ctrl.SetTransport(transport)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Info("shutdown signal received")
			cancel()
		case <-runCtx.Done():
		}
	}()

	log.WithField("chain_id", gcfg.ChainID).Info("node starting")
	ctrl.Run(runCtx)
	log.Info("node stopped")
	return exitOK
}

// staticProducerKeys resolves only the locally-held signer's own address;
// a production deployment extends this with a validator-set public-key
// directory populated out of band (out of scope here — §1 excludes
// wallet/key-distribution surfaces).
func staticProducerKeys(signer core.Signer, ownAddr core.Address) core.ProducerKeyFn {
	pub := signer.PublicKey()
	return func(addr core.Address) (core.PublicKey, bool) {
		if addr == ownAddr {
			return pub, true
		}
		return core.PublicKey{}, false
	}
}

func genesisCmd(log *logrus.Logger) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "genesis [file]",
		Short: "load a genesis file and print its Genesis Hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gcfg, err := genesis.Load(args[0])
			if err != nil {
				log.WithError(err).Error("genesis load failed")
				os.Exit(exitConfigError)
			}
			h := genesis.Hash(gcfg)
			fmt.Printf("chain-id=%s genesis-hash=%s\n", gcfg.ChainID, h.String())
			if out != "" {
				if err := os.WriteFile(out, []byte(h.String()+"\n"), 0o644); err != nil {
					return fmt.Errorf("write genesis hash: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the genesis hash to this file")
	return cmd
}

func keygenCmd(log *logrus.Logger) *cobra.Command {
	var (
		algo       string
		outFile    string
		passphrase string
		htHeight   uint
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a validator signing key and write it encrypted to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			var signer core.Signer
			var seedArr [32]byte
			var sigAlgo core.SigAlgo
			var err error

			switch algo {
			case "ed25519":
				if _, randErr := cryptorand.Read(seedArr[:]); randErr != nil {
					return fmt.Errorf("generate ed25519 seed: %w", randErr)
				}
				signer, err = core.GenerateEd25519SignerWithSeed(seedArr)
				if err != nil {
					return fmt.Errorf("generate ed25519 signer: %w", err)
				}
				sigAlgo = core.AlgoEd25519
			case "hashtree":
				s, genErr := core.GenerateHashTreeSeed()
				if genErr != nil {
					return fmt.Errorf("generate hash-tree seed: %w", genErr)
				}
				seedArr = s
				signer, err = core.NewHashTreeSigner(seedArr, htHeight, 0, nil)
				if err != nil {
					return fmt.Errorf("build hash-tree signer: %w", err)
				}
				sigAlgo = core.AlgoHashTree
			default:
				return fmt.Errorf("unknown algo %q (want ed25519 or hashtree)", algo)
			}

			if passphrase == "" {
				return fmt.Errorf("--passphrase (or SOLACE_KEY_PASSPHRASE) is required")
			}
			key := [32]byte(core.HashBytes([]byte(passphrase)))
			sealed, err := core.EncryptSecretFile(key, encodeKeyMaterial(sigAlgo, htHeight, seedArr))
			if err != nil {
				return fmt.Errorf("encrypt key file: %w", err)
			}
			if err := os.WriteFile(outFile, sealed, 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			addr := core.AddressOf(signer.PublicKey().Bytes)
			log.WithField("address", addr.String()).Info("key generated")
			fmt.Println(addr.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&algo, "algo", "hashtree", "signing algorithm: hashtree, or ed25519 (classical fallback for testing)")
	cmd.Flags().StringVar(&outFile, "out", "validator.key", "output key file path")
	cmd.Flags().StringVar(&passphrase, "passphrase", os.Getenv("SOLACE_KEY_PASSPHRASE"), "key file passphrase (or SOLACE_KEY_PASSPHRASE)")
	cmd.Flags().UintVar(&htHeight, "height", core.HashTreeHeight, "hash-tree height (bounds signatures to 2^height)")
	return cmd
}

// signerSeqMetaKey is the Store meta key the hash-tree signer's sequence
// counter is persisted under (§9 "the hash-tree signer persists its
// sequence counter to the Store's meta prefix after every signature").
const signerSeqMetaKey = "signer/hashtree_seq"

// keyMaterial is the plaintext envelope sealed inside a key file: which
// algorithm keygen picked, the hash-tree height (meaningless for ed25519),
// and the raw seed. encodeKeyMaterial/decodeKeyMaterial are the wire shape;
// the envelope itself is still encrypted at rest via EncryptSecretFile.
type keyMaterial struct {
	algo   core.SigAlgo
	height uint
	seed   [32]byte
}

// encodeKeyMaterial lays out [algo byte][height byte][32-byte seed] so
// loadKeyMaterial can recover which constructor to call without a second
// file or a second flag at `run` time.
func encodeKeyMaterial(algo core.SigAlgo, height uint, seed [32]byte) []byte {
	out := make([]byte, 0, 34)
	out = append(out, byte(algo), byte(height))
	out = append(out, seed[:]...)
	return out
}

func decodeKeyMaterial(raw []byte) (keyMaterial, error) {
	if len(raw) != 34 {
		return keyMaterial{}, fmt.Errorf("key material: expected 34 bytes, got %d", len(raw))
	}
	var km keyMaterial
	km.algo = core.SigAlgo(raw[0])
	km.height = uint(raw[1])
	copy(km.seed[:], raw[2:])
	return km, nil
}

// loadKeyMaterial decrypts keyFile under a Blake3-derived key from
// passphrase and parses the algo/height/seed envelope keygen wrote. It does
// not construct a Signer: hash-tree signers need the Store open first to
// recover their persisted sequence counter, see buildSigner.
func loadKeyMaterial(keyFile, passphrase string) (keyMaterial, error) {
	if keyFile == "" {
		return keyMaterial{}, fmt.Errorf("--key-file is required")
	}
	if passphrase == "" {
		return keyMaterial{}, fmt.Errorf("--passphrase (or SOLACE_KEY_PASSPHRASE) is required")
	}
	sealed, err := os.ReadFile(keyFile)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("read key file: %w", err)
	}
	key := [32]byte(core.HashBytes([]byte(passphrase)))
	raw, err := core.DecryptSecretFile(key, sealed)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("decrypt key file: %w", err)
	}
	return decodeKeyMaterial(raw)
}

// buildSigner constructs the Signer km describes. For AlgoHashTree the
// sequence counter is recovered from store's meta prefix (0 on a fresh
// store) and persist is wired back to store.PutMeta, so the signer can
// never reuse a one-time leaf key across a restart (spec.md §9 hard safety
// invariant).
func buildSigner(store *core.Store, km keyMaterial) (core.Signer, core.Address, error) {
	switch km.algo {
	case core.AlgoEd25519:
		signer, err := core.SignerFromEd25519Seed(km.seed[:])
		if err != nil {
			return nil, core.Address{}, fmt.Errorf("rebuild ed25519 signer: %w", err)
		}
		return signer, core.AddressOf(signer.PublicKey().Bytes), nil
	case core.AlgoHashTree:
		seq := uint64(0)
		if raw, ok := store.GetMeta(signerSeqMetaKey); ok && len(raw) == 8 {
			seq = binary.BigEndian.Uint64(raw)
		}
		persist := func(next uint64) error {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, next)
			return store.PutMeta(signerSeqMetaKey, buf)
		}
		signer, err := core.NewHashTreeSigner(km.seed, km.height, seq, persist)
		if err != nil {
			return nil, core.Address{}, fmt.Errorf("rebuild hash-tree signer: %w", err)
		}
		return signer, core.AddressOf(signer.PublicKey().Bytes), nil
	default:
		return nil, core.Address{}, fmt.Errorf("key file: unknown signature algorithm %d", km.algo)
	}
}
