package main

// cmd/engine/main.go — CLI wrapper for the execution engine core.
// ----------------------------------------------------------------------------
// Layout
//   1. Globals & middleware (env-driven wiring of logger, store, engine).
//   2. Controllers — one per sub-command, thin and validated.
//   3. CLI definitions — commands + flags.
// ----------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"synnergy-engine/core"
)

// ---------------------------------------------------------------------------
// Globals & middleware
// ---------------------------------------------------------------------------

var (
	engineLG  = logrus.New()
	engine    *core.EngineState
	engineCfg struct {
		dataDir string
		mapSize int
	}
)

func initEngineMiddleware(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()
	viper.SetEnvPrefix("ENGINE")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("map_size", cmd.Flags().Lookup("map-size"))

	engineCfg.dataDir = viper.GetString("data_dir")
	if engineCfg.dataDir == "" {
		engineCfg.dataDir = "engine-data"
	}
	engineCfg.mapSize = viper.GetInt("map_size")

	source, err := core.NewMdbxTransactionSource(engineCfg.dataDir, engineCfg.mapSize, engineLG)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	state, err := core.NewGlobalState(source, engineLG)
	if err != nil {
		return fmt.Errorf("init global state: %w", err)
	}
	engine = core.NewEngineState(state, core.NewWasmExecutor(engineLG), core.EngineConfig{}, engineLG, nil)
	return nil
}

// ---------------------------------------------------------------------------
// Controllers
// ---------------------------------------------------------------------------

// genesisDoc is the yaml chainspec shape consumed by run-genesis.
type genesisDoc struct {
	ChainName string `yaml:"chain_name"`
	Timestamp uint64 `yaml:"timestamp"`
	Protocol  struct {
		Major uint32 `yaml:"major"`
		Minor uint32 `yaml:"minor"`
		Patch uint32 `yaml:"patch"`
	} `yaml:"protocol_version"`
	Accounts []struct {
		PublicKey string `yaml:"public_key"`
		Balance   uint64 `yaml:"balance"`
		Bonded    uint64 `yaml:"bonded_amount"`
	} `yaml:"accounts"`
}

func runGenesis(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chainspec: %w", err)
	}
	var doc genesisDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse chainspec: %w", err)
	}

	config := core.GenesisConfig{
		ChainName: doc.ChainName,
		Timestamp: doc.Timestamp,
		ProtocolVersion: core.ProtocolVersion{
			Major: doc.Protocol.Major,
			Minor: doc.Protocol.Minor,
			Patch: doc.Protocol.Patch,
		},
		WasmCosts: core.DefaultWasmCosts(),
	}
	for _, acct := range doc.Accounts {
		pkBytes, err := hexutil.Decode(acct.PublicKey)
		if err != nil || len(pkBytes) != 32 {
			return fmt.Errorf("account public key %q: want 32 hex bytes", acct.PublicKey)
		}
		var pk core.PublicKey
		copy(pk[:], pkBytes)
		config.Accounts = append(config.Accounts, core.GenesisAccount{
			PublicKey:    pk,
			Balance:      core.NewMotes(acct.Balance),
			BondedAmount: core.NewMotes(acct.Bonded),
		})
	}

	result, err := engine.CommitGenesis(core.NewCorrelationId(), config)
	if err != nil {
		return err
	}
	fmt.Printf("post-state hash: %s\n", result.PostStateHash)
	return nil
}

func runQuery(rootHex, accountHex string, path []string) error {
	rootBytes, err := hexutil.Decode(rootHex)
	if err != nil || len(rootBytes) != 32 {
		return fmt.Errorf("state root: want 32 hex bytes")
	}
	pkBytes, err := hexutil.Decode(accountHex)
	if err != nil || len(pkBytes) != 32 {
		return fmt.Errorf("account: want 32 hex bytes")
	}
	var root core.Blake2bHash
	copy(root[:], rootBytes)
	var pk [32]byte
	copy(pk[:], pkBytes)

	value, err := engine.RunQuery(core.NewCorrelationId(), root, core.AccountKey(pk), path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", value.TypeString(), hexutil.Encode(core.ValueToBytes(value)))
	return nil
}

// ---------------------------------------------------------------------------
// CLI definitions
// ---------------------------------------------------------------------------

func main() {
	rootCmd := &cobra.Command{
		Use:               "engine",
		Short:             "deterministic wasm contract execution engine",
		PersistentPreRunE: initEngineMiddleware,
	}
	rootCmd.PersistentFlags().String("data-dir", "", "store directory (ENGINE_DATA_DIR)")
	rootCmd.PersistentFlags().Int("map-size", 0, "initial map size in bytes (ENGINE_MAP_SIZE)")

	genesisCmd := &cobra.Command{
		Use:   "run-genesis [chainspec.yaml]",
		Short: "install system contracts and genesis accounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenesis(args[0])
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query [state-root] [account] [path...]",
		Short: "read a value at a root, walking named keys",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(args[0], args[1], args[2:])
		},
	}

	showRootCmd := &cobra.Command{
		Use:   "empty-root",
		Short: "print the canonical empty trie root",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(strings.TrimSpace(engine.EmptyRoot().String()))
			return nil
		},
	}

	rootCmd.AddCommand(genesisCmd, queryCmd, showRootCmd)
	if err := rootCmd.Execute(); err != nil {
		engineLG.Error(err)
		os.Exit(1)
	}
}
