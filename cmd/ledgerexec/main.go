// cmd/ledgerexec/main.go
// 本地执行工具：在 memory / badger / pebble 状态存储上执行创世与区块
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"ledger/config"
	"ledger/execution"
	"ledger/keys"
	"ledger/logs"
	"ledger/store"
	"ledger/types"
	"ledger/vm"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logs.Error("[CLI] %v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledgerexec",
		Usage: "execute ledger blocks against a versioned state store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Usage: "state backend: memory, badger or pebble"},
			&cli.StringFlag{Name: "path", Usage: "state directory for badger / pebble"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, verbose, info, warn or error"},
			&cli.IntFlag{Name: "workers", Usage: "speculative parallel workers, <=1 runs sequentially"},
			&cli.StringFlag{Name: "node", Usage: "node tag added to every log line"},
		},
		Commands: []*cli.Command{
			{
				Name:   "genesis",
				Usage:  "apply a genesis file to an empty store",
				Action: genesisAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "genesis JSON", Required: true},
				},
			},
			{
				Name:   "exec",
				Usage:  "execute and commit blocks (a JSON block or a JSON array of blocks)",
				Action: execAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "block JSON", Required: true},
					&cli.StringFlag{Name: "genesis", Usage: "genesis JSON applied first when the store is empty"},
					&cli.BoolFlag{Name: "dry-run", Usage: "pre-execute only, do not commit"},
				},
			},
			{
				Name:   "get",
				Usage:  "show an account and its balance at the latest version",
				Action: getAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Required: true},
					&cli.StringFlag{Name: "token", Usage: "token name, native token by default"},
				},
			},
			{
				Name:   "root",
				Usage:  "print the state root of a version (latest by default)",
				Action: rootAction,
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "version"},
				},
			},
			{
				Name:   "prune",
				Usage:  "drop state history older than a version",
				Action: pruneAction,
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "keep-from", Required: true},
				},
			},
			{
				Name:   "natives",
				Usage:  "list the native functions the built-in VM can link",
				Action: nativesAction,
			},
		},
	}
}

// loadConfig 默认配置 → 环境变量 → 命令行参数
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if v := c.String("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := c.String("path"); v != "" {
		cfg.Storage.Path = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("node"); v != "" {
		cfg.Log.Node = v
	}
	if c.IsSet("workers") {
		cfg.Executor.ParallelWorkers = c.Int("workers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logs.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	logs.SetNodeTag(cfg.Log.Node)
	return cfg, nil
}

// openChain 打开存储并创建链驱动，返回的 close 负责关闭存储
func openChain(c *cli.Context) (*execution.Chain, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := st.Close(); err != nil {
			logs.Warn("[CLI] close store: %v", err)
		}
	}
	return execution.NewChain(cfg, st, vm.NewNativeVM(nil)), closeFn, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// readBlocks 支持单个区块或区块数组
func readBlocks(path string) ([]*types.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blocks []*types.Block
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		err = json.Unmarshal(data, &blocks)
	} else {
		var b types.Block
		err = json.Unmarshal(data, &b)
		blocks = []*types.Block{&b}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return blocks, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func genesisAction(c *cli.Context) error {
	chain, closeFn, err := openChain(c)
	if err != nil {
		return err
	}
	defer closeFn()

	var g vm.GenesisConfig
	if err := readJSON(c.String("file"), &g); err != nil {
		return err
	}
	cr, err := chain.ApplyGenesis(c.Context, &g)
	if err != nil {
		return err
	}
	return printJSON(commitSummary(cr))
}

func execAction(c *cli.Context) error {
	chain, closeFn, err := openChain(c)
	if err != nil {
		return err
	}
	defer closeFn()

	if path := c.String("genesis"); path != "" && chain.LatestVersion() == 0 {
		var g vm.GenesisConfig
		if err := readJSON(path, &g); err != nil {
			return err
		}
		if _, err := chain.ApplyGenesis(c.Context, &g); err != nil {
			return err
		}
	}

	blocks, err := readBlocks(c.String("file"))
	if err != nil {
		return err
	}

	ctx := c.Context
	for _, b := range blocks {
		if c.Bool("dry-run") {
			res, err := chain.PreExecuteBlock(ctx, b)
			if err != nil {
				return err
			}
			if err := printJSON(blockSummary(res)); err != nil {
				return err
			}
			continue
		}
		cr, err := chain.CommitBlock(ctx, b)
		if err != nil {
			return err
		}
		if err := printJSON(commitSummary(cr)); err != nil {
			return err
		}
	}
	return nil
}

func getAction(c *cli.Context) error {
	chain, closeFn, err := openChain(c)
	if err != nil {
		return err
	}
	defer closeFn()

	addr := types.Address(c.String("address"))
	bal, err := chain.Balance(addr, c.String("token"))
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"address": addr,
		"balance": bal.ToBig().String(),
		"version": chain.LatestVersion(),
	}
	acc, err := chain.Account(addr)
	switch {
	case err == nil:
		out["sequence_number"] = acc.SequenceNumber
	case !errors.Is(err, execution.ErrAccountNotFound):
		return err
	}
	return printJSON(out)
}

func rootAction(c *cli.Context) error {
	chain, closeFn, err := openChain(c)
	if err != nil {
		return err
	}
	defer closeFn()

	v := chain.LatestVersion()
	if c.IsSet("version") {
		v = store.Version(c.Uint64("version"))
	}
	root, err := chain.Root(v)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"version": v, "root": root})
}

func pruneAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	keep := store.Version(c.Uint64("keep-from"))
	if err := st.Prune(keep); err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"latest": st.LatestVersion(), "kept_from": keep})
}

func nativesAction(c *cli.Context) error {
	return printJSON(vm.NewNativeVM(nil).Registry().List())
}

type txSummary struct {
	Status  string `json:"status"`
	GasUsed uint64 `json:"gas_used"`
	Writes  int    `json:"writes"`
	Events  int    `json:"events"`
	// 序列号不匹配的交易可以换序列号重新提交
	SequenceMismatch bool `json:"sequence_mismatch,omitempty"`
}

func newTxSummary(o *types.TransactionOutput) txSummary {
	return txSummary{
		Status:           o.Status.String(),
		GasUsed:          o.GasUsed,
		Writes:           o.WriteSet.Len(),
		Events:           len(o.Events),
		SequenceMismatch: o.Status.IsDiscarded() && o.Status.Validation.IsSequenceMismatch(),
	}
}

func blockSummary(res *vm.BlockResult) map[string]interface{} {
	txs := make([]txSummary, 0, len(res.Outputs))
	for _, o := range res.Outputs {
		txs = append(txs, newTxSummary(o))
	}
	return map[string]interface{}{
		"block_id":    res.BlockID,
		"height":      res.Height,
		"gas_used":    res.GasUsed,
		"accumulator": res.Accumulator,
		"txs":         txs,
		"writes":      writeSummary(res.WriteSet),
	}
}

// writeSummary 按数据分类统计区块写集，并列出写到的账户
func writeSummary(ws *types.WriteSet) map[string]interface{} {
	byCategory := make(map[keys.Category]int)
	accounts := make([]string, 0)
	changed := make([]string, 0, ws.Len())
	for _, k := range ws.Keys() {
		byCategory[keys.CategorizeKey(k)]++
		if addr := keys.AddressOfAccountKey(k); addr != "" {
			accounts = append(accounts, addr)
		}
		changed = append(changed, keys.StripVersion(k))
	}
	return map[string]interface{}{
		"by_category": byCategory,
		"accounts":    accounts,
		"keys":        changed,
	}
}

func commitSummary(cr *execution.CommitResult) map[string]interface{} {
	out := blockSummary(cr.Result)
	out["version"] = cr.Version
	out["root"] = cr.Root
	return out
}
