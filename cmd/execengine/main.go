package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"execengine/internal/config"
	"execengine/internal/engine"
	"execengine/internal/httpapi"
	"execengine/internal/lifecycle"
	"execengine/internal/loopexpand"
	"execengine/internal/logging"
	"execengine/internal/nodeexec"
	"execengine/internal/sandbox"
	"execengine/internal/scheduler"
	"execengine/internal/specmodel"
	"execengine/internal/telemetry"
	"execengine/internal/tree"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the execengine root Cobra command: a "serve"
// subcommand that wires config, logging, telemetry, and the HTTP API into a
// long-running process, and a "version" subcommand.
func NewRootCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "execengine",
		Short:         "execengine runs hierarchical API test tasks and reports telemetry to Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.AddCommand(serve)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "execengine dev")
		},
	})

	return cmd
}

func runServe(ctx context.Context, addr string) error {
	logger := logging.NewConsole("execengine")

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("config load failed")
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.MaxConnections,
	})
	defer rdb.Close()

	writer, err := telemetry.NewWriter(ctx, rdb, cfg.LuaScriptsDir, time.Duration(cfg.RedisTaskRecordTimeoutSeconds)*time.Second)
	if err != nil {
		logger.Error().Err(err).Msg("telemetry writer init failed")
		return err
	}
	backup := telemetry.NewBackup(rdb, "")

	loopexpand.SetMaxGenerateLength(cfg.MaxGenerateLength)

	sup := lifecycle.NewSupervisor(cfg.RPCRouter, backup, logging.New("lifecycle", nil))

	eng := &engine.Engine{
		Gate:       scheduler.NewGate(int64(cfg.MaxConcurrency)),
		Registry:   defaultRegistry(sup),
		Writer:     writer,
		Logger:     logging.New("engine", nil),
		Supervisor: sup,
	}

	server := &httpapi.Server{
		Submitter: eng,
		Backup:    backup,
		RPC:       telemetry.NewRecordReader(rdb),
		Logger:    logging.New("httpapi", nil),
	}

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	logger.Info().Str("addr", addr).Msg("execengine listening")
	return httpServer.ListenAndServe()
}

// defaultRegistry wires every real (non-virtual) step kind to its
// executor (spec §4.8's closed dispatch surface). Case, multitasker, and
// if steps are dispatched separately by internal/engine, which needs a
// fresh, node-scoped closure (loop expansion callback or variable lookup)
// per invocation rather than one fixed at process start.
func defaultRegistry(sup *lifecycle.Supervisor) nodeexec.Registry {
	return nodeexec.Registry{
		specmodel.KindGroup:     nodeexec.GroupExecutor{},
		specmodel.KindEmpty:     nodeexec.EmptyExecutor{},
		specmodel.KindDelay:     nodeexec.DelayExecutor{Sleep: func(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }},
		specmodel.KindError:     nodeexec.ErrorExecutor{},
		specmodel.KindAssertion: nodeexec.AssertionExecutor{},
		specmodel.KindInterface: nodeexec.InterfaceExecutor{Client: sup.Client},
		specmodel.KindDatabase:  nodeexec.DatabaseExecutor{Pool: nodeexec.OpenSQLite},
		specmodel.KindScript: nodeexec.ScriptExecutor{NewVM: func(node *tree.DynamicNode) (*sandbox.VM, error) {
			return sandbox.New(sandbox.Capabilities{
				Vars:          node.Handle,
				Position:      func() string { return node.SPI.String() },
				MainCaseIndex: func() int { return node.SPI.ChildCaseIdx },
			}, nil)
		}},
	}
}
