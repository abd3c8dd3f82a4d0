// Command sandbox-cli judges a local source file without the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codesandbox/internal/bootstrap"
	"codesandbox/internal/config"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/engine"
	"codesandbox/pkg/utils/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	backend    string
)

var rootCmd = &cobra.Command{
	Use:           "sandbox-cli",
	Short:         "Compile and run submissions in the code sandbox",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge one source file against a list of inputs",
	Example: `  sandbox-cli judge --file Main.java --input "1 2" --input "3 4"
  sandbox-cli judge --backend docker --config configs/sandbox.yaml --file Main.java`,
	RunE: runJudge,
}

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Pull the container image ahead of the first judgment",
	RunE:  runWarmup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (defaults apply when empty)")

	judgeCmd.Flags().StringVar(&backend, "backend", "", "Backend to use: native or docker (config default when empty)")
	judgeCmd.Flags().StringP("file", "f", "", "Source file to judge")
	judgeCmd.Flags().StringArrayP("input", "i", nil, "Case input, repeatable")
	judgeCmd.Flags().String("language", "java", "Language tag")
	_ = judgeCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(judgeCmd, warmupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	var cfg *config.AppConfig
	if configPath == "" {
		cfg = config.Default()
		cfg.Logger.Format = "console"
		cfg.Logger.OutputPath = "stderr"
		cfg.Logger.Level = "warn"
	} else {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}
	return cfg, nil
}

func runJudge(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	inputs, _ := cmd.Flags().GetStringArray("input")
	language, _ := cmd.Flags().GetString("language")

	code, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read source failed: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	if backend == engine.BackendDocker {
		cfg.Container.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sandboxes, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sandboxes.Close()
	}()

	name := backend
	if name == "" {
		name = sandboxes.Default
	}
	workflow, ok := sandboxes.Get(name)
	if !ok {
		return fmt.Errorf("backend %q is not enabled", name)
	}

	resp := workflow.Judge(ctx, sandbox.Request{
		Code:      string(code),
		InputList: inputs,
		Language:  language,
	})
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runWarmup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	client, err := engine.NewDockerClient(cfg.Container.Host)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := engine.NewImageRegistry(client).Warmup(cmd.Context(), cfg.Container.Image); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "image %s ready\n", cfg.Container.Image)
	return nil
}
