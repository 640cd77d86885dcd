package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hitoshi/storefront/internal/config"
	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
// SIGINTまたはSIGTERMを受信するとコマンドのcontextがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はサブコマンドを登録したルートコマンドを返す。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront API server and background worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          withConfig(w, CommandServe, runServe),
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the HTTP API server",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandServe, runServe),
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "Delete expired sessions periodically",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandWorker, runWorker),
		},
		newMigrateCommand(w),
		newHealthcheckCommand(),
	)

	return root
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Run database migrations (default: up)",
		Args:  cobra.NoArgs,
		RunE:  withConfig(w, CommandMigrate, runMigrateUp),
	}
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandMigrate, runMigrateUp),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandMigrate, runMigrateDown),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandMigrate, runMigrateVersion),
		},
	)
	return migrateCmd
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe /health of a locally running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealthcheck(cmd.Context(), fmt.Sprintf("http://localhost:%s/health", port))
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "server port to probe")
	return cmd
}

// withConfig は設定の読み込みとログ初期化を行ってからrunを呼び出すRunEを返す。
func withConfig(w io.Writer, command Command, run func(context.Context, *config.Config) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		slog.Info("starting application",
			slog.String("command", string(command)),
			slog.String("port", cfg.ServerPort),
			slog.String("base_url", cfg.BaseURL),
		)

		return run(cmd.Context(), cfg)
	}
}
