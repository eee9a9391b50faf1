package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はdocpadのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして起動する。
// wはログの出力先。
func NewRootCommand(w io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docpad",
		Short: "Googleログイン付きのドキュメントAPIサーバー",
		Long: `docpad はGoogleアカウントでログインしたユーザーが
自分のドキュメントを管理するためのAPIサーバーです。

サブコマンドを省略した場合は serve として起動します。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, w, CommandServe)
		},
	}

	rootCmd.AddCommand(
		newServeCmd(w),
		newMigrateCmd(w),
		newHealthcheckCmd(),
	)

	return rootCmd
}

func newServeCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "APIサーバーを起動する",
		Long: `APIサーバーを起動します。

期限切れセッションの掃除ジョブも同じプロセス内で1時間ごとに実行されます。
SIGINT/SIGTERMを受信するとグレースフルシャットダウンします。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, w, CommandServe)
		},
	}
}

func newMigrateCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, w, CommandMigrate)
		},
	}
}

func newHealthcheckCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "起動中のサーバーの /health を確認する",
		Long: `localhost の /health にリクエストを送り、200以外ならエラー終了します。
distrolessイメージでのDocker HEALTHCHECK用です。`,
		Args: cobra.NoArgs,
		// 軽量サブコマンドのため、設定の読み込みやDB接続は行わない
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == "" {
				port = os.Getenv("SERVER_PORT")
			}
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "確認するポート（省略時はSERVER_PORT、未設定なら8080）")

	return cmd
}
