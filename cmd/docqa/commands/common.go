package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/platform/container"
	"github.com/jinford/docqa/internal/platform/logger"
	"github.com/jinford/docqa/pkg/config"
)

// envFlag はすべてのコマンドで共通の環境変数ファイル指定
func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.Container
	Logger    *slog.Logger
}

// NewAppContext は設定ファイルを読み込み、依存関係を組み立てて AppContext を作成する。
// logOutput はログの出力先で、標準出力を JSON 結果に使うコマンドでは標準エラーを渡す。
// overrides はコマンド固有の設定変更で、コンテナ構築前に適用される
func NewAppContext(ctx context.Context, envFile string, logOutput io.Writer, overrides ...func(*config.Config)) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: logOutput,
	})

	cont, err := container.New(ctx, cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
		Logger:    appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container == nil {
		return
	}
	if err := ac.Container.Close(); err != nil {
		ac.Logger.Warn("failed to close resources", "error", err)
	}
}

// writer はコマンドの出力先を返す
func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// errWriter はログの出力先を返す
func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
