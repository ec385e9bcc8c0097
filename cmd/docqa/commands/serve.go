package commands

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/interface/httpapi"
)

// ServeCommand は HTTP サーバを起動するコマンド
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "質問応答 API サーバを起動",
		Flags: []cli.Flag{
			envFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "待ち受けアドレス（省略時は SERVER_ADDR）",
			},
		},
		Action: ServeAction,
	}
}

// ServeAction は HTTP サーバを起動し、シグナルを受けるまで待ち受ける
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"), os.Stdout)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	addr := cfg.Server.Addr
	if a := cmd.String("addr"); a != "" {
		addr = a
	}

	server := httpapi.New(appCtx.Container.QA,
		httpapi.WithAPIToken(cfg.Server.APIToken),
		httpapi.WithResponseFormat(httpapi.ResponseFormat(cfg.Server.ResponseFormat)),
		httpapi.WithHealthCheck(appCtx.Container.QACache),
		httpapi.WithLogger(appCtx.Logger),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	appCtx.Logger.Info("HTTPサーバを停止します", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
