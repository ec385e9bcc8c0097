package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/core/qa"
	"github.com/jinford/docqa/pkg/config"
)

// AskCommand は質問応答パイプラインを一度だけ実行するコマンド
func AskCommand() *cli.Command {
	return &cli.Command{
		Name:  "ask",
		Usage: "文書に対する質問に回答し、結果を JSON で出力",
		Flags: []cli.Flag{
			envFlag(),
			&cli.StringFlag{
				Name:     "document",
				Usage:    "文書の URL またはローカルパス",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "question",
				Aliases:  []string{"q"},
				Usage:    "質問（複数指定可）",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "出力形式 (detailed/plain)。省略時は RESPONSE_FORMAT",
			},
		},
		Action: AskAction,
	}
}

// AskAction はパイプラインを実行し、/hackrx/run と同じ形の JSON を出力する。
// 実行者自身のファイルを読むコマンドなので、ローカルパスの取得を常に許可する
func AskAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"), errWriter(cmd), allowLocalDocuments)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	format := appCtx.Config.Server.ResponseFormat
	if f := cmd.String("format"); f != "" {
		format = f
	}

	answers, err := appCtx.Container.QA.Run(ctx, qa.Request{
		Document:  cmd.String("document"),
		Questions: cmd.StringSlice("question"),
	})
	if err != nil {
		return fmt.Errorf("質問応答に失敗: %w", err)
	}

	var out any = map[string]any{"answers": answers}
	if format == config.ResponseFormatPlain {
		plain := make([]string, len(answers))
		for i, a := range answers {
			plain[i] = a.Answer
		}
		out = map[string]any{"answers": plain}
	}

	enc := json.NewEncoder(writer(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func allowLocalDocuments(cfg *config.Config) {
	cfg.Fetch.AllowLocal = true
}
