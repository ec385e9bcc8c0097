package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/core/document"
)

// CacheCommand は質問応答キャッシュを参照・登録するコマンド
func CacheCommand() *cli.Command {
	documentFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:     "document",
			Usage:    "文書の URL（キャッシュの名前空間を決める）",
			Required: true,
		}
	}

	return &cli.Command{
		Name:  "cache",
		Usage: "質問応答キャッシュ管理コマンド",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "文書に紐づくキャッシュ済みの質問と回答を表示",
				Flags:  []cli.Flag{envFlag(), documentFlag()},
				Action: CacheListAction,
			},
			{
				Name:  "put",
				Usage: "質問と回答をキャッシュに登録（同じ質問は上書き）",
				Flags: []cli.Flag{
					envFlag(),
					documentFlag(),
					&cli.StringFlag{
						Name:     "question",
						Usage:    "質問",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "answer",
						Usage:    "回答",
						Required: true,
					},
				},
				Action: CachePutAction,
			},
		},
	}
}

type cacheEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type cacheListing struct {
	Namespace string       `json:"namespace"`
	Records   []cacheEntry `json:"records"`
}

// CacheListAction は名前空間内のレコードを質問順に JSON で出力する
func CacheListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"), errWriter(cmd))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	ns := document.NamespacesFor(document.FingerprintSource(cmd.String("document"))).QA
	answers := appCtx.Container.QACache.LookupAll(ctx, ns).Map()

	listing := cacheListing{Namespace: ns, Records: make([]cacheEntry, 0, len(answers))}
	for q, a := range answers {
		listing.Records = append(listing.Records, cacheEntry{Question: q, Answer: a})
	}
	sort.Slice(listing.Records, func(i, j int) bool {
		return listing.Records[i].Question < listing.Records[j].Question
	})

	enc := json.NewEncoder(writer(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(listing)
}

// CachePutAction は質問と回答を登録する
func CachePutAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"), errWriter(cmd))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	ns := document.NamespacesFor(document.FingerprintSource(cmd.String("document"))).QA
	if err := appCtx.Container.QACache.Store(ctx, ns, cmd.String("question"), cmd.String("answer")); err != nil {
		return fmt.Errorf("キャッシュへの登録に失敗: %w", err)
	}

	appCtx.Logger.Info("キャッシュに登録しました", "namespace", ns)
	return nil
}
