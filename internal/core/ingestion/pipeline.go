package ingestion

const (
	// DefaultEmbeddingWorkerCount はデフォルトのEmbeddingワーカー数（I/O バウンド）
	DefaultEmbeddingWorkerCount = 4
	// DefaultEmbeddingBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbeddingBatchSize = 100
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
)

// PipelineConfig はパイプライン処理の設定
type PipelineConfig struct {
	// EmbeddingWorkerCount は同時に実行するEmbeddingバッチ数
	EmbeddingWorkerCount int
	// EmbeddingBatchSize はEmbeddingバッチサイズ（Embedder.MaxBatchSize()でクリップされる）
	EmbeddingBatchSize int
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		EmbeddingWorkerCount: DefaultEmbeddingWorkerCount,
		EmbeddingBatchSize:   DefaultEmbeddingBatchSize,
	}
}

// batchSize は Embedder の上限を考慮した実効バッチサイズを返す
func (c *PipelineConfig) batchSize(maxBatch int) int {
	size := c.EmbeddingBatchSize
	if maxBatch > 0 && (size <= 0 || size > maxBatch) {
		size = maxBatch
	}
	if size < MinBatchSize {
		size = MinBatchSize
	}
	return size
}

func (c *PipelineConfig) workers() int {
	if c.EmbeddingWorkerCount <= 0 {
		return 1
	}
	return c.EmbeddingWorkerCount
}
