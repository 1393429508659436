package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/repository"
)

// embedDescriptionLimit は埋め込み入力に含める説明文の最大バイト長。
// モデルのトークン上限を超えないよう説明文のみ切り詰める。
const embedDescriptionLimit = 2000

// Service は埋め込みベクトル未生成の募集情報へのベクトル付与を行う。
type Service struct {
	repo      repository.OpportunityRepository
	embedder  Embedder
	logger    *slog.Logger
	batchSize int
}

// NewService はServiceを生成する。
func NewService(repo repository.OpportunityRepository, embedder Embedder, logger *slog.Logger, batchSize int) *Service {
	return &Service{
		repo:      repo,
		embedder:  embedder,
		logger:    logger,
		batchSize: batchSize,
	}
}

// GenerateForNew は埋め込み未生成の募集情報を新しい順に最大limit件処理し、
// 生成できた件数を返す。バッチ単位でAPIを呼び、バッチの失敗は記録して
// 次のバッチへ進む。
func (s *Service) GenerateForNew(ctx context.Context, limit int) (int, error) {
	opps, err := s.repo.ListWithoutEmbeddings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("埋め込み未生成の募集情報の取得に失敗しました: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	var generated int
	for start := 0; start < len(opps); start += s.batchSize {
		end := start + s.batchSize
		if end > len(opps) {
			end = len(opps)
		}
		batch := opps[start:end]

		n, err := s.processBatch(ctx, batch)
		generated += n
		if err != nil {
			s.logger.Warn("埋め込みバッチの処理に失敗しました",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		if ctx.Err() != nil {
			return generated, ctx.Err()
		}
	}

	s.logger.Info("埋め込み生成が完了しました",
		slog.Int("candidates", len(opps)),
		slog.Int("generated", generated),
	)
	return generated, nil
}

// processBatch は1バッチ分の埋め込みを生成して保存する。
// APIは1回の呼び出しでバッチ全体を処理し、保存はバッチ内で並行に行う。
func (s *Service) processBatch(ctx context.Context, batch []*model.Opportunity) (int, error) {
	texts := make([]string, len(batch))
	for i, opp := range batch {
		texts[i] = EmbeddingText(opp)
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, err
	}

	var (
		mu        sync.Mutex
		generated int
		wg        sync.WaitGroup
	)
	for i, opp := range batch {
		wg.Add(1)
		go func(id string, vector []float32) {
			defer wg.Done()
			if err := s.repo.UpdateEmbedding(ctx, id, vector); err != nil {
				s.logger.Warn("埋め込みの保存に失敗しました",
					slog.String("opportunity_id", id),
					slog.String("error", err.Error()),
				)
				return
			}
			mu.Lock()
			generated++
			mu.Unlock()
		}(opp.ID, vectors[i])
	}
	wg.Wait()

	return generated, nil
}

// EmbeddingText は募集情報から埋め込み入力テキストを組み立てる。
// 分類結果を含めることで種別・分野・国の近い募集情報がベクトル空間上でも
// 近くなる。
func EmbeddingText(opp *model.Opportunity) string {
	description := opp.Description
	if len(description) > embedDescriptionLimit {
		cut := embedDescriptionLimit
		for cut > 0 && !utf8.RuneStart(description[cut]) {
			cut--
		}
		description = description[:cut]
	}

	parts := []string{
		opp.Title,
		opp.Organization,
		string(opp.Type),
		opp.Field,
		opp.Country,
		description,
	}
	return strings.Join(parts, " | ")
}
