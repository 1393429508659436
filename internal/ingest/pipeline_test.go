package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/placementbridge/oppengine/internal/config"
	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/security"
)

// --- テスト用スタブ ---

type stubMetrics struct {
	fetchSuccess []string
	fetchFailure []string
	inserted     int
	skipped      int
	embeddings   int
	queued       int
}

func (m *stubMetrics) RecordSourceFetchSuccess(source string) {
	m.fetchSuccess = append(m.fetchSuccess, source)
}
func (m *stubMetrics) RecordSourceFetchFailure(source string) {
	m.fetchFailure = append(m.fetchFailure, source)
}
func (m *stubMetrics) RecordItemsInserted(count int)       { m.inserted += count }
func (m *stubMetrics) RecordItemsSkipped(count int)        { m.skipped += count }
func (m *stubMetrics) RecordEmbeddingsGenerated(count int) { m.embeddings += count }
func (m *stubMetrics) RecordNotificationsQueued(count int) { m.queued += count }
func (m *stubMetrics) RecordSearch(mode string)            {}
func (m *stubMetrics) RecordSearchLatency(time.Duration)   {}

type stubFetcher struct {
	items map[string][]model.RawFeedItem
	errs  map[string]error
	calls []string
}

func (f *stubFetcher) FetchURL(ctx context.Context, feedURL string) ([]model.RawFeedItem, error) {
	f.calls = append(f.calls, feedURL)
	if err, ok := f.errs[feedURL]; ok {
		return nil, err
	}
	return f.items[feedURL], nil
}

type stubOpportunityRepo struct {
	existing     map[string]struct{}
	existingErr  error
	insertErr    error
	insertedOpps []*model.Opportunity
}

func (r *stubOpportunityRepo) FindByID(ctx context.Context, id string) (*model.Opportunity, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Opportunity, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	if r.existingErr != nil {
		return nil, r.existingErr
	}
	found := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := r.existing[u]; ok {
			found[u] = struct{}{}
		}
	}
	return found, nil
}
func (r *stubOpportunityRepo) BulkInsert(ctx context.Context, opps []*model.Opportunity) ([]string, error) {
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	ids := make([]string, len(opps))
	for i, opp := range opps {
		ids[i] = opp.ID
	}
	r.insertedOpps = append(r.insertedOpps, opps...)
	return ids, nil
}
func (r *stubOpportunityRepo) ListWithoutEmbeddings(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	return nil
}
func (r *stubOpportunityRepo) SemanticSearch(ctx context.Context, embedding []float32, params model.SearchParams, threshold float64) ([]model.SearchResult, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) HybridSearch(ctx context.Context, embedding []float32, params model.SearchParams, threshold float64) ([]model.SearchResult, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) KeywordSearch(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) List(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) FindRelated(ctx context.Context, id string, limit int) ([]model.SearchResult, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) Stats(ctx context.Context) (*model.OpportunityStats, error) {
	return nil, nil
}
func (r *stubOpportunityRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type stubSourceRepo struct {
	sources       []*model.RssSource
	created       []*model.RssSource
	statusUpdates map[string]model.SourceStatus
}

func (r *stubSourceRepo) FindByID(ctx context.Context, id string) (*model.RssSource, error) {
	return nil, nil
}
func (r *stubSourceRepo) FindByURL(ctx context.Context, url string) (*model.RssSource, error) {
	for _, s := range r.sources {
		if s.URL == url {
			return s, nil
		}
	}
	return nil, nil
}
func (r *stubSourceRepo) Create(ctx context.Context, source *model.RssSource) error {
	r.created = append(r.created, source)
	r.sources = append(r.sources, source)
	return nil
}
func (r *stubSourceRepo) EnsureExists(ctx context.Context, name, url string) error { return nil }
func (r *stubSourceRepo) List(ctx context.Context) ([]*model.RssSource, error) {
	return r.sources, nil
}
func (r *stubSourceRepo) ListActive(ctx context.Context) ([]*model.RssSource, error) {
	var active []*model.RssSource
	for _, s := range r.sources {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active, nil
}
func (r *stubSourceRepo) UpdateFetchResult(ctx context.Context, id string, status model.SourceStatus) error {
	if r.statusUpdates == nil {
		r.statusUpdates = make(map[string]model.SourceStatus)
	}
	r.statusUpdates[id] = status
	return nil
}
func (r *stubSourceRepo) SetActive(ctx context.Context, id string, active bool) error { return nil }

type stubRunLogRepo struct {
	blocking  *model.IngestionRunLog
	created   []*model.IngestionRunLog
	completed []*model.IngestionRunLog
	failed    map[string]string
}

func (r *stubRunLogRepo) Create(ctx context.Context, log *model.IngestionRunLog) error {
	r.created = append(r.created, log)
	return nil
}
func (r *stubRunLogRepo) FindBlockingRun(ctx context.Context, window time.Duration) (*model.IngestionRunLog, error) {
	return r.blocking, nil
}
func (r *stubRunLogRepo) Complete(ctx context.Context, log *model.IngestionRunLog) error {
	r.completed = append(r.completed, log)
	return nil
}
func (r *stubRunLogRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	if r.failed == nil {
		r.failed = make(map[string]string)
	}
	r.failed[id] = errorMessage
	return nil
}
func (r *stubRunLogRepo) ListRecent(ctx context.Context, limit int) ([]*model.IngestionRunLog, error) {
	return nil, nil
}

type stubEmbedGenerator struct {
	generated int
	calls     int
}

func (g *stubEmbedGenerator) GenerateForNew(ctx context.Context, limit int) (int, error) {
	g.calls++
	return g.generated, nil
}

type stubSubMatcher struct {
	queued  int
	gotIDs  []string
	calls   int
	lastErr error
}

func (m *stubSubMatcher) MatchAndQueue(ctx context.Context, opportunityIDs []string) (int, error) {
	m.calls++
	m.gotIDs = opportunityIDs
	return m.queued, m.lastErr
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func recentTime() *time.Time {
	t := time.Now().Add(-24 * time.Hour)
	return &t
}

func newTestPipeline(
	oppRepo *stubOpportunityRepo,
	sourceRepo *stubSourceRepo,
	runLogRepo *stubRunLogRepo,
	fetcher *stubFetcher,
	embedder *stubEmbedGenerator,
	matcher *stubSubMatcher,
	collector *stubMetrics,
) *Pipeline {
	normalizer := NewNormalizer(security.NewContentSanitizer(), NewClassifier(), 5000, 90)
	var embedderIface EmbeddingGenerator
	if embedder != nil {
		embedderIface = embedder
	}
	var matcherIface SubscriptionMatcher
	if matcher != nil {
		matcherIface = matcher
	}
	return NewPipeline(
		oppRepo, sourceRepo, runLogRepo, fetcher, normalizer,
		embedderIface, matcherIface, collector, discardLogger(),
		nil, 0, 20*time.Minute, 200,
	)
}

// --- テスト ---

func TestRunIngestion_FallsBackToDefaultSources(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://fallback.example.com/feed": {
				{Title: "Software Job in Nairobi", Link: "https://example.com/fb-1", PublishedAt: recentTime()},
			},
		},
	}
	oppRepo := &stubOpportunityRepo{}
	sourceRepo := &stubSourceRepo{} // 有効ソース未登録
	runLogRepo := &stubRunLogRepo{}
	collector := &stubMetrics{}

	normalizer := NewNormalizer(security.NewContentSanitizer(), NewClassifier(), 5000, 90)
	p := NewPipeline(
		oppRepo, sourceRepo, runLogRepo, fetcher, normalizer,
		nil, nil, collector, discardLogger(),
		[]config.DefaultSource{{Name: "Fallback Feed", URL: "https://fallback.example.com/feed"}},
		0, 20*time.Minute, 200,
	)

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込みに失敗しました: %v", err)
	}
	if summary.TotalFetched != 1 || summary.TotalInserted != 1 {
		t.Errorf("フォールバックソースが処理されていません: fetched=%d inserted=%d",
			summary.TotalFetched, summary.TotalInserted)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != "https://fallback.example.com/feed" {
		t.Errorf("フォールバックソースのURLが取得されていません: %v", fetcher.calls)
	}
	// 未登録ソースのため取得状態は記録されない
	if len(sourceRepo.statusUpdates) != 0 {
		t.Errorf("未登録ソースの状態が記録されました: %v", sourceRepo.statusUpdates)
	}
}

func TestRunIngestion_EmptyRegistryWithoutFallback(t *testing.T) {
	fetcher := &stubFetcher{}
	sourceRepo := &stubSourceRepo{}
	runLogRepo := &stubRunLogRepo{}

	p := newTestPipeline(&stubOpportunityRepo{}, sourceRepo, runLogRepo, fetcher,
		&stubEmbedGenerator{}, &stubSubMatcher{}, &stubMetrics{})

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込みに失敗しました: %v", err)
	}
	if summary.TotalFetched != 0 || len(fetcher.calls) != 0 {
		t.Errorf("ソースなしで取得が実行されました: fetched=%d calls=%v",
			summary.TotalFetched, fetcher.calls)
	}
	if len(runLogRepo.completed) != 1 {
		t.Errorf("空実行でも実行ログは完了するべき: completed=%d", len(runLogRepo.completed))
	}
}

func TestRunIngestion_Success(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/a": {
				{Title: "Software Internship in Kampala", Link: "https://example.com/1", Description: "Great role", PublishedAt: recentTime()},
				{Title: "Nursing Job Vacancy", Link: "https://example.com/2", PublishedAt: recentTime()},
			},
			"https://feeds.example.com/b": {
				{Title: "Scholarship for African Students", Link: "https://example.com/3", PublishedAt: recentTime()},
			},
		},
	}
	oppRepo := &stubOpportunityRepo{}
	sourceRepo := &stubSourceRepo{sources: []*model.RssSource{
		{ID: "s1", Name: "Source A", URL: "https://feeds.example.com/a", IsActive: true},
		{ID: "s2", Name: "Source B", URL: "https://feeds.example.com/b", IsActive: true},
	}}
	runLogRepo := &stubRunLogRepo{}
	embedder := &stubEmbedGenerator{generated: 3}
	matcher := &stubSubMatcher{queued: 2}
	collector := &stubMetrics{}

	p := newTestPipeline(oppRepo, sourceRepo, runLogRepo, fetcher, embedder, matcher, collector)

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込みに失敗しました: %v", err)
	}
	if summary.Skipped {
		t.Fatal("スキップされるべきではありません")
	}
	if summary.TotalFetched != 3 || summary.TotalInserted != 3 {
		t.Errorf("集計が一致しません: fetched=%d inserted=%d", summary.TotalFetched, summary.TotalInserted)
	}
	if summary.EmbeddingsGenerated != 3 {
		t.Errorf("埋め込み生成数が一致しません: %d", summary.EmbeddingsGenerated)
	}
	if summary.NotificationsQueued != 2 {
		t.Errorf("通知キュー数が一致しません: %d", summary.NotificationsQueued)
	}
	if len(matcher.gotIDs) != 3 {
		t.Errorf("照合対象のID数が一致しません: %d", len(matcher.gotIDs))
	}
	if len(runLogRepo.created) != 1 || len(runLogRepo.completed) != 1 {
		t.Errorf("実行ログの状態遷移が想定と異なります: created=%d completed=%d",
			len(runLogRepo.created), len(runLogRepo.completed))
	}
	if runLogRepo.completed[0].ItemsInserted != 3 {
		t.Errorf("実行ログの挿入数が一致しません: %d", runLogRepo.completed[0].ItemsInserted)
	}
	if len(collector.fetchSuccess) != 2 {
		t.Errorf("フェッチ成功メトリクスが一致しません: %v", collector.fetchSuccess)
	}

	// 挿入された全行にIDと分類が付与されている
	for _, opp := range oppRepo.insertedOpps {
		if opp.ID == "" {
			t.Error("IDが付与されていません")
		}
		if opp.Type == "" || opp.Field == "" || opp.Country == "" {
			t.Errorf("分類が付与されていません: %+v", opp)
		}
	}
}

func TestRunIngestion_SkipsWhenRecentRunExists(t *testing.T) {
	runLogRepo := &stubRunLogRepo{
		blocking: &model.IngestionRunLog{
			ID:        "prev-run",
			Status:    model.RunStatusRunning,
			StartedAt: time.Now().Add(-5 * time.Minute),
		},
	}
	fetcher := &stubFetcher{}
	p := newTestPipeline(&stubOpportunityRepo{}, &stubSourceRepo{}, runLogRepo, fetcher, nil, nil, &stubMetrics{})

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("エラーが返るべきではありません: %v", err)
	}
	if !summary.Skipped {
		t.Error("Skipped=trueが返るべきです")
	}
	if len(runLogRepo.created) != 0 {
		t.Error("スキップ時には実行ログを作成しないべきです")
	}
	if len(fetcher.calls) != 0 {
		t.Error("スキップ時にはフェッチしないべきです")
	}
}

func TestRunIngestion_SourceFailureDoesNotAbort(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/ok": {
				{Title: "Job Vacancy", Link: "https://example.com/1", PublishedAt: recentTime()},
			},
		},
		errs: map[string]error{
			"https://feeds.example.com/broken": errors.New("接続がタイムアウトしました"),
		},
	}
	sourceRepo := &stubSourceRepo{sources: []*model.RssSource{
		{ID: "s1", Name: "Broken", URL: "https://feeds.example.com/broken", IsActive: true},
		{ID: "s2", Name: "OK", URL: "https://feeds.example.com/ok", IsActive: true},
	}}
	collector := &stubMetrics{}
	p := newTestPipeline(&stubOpportunityRepo{}, sourceRepo, &stubRunLogRepo{}, fetcher, nil, nil, collector)

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込みに失敗しました: %v", err)
	}
	if summary.TotalInserted != 1 {
		t.Errorf("正常ソースの挿入数が一致しません: %d", summary.TotalInserted)
	}
	if summary.TotalFailed != 1 {
		t.Errorf("失敗数が一致しません: %d", summary.TotalFailed)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("ソース結果数が一致しません: %d", len(summary.Results))
	}
	if len(summary.Results[0].Errors) == 0 {
		t.Error("失敗ソースの結果にエラーが記録されるべきです")
	}
	if len(collector.fetchFailure) != 1 || collector.fetchFailure[0] != "Broken" {
		t.Errorf("フェッチ失敗メトリクスが一致しません: %v", collector.fetchFailure)
	}

	// 失敗がソース状態に記録されている
	status, ok := sourceRepo.statusUpdates["s1"]
	if !ok || status.LastError == "" {
		t.Errorf("失敗ソースの状態が記録されていません: %+v", status)
	}
	if status, ok := sourceRepo.statusUpdates["s2"]; !ok || status.LastError != "" {
		t.Errorf("正常ソースの状態が想定と異なります: %+v", status)
	}
}

func TestRunIngestion_DuplicateURLsSkipped(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/a": {
				{Title: "Existing Job", Link: "https://example.com/known", PublishedAt: recentTime()},
				{Title: "New Job", Link: "https://example.com/new", PublishedAt: recentTime()},
				{Title: "New Job Repeat", Link: "https://example.com/new", PublishedAt: recentTime()},
			},
		},
	}
	oppRepo := &stubOpportunityRepo{
		existing: map[string]struct{}{"https://example.com/known": {}},
	}
	sourceRepo := &stubSourceRepo{sources: []*model.RssSource{
		{ID: "s1", Name: "Source A", URL: "https://feeds.example.com/a", IsActive: true},
	}}
	p := newTestPipeline(oppRepo, sourceRepo, &stubRunLogRepo{}, fetcher, nil, nil, &stubMetrics{})

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込みに失敗しました: %v", err)
	}
	if summary.TotalInserted != 1 {
		t.Errorf("挿入数が一致しません: %d", summary.TotalInserted)
	}
	if summary.TotalSkipped != 2 {
		t.Errorf("スキップ数が一致しません: %d", summary.TotalSkipped)
	}
	if len(oppRepo.insertedOpps) != 1 || oppRepo.insertedOpps[0].URL != "https://example.com/new" {
		t.Errorf("挿入された行が想定と異なります: %+v", oppRepo.insertedOpps)
	}
}

func TestRunIngestion_InvalidItemsSkipped(t *testing.T) {
	old := time.Now().Add(-120 * 24 * time.Hour)
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/a": {
				{Title: "", Link: "https://example.com/1", PublishedAt: recentTime()},
				{Title: "No Link Job", Link: "", PublishedAt: recentTime()},
				{Title: "Stale Job", Link: "https://example.com/2", PublishedAt: &old},
				{Title: "Valid Job", Link: "https://example.com/3", PublishedAt: recentTime()},
			},
		},
	}
	sourceRepo := &stubSourceRepo{sources: []*model.RssSource{
		{ID: "s1", Name: "Source A", URL: "https://feeds.example.com/a", IsActive: true},
	}}
	p := newTestPipeline(&stubOpportunityRepo{}, sourceRepo, &stubRunLogRepo{}, fetcher, nil, nil, &stubMetrics{})

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込みに失敗しました: %v", err)
	}
	if summary.TotalInserted != 1 {
		t.Errorf("挿入数が一致しません: %d", summary.TotalInserted)
	}
	if summary.TotalSkipped != 3 {
		t.Errorf("スキップ数が一致しません: %d", summary.TotalSkipped)
	}
}

func TestRunIngestion_ExistingURLQueryFailure(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/a": {
				{Title: "Job One", Link: "https://example.com/1", PublishedAt: recentTime()},
			},
		},
	}
	oppRepo := &stubOpportunityRepo{existingErr: errors.New("データベース接続に失敗しました")}
	sourceRepo := &stubSourceRepo{sources: []*model.RssSource{
		{ID: "s1", Name: "Source A", URL: "https://feeds.example.com/a", IsActive: true},
	}}
	p := newTestPipeline(oppRepo, sourceRepo, &stubRunLogRepo{}, fetcher, nil, nil, &stubMetrics{})

	summary, err := p.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("取り込み全体は失敗しないべきです: %v", err)
	}
	if summary.TotalFailed != 1 || summary.TotalInserted != 0 {
		t.Errorf("集計が一致しません: failed=%d inserted=%d", summary.TotalFailed, summary.TotalInserted)
	}
}

func TestIngestSource_RegistersAndIngests(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/new": {
				{Title: "Fresh Internship", Link: "https://example.com/f1", PublishedAt: recentTime()},
			},
		},
	}
	sourceRepo := &stubSourceRepo{}
	matcher := &stubSubMatcher{}
	p := newTestPipeline(&stubOpportunityRepo{}, sourceRepo, &stubRunLogRepo{}, fetcher, nil, matcher, &stubMetrics{})

	result, err := p.IngestSource(context.Background(), "New Source", "https://feeds.example.com/new")
	if err != nil {
		t.Fatalf("即時取り込みに失敗しました: %v", err)
	}
	if result.Inserted != 1 {
		t.Errorf("挿入数が一致しません: %d", result.Inserted)
	}

	// 未登録URLはソースとして登録される
	if len(sourceRepo.created) != 1 {
		t.Fatalf("ソースが登録されていません")
	}
	if sourceRepo.created[0].Name != "New Source" || !sourceRepo.created[0].IsActive {
		t.Errorf("登録されたソースが想定と異なります: %+v", sourceRepo.created[0])
	}
	if matcher.calls != 1 || len(matcher.gotIDs) != 1 {
		t.Errorf("購読照合が実行されていません: calls=%d ids=%d", matcher.calls, len(matcher.gotIDs))
	}
}

func TestIngestSource_ExistingSourceNotRecreated(t *testing.T) {
	fetcher := &stubFetcher{
		items: map[string][]model.RawFeedItem{
			"https://feeds.example.com/a": {
				{Title: "Job", Link: "https://example.com/1", PublishedAt: recentTime()},
			},
		},
	}
	sourceRepo := &stubSourceRepo{sources: []*model.RssSource{
		{ID: "s1", Name: "Source A", URL: "https://feeds.example.com/a", IsActive: true},
	}}
	p := newTestPipeline(&stubOpportunityRepo{}, sourceRepo, &stubRunLogRepo{}, fetcher, nil, nil, &stubMetrics{})

	if _, err := p.IngestSource(context.Background(), "Ignored Name", "https://feeds.example.com/a"); err != nil {
		t.Fatalf("即時取り込みに失敗しました: %v", err)
	}
	if len(sourceRepo.created) != 0 {
		t.Error("既存ソースを再登録するべきではありません")
	}
	if !strings.HasPrefix(fetcher.calls[0], "https://feeds.example.com/a") {
		t.Errorf("既存ソースのURLがフェッチされていません: %v", fetcher.calls)
	}
}
