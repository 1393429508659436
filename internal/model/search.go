// Package model はドメインモデルを定義する。
package model

// SearchParams は募集情報検索の入力パラメータを表す。
type SearchParams struct {
	Query   string
	Type    OpportunityType
	Field   string
	Country string
	Limit   int
	Offset  int
}

// SearchResult は検索結果1件と関連スコアを表す。
// スコアは検索経路によって埋まる範囲が異なる:
// セマンティック検索はVectorScoreのみ、キーワード検索はKeywordScoreのみ、
// ハイブリッド検索は3つすべてを設定する。
type SearchResult struct {
	Opportunity
	VectorScore  float64
	KeywordScore float64
	HybridScore  float64
}

// SearchIntent は自然言語クエリから抽出した検索意図を表す。
type SearchIntent struct {
	Keywords string
	Type     OpportunityType
	Field    string
	Country  string
}

// OpportunityStats は募集情報の統計情報を表す。
type OpportunityStats struct {
	Total          int
	WithEmbeddings int
	ByType         map[string]int
	ByCountry      map[string]int
	ActiveSources  int
}
