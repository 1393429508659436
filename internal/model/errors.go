// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 呼び出し元に返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, search, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeSourceNotFound   = "SOURCE_NOT_FOUND"
	ErrCodeRunInProgress    = "RUN_IN_PROGRESS"
	ErrCodeInvalidSearch    = "INVALID_SEARCH"
	ErrCodeOpportunityMiss  = "OPPORTUNITY_NOT_FOUND"
	ErrCodeEmbeddingMissing = "EMBEDDING_MISSING"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているフィードのURLを指定してください。プライベートネットワークへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフィード取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewRunInProgressError は取り込み実行が既に進行中の場合のエラーを生成する。
func NewRunInProgressError(lastStartedAt string) *APIError {
	return &APIError{
		Code:     ErrCodeRunInProgress,
		Message:  fmt.Sprintf("取り込みは最近実行されています（開始時刻: %s）。", lastStartedAt),
		Category: "system",
		Action:   "ロック期間の経過後に再度実行してください。",
	}
}

// NewOpportunityNotFoundError は募集情報未検出エラーを生成する。
func NewOpportunityNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeOpportunityMiss,
		Message:  fmt.Sprintf("指定された募集情報が見つかりません: %s", id),
		Category: "search",
		Action:   "募集情報IDを確認してください。",
	}
}

// NewEmbeddingUnavailableError は埋め込みAPIが未設定の場合のエラーを生成する。
func NewEmbeddingUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeEmbeddingMissing,
		Message:  "埋め込みAPIが設定されていないため、セマンティック検索は利用できません。",
		Category: "search",
		Action:   "OPENAI_API_KEYを設定するか、キーワード検索を使用してください。",
	}
}
