// Package notify は購読照合と通知配信を提供する。
//
// 取り込みで挿入された新着募集情報を有効な購読と照合し、
// マッチした購読×チャネルごとに通知を1件キューへ登録する。
// キューの配信はDispatcherが別途行う。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/repository"
)

// Matcher は新着募集情報と購読の照合を行う。
type Matcher struct {
	oppRepo   repository.OpportunityRepository
	subRepo   repository.SubscriptionRepository
	notifRepo repository.NotificationRepository
	logger    *slog.Logger
}

// NewMatcher はMatcherを生成する。
func NewMatcher(
	oppRepo repository.OpportunityRepository,
	subRepo repository.SubscriptionRepository,
	notifRepo repository.NotificationRepository,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		oppRepo:   oppRepo,
		subRepo:   subRepo,
		notifRepo: notifRepo,
		logger:    logger,
	}
}

// MatchAndQueue は指定IDの募集情報を全有効購読と照合し、
// マッチした購読×チャネルごとに通知をキューへ登録して件数を返す。
//
// 通知は購読ごとに代表1件（マッチした中で最初の募集情報）のみを参照する。
// マッチが複数あっても通知は1件にまとめ、通知の洪水を避ける。
func (m *Matcher) MatchAndQueue(ctx context.Context, opportunityIDs []string) (int, error) {
	if len(opportunityIDs) == 0 {
		return 0, nil
	}

	subs, err := m.subRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("有効な購読の取得に失敗しました: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	opps, err := m.oppRepo.FindByIDs(ctx, opportunityIDs)
	if err != nil {
		return 0, fmt.Errorf("新着募集情報の取得に失敗しました: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	now := time.Now()
	var notifications []*model.Notification
	for _, sub := range subs {
		matched := matchOpportunities(sub.Criteria, opps)
		if len(matched) == 0 {
			continue
		}

		representative := matched[0]
		for _, channel := range sub.Channels {
			notifications = append(notifications, &model.Notification{
				ID:             uuid.NewString(),
				UserID:         sub.UserID,
				SubscriptionID: sub.ID,
				OpportunityID:  representative.ID,
				Channel:        channel,
				Status:         model.NotificationStatusPending,
				CreatedAt:      now,
			})
		}

		m.logger.Info("購読にマッチしました",
			slog.String("subscription_id", sub.ID),
			slog.Int("matched", len(matched)),
			slog.String("representative", representative.ID),
		)
	}

	if len(notifications) == 0 {
		return 0, nil
	}

	if err := m.notifRepo.BulkCreate(ctx, notifications); err != nil {
		return 0, fmt.Errorf("通知キューへの登録に失敗しました: %w", err)
	}
	return len(notifications), nil
}

// matchOpportunities は購読条件にマッチする募集情報を入力順で返す。
func matchOpportunities(criteria model.SubscriptionCriteria, opps []*model.Opportunity) []*model.Opportunity {
	var matched []*model.Opportunity
	for _, opp := range opps {
		if criteriaMatches(criteria, opp) {
			matched = append(matched, opp)
		}
	}
	return matched
}

// criteriaMatches は募集情報が購読条件を満たすかを判定する。
// 各条件リストは「いずれかに一致」で評価され、未設定のリストは常にマッチする。
func criteriaMatches(criteria model.SubscriptionCriteria, opp *model.Opportunity) bool {
	if len(criteria.Types) > 0 && !matchesType(criteria.Types, opp.Type) {
		return false
	}
	if len(criteria.Fields) > 0 && !matchesAnySubstring(criteria.Fields, opp.Field) {
		return false
	}
	if len(criteria.Countries) > 0 && !matchesCountry(criteria.Countries, opp.Country) {
		return false
	}
	if len(criteria.Keywords) > 0 && !matchesKeywords(criteria.Keywords, opp) {
		return false
	}
	return true
}

func matchesType(types []model.OpportunityType, typ model.OpportunityType) bool {
	for _, t := range types {
		if t == typ {
			return true
		}
	}
	return false
}

// matchesAnySubstring はいずれかの条件値がtargetの部分文字列かを判定する。
func matchesAnySubstring(values []string, target string) bool {
	lowerTarget := strings.ToLower(target)
	for _, v := range values {
		if strings.Contains(lowerTarget, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

// matchesCountry は国の条件を判定する。
// 条件値 "global" は国を問わず常にマッチする（一方向のワイルドカード）。
func matchesCountry(countries []string, country string) bool {
	lowerCountry := strings.ToLower(country)
	for _, c := range countries {
		lower := strings.ToLower(c)
		if lower == "global" || strings.Contains(lowerCountry, lower) {
			return true
		}
	}
	return false
}

func matchesKeywords(keywords []string, opp *model.Opportunity) bool {
	haystack := strings.ToLower(opp.Title + " " + opp.Description + " " + opp.Organization)
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
