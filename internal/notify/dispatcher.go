package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/repository"
)

// ChannelSender は1チャネル分の通知配信のインターフェース。
type ChannelSender interface {
	// Send は通知を配信する。エラーを返した通知はfailedとして記録される。
	Send(ctx context.Context, notification *model.PendingNotification) error
}

// Dispatcher は通知キューを排出してチャネルごとの配信を行う。
type Dispatcher struct {
	notifRepo  repository.NotificationRepository
	senders    map[model.NotificationChannel]ChannelSender
	logger     *slog.Logger
	drainLimit int
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(notifRepo repository.NotificationRepository, logger *slog.Logger, drainLimit int) *Dispatcher {
	d := &Dispatcher{
		notifRepo:  notifRepo,
		logger:     logger,
		drainLimit: drainLimit,
	}
	d.senders = map[model.NotificationChannel]ChannelSender{
		model.ChannelInApp: &inAppSender{notifRepo: notifRepo},
		model.ChannelEmail: &stubSender{channel: model.ChannelEmail, logger: logger},
		model.ChannelPush:  &stubSender{channel: model.ChannelPush, logger: logger},
	}
	return d
}

// ProcessPending は配信待ちの通知を最大drainLimit件処理し、
// 配信できた件数を返す。
//
// 配信結果は通知ごとにsent/failedへ更新される。failedの再送は行わない。
func (d *Dispatcher) ProcessPending(ctx context.Context) (int, error) {
	pending, err := d.notifRepo.ListPending(ctx, d.drainLimit)
	if err != nil {
		return 0, fmt.Errorf("配信待ち通知の取得に失敗しました: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var sent int
	for _, notification := range pending {
		if err := d.dispatch(ctx, notification); err != nil {
			d.logger.Warn("通知の配信に失敗しました",
				slog.String("notification_id", notification.ID),
				slog.String("channel", string(notification.Channel)),
				slog.String("error", err.Error()),
			)
			if markErr := d.notifRepo.MarkFailed(ctx, notification.ID, err.Error()); markErr != nil {
				d.logger.Error("通知の失敗記録に失敗しました",
					slog.String("notification_id", notification.ID),
					slog.String("error", markErr.Error()),
				)
			}
			continue
		}

		if err := d.notifRepo.MarkSent(ctx, notification.ID, time.Now()); err != nil {
			d.logger.Error("通知の送信済み記録に失敗しました",
				slog.String("notification_id", notification.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}

	d.logger.Info("通知キューの排出が完了しました",
		slog.Int("pending", len(pending)),
		slog.Int("sent", sent),
	)
	return sent, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, notification *model.PendingNotification) error {
	sender, ok := d.senders[notification.Channel]
	if !ok {
		return fmt.Errorf("未対応の通知チャネルです: %s", notification.Channel)
	}
	return sender.Send(ctx, notification)
}

// inAppSender はアプリ内受信箱への通知配信。
type inAppSender struct {
	notifRepo repository.NotificationRepository
}

func (s *inAppSender) Send(ctx context.Context, notification *model.PendingNotification) error {
	opp := notification.Opportunity
	if opp == nil {
		return fmt.Errorf("通知対象の募集情報がありません")
	}

	title := "New opportunity matching your subscription"
	body := fmt.Sprintf("%s — %s (%s, %s)", opp.Title, opp.Organization, opp.Type, opp.Country)
	if err := s.notifRepo.InsertInbox(ctx, notification.UserID, title, body, opp.URL); err != nil {
		return fmt.Errorf("受信箱への書き込みに失敗しました: %w", err)
	}
	return nil
}

// stubSender は外部プロバイダ連携のプレースホルダ。
// 配信内容をログに記録するだけで常に成功する。
type stubSender struct {
	channel model.NotificationChannel
	logger  *slog.Logger
}

func (s *stubSender) Send(ctx context.Context, notification *model.PendingNotification) error {
	s.logger.Info("通知を配信しました（外部プロバイダ未接続）",
		slog.String("channel", string(s.channel)),
		slog.String("user_id", notification.UserID),
		slog.String("opportunity_id", notification.OpportunityID),
	)
	return nil
}
