package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/placementbridge/oppengine/internal/model"
)

func pendingNotification(id string, channel model.NotificationChannel) *model.PendingNotification {
	return &model.PendingNotification{
		Notification: model.Notification{
			ID:      id,
			UserID:  "user-1",
			Channel: channel,
			Status:  model.NotificationStatusPending,
		},
		Opportunity: &model.Opportunity{
			ID:           "opp-1",
			Title:        "Software Internship",
			Organization: "Google",
			Type:         model.TypeInternship,
			Country:      "Uganda",
			URL:          "https://example.com/1",
		},
	}
}

func TestProcessPending_SendsAndMarks(t *testing.T) {
	notifRepo := &stubNotifRepo{pending: []*model.PendingNotification{
		pendingNotification("n-1", model.ChannelInApp),
		pendingNotification("n-2", model.ChannelEmail),
		pendingNotification("n-3", model.ChannelPush),
	}}
	d := NewDispatcher(notifRepo, notifyTestLogger(), 100)

	sent, err := d.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("配信に失敗しました: %v", err)
	}
	if sent != 3 {
		t.Errorf("配信数が一致しません: %d", sent)
	}
	if len(notifRepo.sent) != 3 {
		t.Errorf("送信済み記録の数が一致しません: %v", notifRepo.sent)
	}

	// in_appチャネルは受信箱に書き込まれる
	if len(notifRepo.inbox) != 1 || notifRepo.inbox[0] != "user-1" {
		t.Errorf("受信箱への書き込みが一致しません: %v", notifRepo.inbox)
	}
}

func TestProcessPending_RespectsDrainLimit(t *testing.T) {
	var pending []*model.PendingNotification
	for i := 0; i < 10; i++ {
		pending = append(pending, pendingNotification("n-"+string(rune('a'+i)), model.ChannelEmail))
	}
	notifRepo := &stubNotifRepo{pending: pending}
	d := NewDispatcher(notifRepo, notifyTestLogger(), 4)

	sent, err := d.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("配信に失敗しました: %v", err)
	}
	if sent != 4 {
		t.Errorf("排出上限が守られていません: %d", sent)
	}
}

func TestProcessPending_FailureMarksFailedAndContinues(t *testing.T) {
	notifRepo := &stubNotifRepo{
		pending: []*model.PendingNotification{
			pendingNotification("n-1", model.ChannelInApp),
			pendingNotification("n-2", model.ChannelEmail),
		},
		inboxErr: errors.New("受信箱テーブルへの挿入に失敗しました"),
	}
	d := NewDispatcher(notifRepo, notifyTestLogger(), 100)

	sent, err := d.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("1件の失敗で全体を失敗させるべきではありません: %v", err)
	}
	if sent != 1 {
		t.Errorf("配信数が一致しません: %d", sent)
	}
	if _, ok := notifRepo.failed["n-1"]; !ok {
		t.Error("失敗した通知はfailedに記録されるべきです")
	}
	if len(notifRepo.sent) != 1 || notifRepo.sent[0] != "n-2" {
		t.Errorf("成功した通知のみ送信済みになるべきです: %v", notifRepo.sent)
	}
}

func TestProcessPending_EmptyQueue(t *testing.T) {
	d := NewDispatcher(&stubNotifRepo{}, notifyTestLogger(), 100)

	sent, err := d.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("エラーが返るべきではありません: %v", err)
	}
	if sent != 0 {
		t.Errorf("配信数が一致しません: %d", sent)
	}
}

func TestProcessPending_MissingOpportunityMarksFailed(t *testing.T) {
	broken := pendingNotification("n-1", model.ChannelInApp)
	broken.Opportunity = nil
	notifRepo := &stubNotifRepo{pending: []*model.PendingNotification{broken}}
	d := NewDispatcher(notifRepo, notifyTestLogger(), 100)

	sent, err := d.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("配信に失敗しました: %v", err)
	}
	if sent != 0 {
		t.Errorf("配信数が一致しません: %d", sent)
	}
	if _, ok := notifRepo.failed["n-1"]; !ok {
		t.Error("募集情報なしの通知はfailedに記録されるべきです")
	}
}
