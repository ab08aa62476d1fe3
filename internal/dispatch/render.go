package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/menteman/internal/model"
)

// NotificationItem は通知ペイロードに含まれる1件の予定。
type NotificationItem struct {
	ScheduleID string           `json:"schedule_id"`
	ItemName   string           `json:"item_name"`
	Category   model.Category   `json:"category"`
	Importance model.Importance `json:"importance"`
	DueAt      time.Time        `json:"due_at"`
}

// NotificationPayload はプッシュ通知のJSONペイロード。
// 1ユーザー1サイクルにつき1通にまとめられる。
type NotificationPayload struct {
	Title string             `json:"title"`
	Body  string             `json:"body"`
	Items []NotificationItem `json:"items"`
	// TotalDue は期日到来中の総件数。Itemsが上限で切られた場合に
	// 「他N件」の表示に使用する。
	TotalDue int `json:"total_due"`
}

// RenderPayload はユーザーの期日到来予定から通知ペイロードを構築する。
// 項目は重要度の高い順、同重要度では期日の早い順（同時刻はID順）に並べ、
// maxItems件で切り詰める。
func RenderPayload(schedules []*model.MaintenanceSchedule, maxItems int) ([]byte, error) {
	sorted := make([]*model.MaintenanceSchedule, len(schedules))
	copy(sorted, schedules)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Importance.Rank(), sorted[j].Importance.Rank()
		if ri != rj {
			return ri < rj
		}
		di, dj := sorted[i].NextDueAt, sorted[j].NextDueAt
		if !di.Equal(*dj) {
			return di.Before(*dj)
		}
		return sorted[i].ID < sorted[j].ID
	})

	total := len(sorted)
	if maxItems > 0 && len(sorted) > maxItems {
		sorted = sorted[:maxItems]
	}

	items := make([]NotificationItem, 0, len(sorted))
	for _, s := range sorted {
		items = append(items, NotificationItem{
			ScheduleID: s.ID,
			ItemName:   s.ItemName,
			Category:   s.Category,
			Importance: s.Importance,
			DueAt:      *s.NextDueAt,
		})
	}

	body := fmt.Sprintf("%d件のメンテナンスが期日を迎えています", total)
	if total == 1 {
		body = fmt.Sprintf("「%s」が期日を迎えています", items[0].ItemName)
	}

	payload := NotificationPayload{
		Title:    "メンテナンスのリマインダー",
		Body:     body,
		Items:    items,
		TotalDue: total,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("通知ペイロードのエンコードに失敗しました: %w", err)
	}
	return data, nil
}
