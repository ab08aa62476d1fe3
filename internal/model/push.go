package model

import "time"

// PushSubscription はユーザーの1デバイス分のWeb Push購読を表す。
// 1ユーザーが複数デバイス分を持てる。配信時に「購読消滅」（HTTP 410相当）を
// 受けたレコードはディスパッチャーが自動削除する。
type PushSubscription struct {
	ID       string
	UserID   string
	Endpoint string
	// P256dhKey / AuthKey はWeb Push暗号化の鍵パラメータ。
	P256dhKey string
	AuthKey   string
	CreatedAt time.Time
}
