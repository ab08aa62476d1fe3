// Package recurrence はメンテナンス周期の正規化と期日計算を提供する。
// 取扱説明書から抽出された頻度表現（自由テキスト・日数）を計算可能な
// ルールに変換し、月末・うるう年を考慮して次回期日を進める。
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotAdvanceable は自動進行できないルール（不定期）に対して
// Advanceを呼び出した場合に返される。呼び出し側の契約違反を示す。
var ErrNotAdvanceable = errors.New("不定期ルールの期日は自動進行できません")

// Kind は周期ルールの種別を表す。
type Kind string

const (
	// KindFixedDays は固定日数間隔（毎日・毎週など）。
	KindFixedDays Kind = "fixed_days"
	// KindMonthly は毎月同日（月末は繰り上げ）。
	KindMonthly Kind = "monthly"
	// KindYearly は毎年同月日（2月29日は平年2月28日に繰り上げ）。
	KindYearly Kind = "yearly"
	// KindIrregular は不定期（必要に応じて実施、自動進行なし）。
	KindIrregular Kind = "irregular"
)

// Rule は正規化された周期ルールを表すイミュータブルな値型。
// 抽出結果から一度構築された後は変更されない。
type Rule struct {
	Kind Kind
	// Days はKindFixedDaysの間隔日数。
	Days int
	// Day はKindMonthly/KindYearlyの基準日。0は未アンカー
	// （初回期日確定時にAnchorToで固定する）。
	Day int
	// Month はKindYearlyの基準月。0は未アンカー。
	Month time.Month
}

// FixedDays は固定日数間隔のルールを生成する。nは1以上であること。
func FixedDays(n int) Rule {
	return Rule{Kind: KindFixedDays, Days: n}
}

// Monthly は毎月同日のルールを生成する。dayは1〜31、0は未アンカー。
func Monthly(day int) Rule {
	return Rule{Kind: KindMonthly, Day: day}
}

// Yearly は毎年同月日のルールを生成する。month/dayが0の場合は未アンカー。
func Yearly(month time.Month, day int) Rule {
	return Rule{Kind: KindYearly, Month: month, Day: day}
}

// Irregular は不定期ルールを生成する。
func Irregular() Rule {
	return Rule{Kind: KindIrregular}
}

// Parse は抽出結果の頻度テキストと日数を正規化ルールに変換する。
//
// 変換表:
//
//	daily / 毎日        → FixedDays(1)
//	weekly / 毎週 / 週1  → FixedDays(7)
//	monthly / 毎月 / 月1 → Monthly（初回期日でアンカー）
//	yearly / annual / 毎年 / 年1 → Yearly（初回期日でアンカー）
//	as needed / 不明 / 空 → Irregular
//
// テキストが変換表にマッチした場合はその行を採用する。daysが明示され、
// かつマッチ行と食い違う場合のみ明示日数が優先される（days=30はMonthly行、
// days=365はYearly行に対応するため食い違いとみなさない）。
// テキストが未知でdays>0の場合はFixedDays(days)とする。
func Parse(text string, days int) Rule {
	textRule, textMatched := parseText(text)
	daysRule, daysMatched := parseDays(days)

	switch {
	case textMatched && !daysMatched:
		return textRule
	case !textMatched && daysMatched:
		return daysRule
	case textMatched && daysMatched:
		// 同じ行を指す場合はテキスト行を採用し、食い違う場合は明示日数が勝つ。
		if textRule.Kind == daysRule.Kind && textRule.Days == daysRule.Days {
			return textRule
		}
		return daysRule
	default:
		return Irregular()
	}
}

// parseText は頻度テキストを変換表に照合する。
func parseText(text string) (Rule, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Rule{}, false
	}

	switch {
	case containsAny(t, "daily", "毎日", "日1回"):
		return FixedDays(1), true
	case containsAny(t, "weekly", "毎週", "週1回", "週に1回"):
		return FixedDays(7), true
	case containsAny(t, "monthly", "毎月", "月1回", "月に1回"):
		return Monthly(0), true
	case containsAny(t, "yearly", "annual", "毎年", "年1回", "年に1回"):
		return Yearly(0, 0), true
	default:
		// "as needed"、"必要に応じて" 等は未知テキストと同じ扱い（不定期）。
		return Rule{}, false
	}
}

// parseDays は明示日数を変換表に照合する。表にない正の日数は
// そのままFixedDaysとして扱う。
func parseDays(days int) (Rule, bool) {
	switch {
	case days <= 0:
		return Rule{}, false
	case days == 30:
		return Monthly(0), true
	case days == 365:
		return Yearly(0, 0), true
	default:
		return FixedDays(days), true
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Advanceable はこのルールの期日を自動進行できるかどうかを返す。
func (r Rule) Advanceable() bool {
	return r.Kind != KindIrregular
}

// AnchorTo は未アンカーのMonthly/Yearlyルールを初回期日で固定した
// 新しいルールを返す。その他の種別はそのまま返す。
func (r Rule) AnchorTo(firstDue time.Time) Rule {
	switch r.Kind {
	case KindMonthly:
		if r.Day == 0 {
			r.Day = firstDue.Day()
		}
	case KindYearly:
		if r.Month == 0 {
			r.Month = firstDue.Month()
		}
		if r.Day == 0 {
			r.Day = firstDue.Day()
		}
	}
	return r
}

// Advance はfromから次回期日を計算する。
// FixedDays(n)はカレンダー演算でn日後（月・年境界を跨いでも失敗しない）。
// Monthly(d)は翌月同日、その月にd日が存在しない場合は月末日に繰り上げる
// （例: 31日指定で30日までの月 → 30日）。
// Yearly(m, d)は翌年同月日、平年の2月29日は2月28日に繰り上げる。
// Irregularに対してはErrNotAdvanceableを返す。
func (r Rule) Advance(from time.Time) (time.Time, error) {
	switch r.Kind {
	case KindFixedDays:
		if r.Days <= 0 {
			return time.Time{}, fmt.Errorf("固定日数ルールの間隔が不正です: %d", r.Days)
		}
		return from.AddDate(0, 0, r.Days), nil

	case KindMonthly:
		day := r.Day
		if day == 0 {
			day = from.Day()
		}
		year, month := from.Year(), from.Month()+1
		return clampedDate(year, month, day, from), nil

	case KindYearly:
		month := r.Month
		if month == 0 {
			month = from.Month()
		}
		day := r.Day
		if day == 0 {
			day = from.Day()
		}
		return clampedDate(from.Year()+1, month, day, from), nil

	default:
		return time.Time{}, ErrNotAdvanceable
	}
}

// clampedDate はyear/month/dayから日付を構築する。dayがその月の日数を
// 超える場合は月末日に丸める。時刻・タイムゾーンはrefを引き継ぐ。
// monthは13以上でも構わない（time.Dateの正規化に従い翌年に繰り越す）。
func clampedDate(year int, month time.Month, day int, ref time.Time) time.Time {
	// time.Date(y, m+1, 0, ...) はm月の末日を返す。
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, ref.Location()).Day()
	if day > last {
		day = last
	}
	h, m, s := ref.Clock()
	return time.Date(year, month, day, h, m, s, ref.Nanosecond(), ref.Location())
}

// Encode はルールを永続化用の文字列に変換する。
// 例: "fixed_days:7"、"monthly:15"、"yearly:2:28"、"irregular"。
func (r Rule) Encode() string {
	switch r.Kind {
	case KindFixedDays:
		return fmt.Sprintf("%s:%d", KindFixedDays, r.Days)
	case KindMonthly:
		return fmt.Sprintf("%s:%d", KindMonthly, r.Day)
	case KindYearly:
		return fmt.Sprintf("%s:%d:%d", KindYearly, int(r.Month), r.Day)
	default:
		return string(KindIrregular)
	}
}

// Decode は永続化された文字列からルールを復元する。
func Decode(s string) (Rule, error) {
	parts := strings.Split(s, ":")
	switch Kind(parts[0]) {
	case KindIrregular:
		return Irregular(), nil
	case KindFixedDays:
		if len(parts) != 2 {
			return Rule{}, fmt.Errorf("固定日数ルールの形式が不正です: %q", s)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return Rule{}, fmt.Errorf("固定日数ルールの間隔が不正です: %q", s)
		}
		return FixedDays(n), nil
	case KindMonthly:
		if len(parts) != 2 {
			return Rule{}, fmt.Errorf("毎月ルールの形式が不正です: %q", s)
		}
		d, err := strconv.Atoi(parts[1])
		if err != nil || d < 0 || d > 31 {
			return Rule{}, fmt.Errorf("毎月ルールの基準日が不正です: %q", s)
		}
		return Monthly(d), nil
	case KindYearly:
		if len(parts) != 3 {
			return Rule{}, fmt.Errorf("毎年ルールの形式が不正です: %q", s)
		}
		m, err1 := strconv.Atoi(parts[1])
		d, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || m < 0 || m > 12 || d < 0 || d > 31 {
			return Rule{}, fmt.Errorf("毎年ルールの基準月日が不正です: %q", s)
		}
		return Yearly(time.Month(m), d), nil
	default:
		return Rule{}, fmt.Errorf("未知のルール種別です: %q", s)
	}
}

// MarshalJSON はルールをEncode文字列としてシリアライズする。
// 抽出アイテムテンプレートのJSONB格納で使用する。
func (r Rule) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(r.Encode())), nil
}

// UnmarshalJSON はEncode文字列からルールを復元する。
func (r *Rule) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("ルール文字列のアンクオートに失敗しました: %w", err)
	}
	decoded, err := Decode(s)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}
