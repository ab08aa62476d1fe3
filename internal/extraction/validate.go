package extraction

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/recurrence"
)

// Validator は抽出サービスの生出力をスキーマ検証し、
// 保存可能なメンテナンス項目テンプレートに変換する。
// 検証に失敗した項目は破棄し、不正件数として数える。
type Validator struct {
	policy *bluemonday.Policy
}

// NewValidator はValidatorの新しいインスタンスを生成する。
// 項目名・説明は平文として扱うため、全タグを除去するStrictPolicyを使用する。
func NewValidator() *Validator {
	return &Validator{
		policy: bluemonday.StrictPolicy(),
	}
}

// Validate は生項目リストを検証済みテンプレートに変換する。
// 破棄条件:
//   - サニタイズ後の項目名が空
//   - カテゴリまたは重要度が未定義の値
//
// 周期の解析失敗は破棄条件ではなく、不定期ルールとして保持する。
//
// 残った項目と破棄した件数を返す。入力順は保持される。
func (v *Validator) Validate(raw []RawItem) ([]model.MaintenanceItemTemplate, int) {
	var items []model.MaintenanceItemTemplate
	defects := 0

	for _, r := range raw {
		name := strings.TrimSpace(v.policy.Sanitize(r.Name))
		if name == "" {
			defects++
			continue
		}

		category := model.Category(r.Category)
		importance := model.Importance(r.Importance)
		if !model.ValidCategory(category) || !model.ValidImportance(importance) {
			defects++
			continue
		}

		// 解析できない周期は不定期として保持する（項目自体は破棄しない）
		rule := recurrence.Parse(r.FrequencyText, r.FrequencyDays)

		items = append(items, model.MaintenanceItemTemplate{
			Name:        name,
			Description: strings.TrimSpace(v.policy.Sanitize(r.Description)),
			Category:    category,
			Importance:  importance,
			Rule:        rule,
			SourcePage:  r.SourcePage,
		})
	}

	return items, defects
}
