package extraction

import (
	"testing"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/recurrence"
)

// 有効な項目がテンプレートに変換されることを検証
func TestValidator_Validate_ValidItem(t *testing.T) {
	v := NewValidator()
	page := 12
	items, defects := v.Validate([]RawItem{
		{
			Name:          "フィルター清掃",
			Description:   "フィルターを水洗いする",
			Category:      "cleaning",
			Importance:    "high",
			FrequencyText: "毎月",
			SourcePage:    &page,
		},
	})

	if defects != 0 {
		t.Errorf("defects = %d, want 0", defects)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Rule != recurrence.Monthly(0) {
		t.Errorf("items[0].Rule = %+v, want 未アンカーの毎月", items[0].Rule)
	}
	if items[0].SourcePage == nil || *items[0].SourcePage != 12 {
		t.Errorf("items[0].SourcePage = %v, want 12", items[0].SourcePage)
	}
}

// 項目名のHTMLタグが除去されることを検証
func TestValidator_Validate_StripsHTML(t *testing.T) {
	v := NewValidator()
	items, defects := v.Validate([]RawItem{
		{
			Name:        "<b>フィルター清掃</b>",
			Description: "<script>alert(1)</script>水洗いする",
			Category:    "cleaning",
			Importance:  "medium",
		},
	})

	if defects != 0 {
		t.Errorf("defects = %d, want 0", defects)
	}
	if items[0].Name != "フィルター清掃" {
		t.Errorf("items[0].Name = %q, want タグ除去済み", items[0].Name)
	}
	if items[0].Description != "水洗いする" {
		t.Errorf("items[0].Description = %q, want %q", items[0].Description, "水洗いする")
	}
}

// タグのみの項目名が破棄されることを検証
func TestValidator_Validate_DropsEmptyName(t *testing.T) {
	v := NewValidator()
	items, defects := v.Validate([]RawItem{
		{Name: "<img src=x>", Category: "cleaning", Importance: "low"},
		{Name: "   ", Category: "cleaning", Importance: "low"},
	})

	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
	if defects != 2 {
		t.Errorf("defects = %d, want 2", defects)
	}
}

// 未定義のカテゴリ・重要度が破棄されることを検証
func TestValidator_Validate_DropsInvalidEnums(t *testing.T) {
	v := NewValidator()
	items, defects := v.Validate([]RawItem{
		{Name: "作業A", Category: "repair", Importance: "high"},
		{Name: "作業B", Category: "cleaning", Importance: "critical"},
		{Name: "作業C", Category: "inspection", Importance: "low"},
	})

	if len(items) != 1 || items[0].Name != "作業C" {
		t.Errorf("items = %+v, want 作業Cのみ", items)
	}
	if defects != 2 {
		t.Errorf("defects = %d, want 2", defects)
	}
}

// 解析できない周期が不定期として保持されることを検証
func TestValidator_Validate_UnparseableFrequencyBecomesIrregular(t *testing.T) {
	v := NewValidator()
	items, defects := v.Validate([]RawItem{
		{Name: "パッキン点検", Category: "inspection", Importance: "low", FrequencyText: "気づいたとき"},
	})

	if defects != 0 {
		t.Errorf("defects = %d, want 0", defects)
	}
	if items[0].Rule != recurrence.Irregular() {
		t.Errorf("items[0].Rule = %+v, want 不定期", items[0].Rule)
	}
	if items[0].Rule.Advanceable() {
		t.Error("不定期ルールは自動進行可能であってはならない")
	}
}

// MaintenanceItemTemplateのカテゴリ・重要度定義の網羅を検証
func TestValidator_Validate_AllCategories(t *testing.T) {
	v := NewValidator()
	raw := []RawItem{
		{Name: "清掃", Category: "cleaning", Importance: "high"},
		{Name: "点検", Category: "inspection", Importance: "medium"},
		{Name: "交換", Category: "replacement", Importance: "low"},
		{Name: "安全確認", Category: "safety", Importance: "high"},
	}

	items, defects := v.Validate(raw)
	if defects != 0 {
		t.Errorf("defects = %d, want 0", defects)
	}
	if len(items) != len(raw) {
		t.Errorf("len(items) = %d, want %d", len(items), len(raw))
	}
	if items[2].Category != model.CategoryReplacement {
		t.Errorf("items[2].Category = %q, want %q", items[2].Category, model.CategoryReplacement)
	}
}
