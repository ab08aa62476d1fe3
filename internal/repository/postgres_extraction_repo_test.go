package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/hitoshi/menteman/internal/model"
)

// PostgresExtractionRepoはExtractionRepositoryインターフェースを満たすことを検証
func TestPostgresExtractionRepo_ImplementsInterface(t *testing.T) {
	var _ ExtractionRepository = (*PostgresExtractionRepo)(nil)
}

// NewPostgresExtractionRepoが正しく初期化されることを検証
func TestNewPostgresExtractionRepo_Initializes(t *testing.T) {
	repo := NewPostgresExtractionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ManualExtractionモデルのフィールドが正しく構築されることを検証
func TestPostgresExtractionRepo_ExtractionModel_Fields(t *testing.T) {
	now := time.Now()
	extraction := &model.ManualExtraction{
		ID:           "ext-id-1",
		Manufacturer: "パナソニック",
		ModelNumber:  "NA-FA120V5",
		Status:       model.ExtractionStatusReady,
		DefectCount:  2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if extraction.ID != "ext-id-1" {
		t.Errorf("extraction.ID = %q, want %q", extraction.ID, "ext-id-1")
	}
	if extraction.Status != model.ExtractionStatusReady {
		t.Errorf("extraction.Status = %q, want %q", extraction.Status, model.ExtractionStatusReady)
	}
	if extraction.DefectCount != 2 {
		t.Errorf("extraction.DefectCount = %d, want 2", extraction.DefectCount)
	}
}

// nullStringが空文字列と非空文字列を正しく変換することを検証
func TestNullString_Conversion(t *testing.T) {
	if nullString("").Valid {
		t.Error("empty string should produce invalid NullString")
	}

	ns := nullString("抽出に失敗しました")
	if !ns.Valid || ns.String != "抽出に失敗しました" {
		t.Errorf("nullString = %+v, want valid %q", ns, "抽出に失敗しました")
	}
}

// nullStringValueがNULLと値を正しく復元することを検証
func TestNullStringValue_Conversion(t *testing.T) {
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("nullStringValue(invalid) = %q, want empty", got)
	}
	if got := nullStringValue(sql.NullString{String: "ok", Valid: true}); got != "ok" {
		t.Errorf("nullStringValue = %q, want %q", got, "ok")
	}
}
