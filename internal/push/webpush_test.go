package push

import (
	"net/http"
	"testing"
)

// HTTPステータスが正しく配信結果に分類されることを検証
func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       Outcome
	}{
		{"201 Created は成功", http.StatusCreated, OutcomeSuccess},
		{"200 OK は成功", http.StatusOK, OutcomeSuccess},
		{"202 Accepted は成功", http.StatusAccepted, OutcomeSuccess},
		{"404 は購読消滅", http.StatusNotFound, OutcomeGone},
		{"410 は購読消滅", http.StatusGone, OutcomeGone},
		{"400 は一時失敗", http.StatusBadRequest, OutcomeTransportFailure},
		{"413 は一時失敗", http.StatusRequestEntityTooLarge, OutcomeTransportFailure},
		{"429 は一時失敗", http.StatusTooManyRequests, OutcomeTransportFailure},
		{"500 は一時失敗", http.StatusInternalServerError, OutcomeTransportFailure},
		{"503 は一時失敗", http.StatusServiceUnavailable, OutcomeTransportFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.statusCode); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}

// Outcomeのログ表現を検証
func TestOutcome_String(t *testing.T) {
	if OutcomeSuccess.String() != "success" {
		t.Errorf("OutcomeSuccess.String() = %q", OutcomeSuccess.String())
	}
	if OutcomeGone.String() != "gone" {
		t.Errorf("OutcomeGone.String() = %q", OutcomeGone.String())
	}
	if OutcomeTransportFailure.String() != "transport_failure" {
		t.Errorf("OutcomeTransportFailure.String() = %q", OutcomeTransportFailure.String())
	}
}

// WebPushDelivererがDelivererインターフェースを満たすことを検証
func TestWebPushDeliverer_ImplementsInterface(t *testing.T) {
	var _ Deliverer = (*WebPushDeliverer)(nil)
}
