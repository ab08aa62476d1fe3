// Package extraction は取扱説明書からのメンテナンス項目抽出と
// 抽出結果の共有キャッシュを提供する。
// 抽出は外部の抽出サービスに委譲し、結果はスキーマ検証を経て
// (manufacturer, model_number) 単位で全所有者に共有される。
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// RawItem は抽出サービスが返す検証前のメンテナンス項目。
// FrequencyText / FrequencyDays は周期ルールの解析入力になる。
type RawItem struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Importance    string `json:"importance"`
	FrequencyText string `json:"frequency_text"`
	FrequencyDays int    `json:"frequency_days"`
	SourcePage    *int   `json:"source_page,omitempty"`
}

// extractRequest は抽出サービスへのリクエストボディ。
type extractRequest struct {
	Manufacturer string `json:"manufacturer"`
	ModelNumber  string `json:"model_number"`
}

// extractResponse は抽出サービスのレスポンスボディ。
type extractResponse struct {
	Items []RawItem `json:"items"`
	Error string    `json:"error,omitempty"`
}

// Client は取扱説明書抽出サービスのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// Extract は指定機種の取扱説明書からメンテナンス項目を抽出する。
// 抽出サービスのエラーレスポンスおよび非200ステータスはエラーとして返す
// （呼び出し元が失敗レコードの保存を判断する）。
func (c *Client) Extract(ctx context.Context, manufacturer, modelNumber string) ([]RawItem, error) {
	body, err := json.Marshal(extractRequest{
		Manufacturer: manufacturer,
		ModelNumber:  modelNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("抽出リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Menteman/1.0 Maintenance Reminder")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("抽出サービスの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("manufacturer", manufacturer),
			slog.String("model_number", modelNumber),
		)
		return nil, fmt.Errorf("抽出サービスの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("抽出サービスがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("manufacturer", manufacturer),
			slog.String("model_number", modelNumber),
		)
		return nil, fmt.Errorf("抽出サービスがステータス %d を返しました", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result extractResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("抽出サービスがエラーを返しました: %s", result.Error)
	}

	return result.Items, nil
}
