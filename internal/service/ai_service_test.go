package service

import (
	"Zhixue-Auto-Marking-Backend/internal/model"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, statusCode int, content string, capture *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("请求路径错误: %s", r.URL.Path)
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			*capture = body
		}
		w.WriteHeader(statusCode)
		if statusCode != http.StatusOK {
			fmt.Fprint(w, `{"code":1,"msg":"error"}`)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAIService(baseURL string) *AIService {
	return NewAIService(baseURL, "test-key", "vl-model", "reasoning-model", 5, nil)
}

func TestRecognizeHandwriting(t *testing.T) {
	var captured []byte
	srv := chatServer(t, http.StatusOK, "亚洲的东边和南边。", &captured)
	defer srv.Close()

	s := newTestAIService(srv.URL)
	text, err := s.RecognizeHandwriting([]byte("fake-png-bytes"))
	if err != nil {
		t.Fatalf("识别失败: %v", err)
	}
	if text != "亚洲的东边和南边。" {
		t.Fatalf("识别结果不符: %q", text)
	}

	var req map[string]any
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("请求体不是JSON: %v", err)
	}
	if req["model"] != "vl-model" {
		t.Errorf("应使用视觉模型, 实际: %v", req["model"])
	}
	if !strings.Contains(string(captured), "data:image/png;base64,") {
		t.Error("请求中应包含内联的图片数据URL")
	}
	messages := req["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("应有 system + user 两条消息, 实际 %d 条", len(messages))
	}
	if messages[0].(map[string]any)["role"] != "system" {
		t.Error("第一条消息应为 system 指令")
	}
}

func TestRecognizeHandwritingTransportError(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, "", nil)
	defer srv.Close()

	s := newTestAIService(srv.URL)
	_, err := s.RecognizeHandwriting([]byte("img"))
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("应返回 *InferenceError, 实际: %v", err)
	}
}

func TestRecognizeHandwritingEmptyResponse(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "", nil)
	defer srv.Close()

	s := newTestAIService(srv.URL)
	_, err := s.RecognizeHandwriting([]byte("img"))
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("空响应应返回 *InferenceError, 实际: %v", err)
	}
}

func TestGetScoreWellFormed(t *testing.T) {
	var captured []byte
	srv := chatServer(t, http.StatusOK, `{"得分": 2, "评价": "回答正确。", "扣分点": ""}`, &captured)
	defer srv.Close()

	s := newTestAIService(srv.URL)
	result, err := s.GetScore("rubric-text", "学生作答")
	if err != nil {
		t.Fatalf("评分失败: %v", err)
	}
	want := model.ScoreResult{Score: 2, Comment: "回答正确。", Deductions: ""}
	if result != want {
		t.Fatalf("评分结果不符: %+v", result)
	}

	var req map[string]any
	_ = json.Unmarshal(captured, &req)
	if req["model"] != "reasoning-model" {
		t.Errorf("应使用推理模型, 实际: %v", req["model"])
	}
	if rf, ok := req["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
		t.Error("应请求结构化 (json_object) 响应")
	}
}

func TestParseScoreResultRepairable(t *testing.T) {
	// 结构修复对语义透明：修复后的字段应与规范JSON的解析结果一致。
	wellFormed := `{"得分": 1, "评价": "基本正确，但缺少关键点。", "扣分点": "未提到南部地区"}`
	malformed := []string{
		// 末尾多余逗号
		`{"得分": 1, "评价": "基本正确，但缺少关键点。", "扣分点": "未提到南部地区",}`,
		// 键未加引号
		`{得分: 1, 评价: "基本正确，但缺少关键点。", 扣分点: "未提到南部地区"}`,
		// 代码块包裹
		"```json\n{\"得分\": 1, \"评价\": \"基本正确，但缺少关键点。\", \"扣分点\": \"未提到南部地区\"}\n```",
		// 无语言标记的代码块 + 末尾多余逗号
		"```\n{\"得分\": 1, \"评价\": \"基本正确，但缺少关键点。\", \"扣分点\": \"未提到南部地区\",}\n```",
	}

	want, err := parseScoreResult(wellFormed)
	if err != nil {
		t.Fatalf("规范JSON解析失败: %v", err)
	}
	for _, raw := range malformed {
		got, err := parseScoreResult(raw)
		if err != nil {
			t.Errorf("可修复的响应解析失败: %q: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("修复后结果与规范JSON不一致: %q -> %+v", raw, got)
		}
	}
}

func TestParseScoreResultUnrepairable(t *testing.T) {
	_, err := parseScoreResult(`{"得分": "不是数字", "评价": 1`)
	var infErr *InferenceError
	if err == nil || !errors.As(err, &infErr) {
		t.Fatalf("不可修复的响应应返回 *InferenceError, 实际: %v", err)
	}
	if errors.Is(err, ErrScoreFieldMissing) {
		t.Error("解析彻底失败不应按得分字段缺失处理")
	}
}

func TestParseScoreResultMissingScoreField(t *testing.T) {
	result, err := parseScoreResult(`{"评价": "回答错误。", "扣分点": "完全不相关"}`)
	if !errors.Is(err, ErrScoreFieldMissing) {
		t.Fatalf("缺少得分字段应返回 ErrScoreFieldMissing, 实际: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("缺少得分字段时得分应为 0, 实际: %d", result.Score)
	}
	if result.Comment != "回答错误。" {
		t.Errorf("其余字段应保留, 实际: %+v", result)
	}
}
