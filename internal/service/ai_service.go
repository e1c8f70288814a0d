package service

import (
	"Zhixue-Auto-Marking-Backend/internal/model"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

const (
	recognizeSystemPrompt = "这是某张试卷中学生手写答案的截图，请识别并仅返回学生的手写作答内容，不要添加额外的描述。"
	recognizeUserPrompt   = "识别并仅返回学生的手写作答内容。"
)

// AIService 封装两个独立的远程推理调用：视觉模型识别手写内容，
// 推理模型依据评分标准给出结构化评分。自身不做重试，重试策略由批改流程决定。
type AIService struct {
	BaseURL        string
	APIKey         string
	VLModel        string
	ReasoningModel string
	HttpClient     *http.Client

	status func(string)
}

// NewAIService 的 status 回调用于向操作员日志汇报每次调用前后的进展，传 nil 则静默。
// timeoutSec 为 0 表示不限制单次调用时长。
func NewAIService(baseURL, apiKey, vlModel, reasoningModel string, timeoutSec int, status func(string)) *AIService {
	if status == nil {
		status = func(string) {}
	}
	return &AIService{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		VLModel:        vlModel,
		ReasoningModel: reasoningModel,
		HttpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		status: status,
	}
}

// RecognizeHandwriting 把答案截图交给视觉模型，返回识别出的手写文本。
func (s *AIService) RecognizeHandwriting(img []byte) (string, error) {
	s.status("正在识别手写内容...")

	imgB64 := base64.StdEncoding.EncodeToString(img)
	payload := model.AIChatRequest{
		Model: s.VLModel,
		Messages: []model.Message{
			{Role: "system", Content: recognizeSystemPrompt},
			{Role: "user", Content: []model.ContentPart{
				{Type: "image_url", ImageURL: &model.ImageURL{URL: "data:image/png;base64," + imgB64}},
				{Type: "text", Text: recognizeUserPrompt},
			}},
		},
	}

	content, err := s.chat("recognize", payload)
	if err != nil {
		return "", err
	}
	s.status("✅ 手写内容识别结果：\n" + content)
	return content, nil
}

// GetScore 以评分标准为系统指令、手写文本为用户内容请求结构化评分。
// 缺少得分字段时返回已解析的其余字段和 ErrScoreFieldMissing。
func (s *AIService) GetScore(rubric, handwriting string) (model.ScoreResult, error) {
	s.status("正在根据评分标准进行评分...")

	payload := model.AIChatRequest{
		Model: s.ReasoningModel,
		Messages: []model.Message{
			{Role: "system", Content: rubric},
			{Role: "user", Content: handwriting},
		},
		ResponseFormat: &model.ResponseFormat{Type: "json_object"},
	}

	content, err := s.chat("score", payload)
	if err != nil {
		return model.ScoreResult{}, err
	}

	result, err := parseScoreResult(content)
	if err != nil {
		return result, err
	}
	s.status(fmt.Sprintf("✅ 评分JSON结果：得分 %d，评价: %s", result.Score, result.Comment))
	return result, nil
}

func (s *AIService) chat(stage string, payload model.AIChatRequest) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", &InferenceError{Stage: stage, Err: fmt.Errorf("序列化请求失败: %w", err)}
	}

	req, err := http.NewRequest("POST", s.BaseURL+"/chat/completions", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", &InferenceError{Stage: stage, Err: fmt.Errorf("构造请求失败: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HttpClient.Do(req)
	if err != nil {
		return "", &InferenceError{Stage: stage, Err: fmt.Errorf("发送请求失败: %w", err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &InferenceError{Stage: stage, Err: fmt.Errorf("读取响应体失败: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr model.ErrorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Msg != "" {
			return "", &InferenceError{Stage: stage, Err: fmt.Errorf("API返回错误状态: %s (code=%d, msg=%s)", resp.Status, apiErr.Code, apiErr.Msg)}
		}
		return "", &InferenceError{Stage: stage, Err: fmt.Errorf("API返回错误状态: %s, 响应体: %s", resp.Status, string(bodyBytes))}
	}

	var aiResponse model.AIChatResponse
	if err := json.Unmarshal(bodyBytes, &aiResponse); err != nil {
		return "", &InferenceError{Stage: stage, Err: fmt.Errorf("解析响应JSON失败: %w", err)}
	}
	if len(aiResponse.Choices) == 0 || strings.TrimSpace(aiResponse.Choices[0].Message.Content) == "" {
		return "", &InferenceError{Stage: stage, Err: errors.New("AI返回了空响应")}
	}
	return aiResponse.Choices[0].Message.Content, nil
}

type scorePayload struct {
	Score      *json.Number `json:"得分"`
	Comment    string       `json:"评价"`
	Deductions string       `json:"扣分点"`
}

// stripCodeFence 去掉模型习惯性包裹在结构化输出外面的 Markdown 代码块标记。
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// 丢掉 "json" 之类的语言标记行
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseScoreResult 先按严格JSON解析；失败时做一次尽力而为的结构修复
// （去掉多余逗号、给键补引号、补齐截断的括号等）之后再解析一次。
func parseScoreResult(raw string) (model.ScoreResult, error) {
	raw = stripCodeFence(raw)
	var payload scorePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return model.ScoreResult{}, &InferenceError{Stage: "score", Err: fmt.Errorf("评分响应无法修复为JSON: %w", repairErr)}
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return model.ScoreResult{}, &InferenceError{Stage: "score", Err: fmt.Errorf("修复后的评分响应仍无法解析: %w", err)}
		}
	}

	result := model.ScoreResult{
		Comment:    payload.Comment,
		Deductions: payload.Deductions,
	}
	if payload.Score == nil {
		return result, &InferenceError{Stage: "score", Err: ErrScoreFieldMissing}
	}
	f, err := payload.Score.Float64()
	if err != nil {
		return result, &InferenceError{Stage: "score", Err: ErrScoreFieldMissing}
	}
	result.Score = int(f)
	return result, nil
}
