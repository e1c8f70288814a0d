package repository

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultRubric 是内置的默认评分标准，在未提供评分标准文件时使用。
const DefaultRubric = `你是一位严格、严谨的初中地理阅卷老师。
你的任务是根据提供的“标准答案”和“评分标准”，对学生的“手写答案”进行打分。

【评分标准】
1.  完全符合“标准答案”或与“标准答案”意思一致，得满分。
2.  部分答对或意思相近，请根据符合程度酌情给分。
3.  错答、漏答或完全不相关，得0分。

【输出格式】
你必须以JSON格式返回结果，该JSON对象应包含三个字段：
1.  ` + "`得分`" + `: 一个整数，表示最终给定的分数。
2.  ` + "`评价`" + `: 对学生答案的简要评价（例如：“回答正确，思路清晰。”，“基本正确，但缺少关键点。”，“回答错误。”）。
3.  ` + "`扣分点`" + `: 如果没有得满分，请明确指出具体的扣分原因。如果得了满分，此字段应为空字符串。

【示例】
标准答案：亚洲东部和南部地区。
学生手写答案：亚洲的东边和南边。
输出：
{
  "得分": 2,
  "评价": "回答正确，准确指出了区域。",
  "扣分点": ""
}
`

// PromptRepository 负责加载评分标准文本。支持纯文本和PDF两种格式，
// 文件不存在时回退到内置默认评分标准。
type PromptRepository struct {
	filePath    string
	rubric      string
	usedDefault bool
}

func NewPromptRepository(filePath string) (*PromptRepository, error) {
	repo := &PromptRepository{filePath: filePath, rubric: DefaultRubric, usedDefault: true}
	if filePath == "" {
		return repo, nil
	}

	var content string
	var err error
	if strings.EqualFold(filepath.Ext(filePath), ".pdf") {
		content, err = readPDFText(filePath)
	} else {
		var raw []byte
		raw, err = os.ReadFile(filePath)
		content = string(raw)
	}
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("警告: 评分标准文件 '%s' 不存在，已加载默认评分标准。\n", filePath)
			return repo, nil
		}
		return nil, fmt.Errorf("读取评分标准文件 '%s' 失败: %w", filePath, err)
	}
	if strings.TrimSpace(content) == "" {
		fmt.Printf("警告: 评分标准文件 '%s' 为空，已加载默认评分标准。\n", filePath)
		return repo, nil
	}

	repo.rubric = content
	repo.usedDefault = false
	fmt.Printf("评分标准加载完成，共 %d 字符，来源: '%s'。\n", len([]rune(content)), filePath)
	return repo, nil
}

func readPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("提取PDF文本失败: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", fmt.Errorf("读取PDF文本失败: %w", err)
	}
	return buf.String(), nil
}

func (r *PromptRepository) Rubric() string {
	return r.rubric
}

// UsedDefault 报告是否因文件缺失或为空而使用了内置默认评分标准。
func (r *PromptRepository) UsedDefault() bool {
	return r.usedDefault
}
