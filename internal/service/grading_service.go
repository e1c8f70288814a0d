package service

import (
	"Zhixue-Auto-Marking-Backend/internal/model"
	"Zhixue-Auto-Marking-Backend/internal/repository"
	"Zhixue-Auto-Marking-Backend/internal/status"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
)

// State 是批改流程的状态机状态。
type State string

const (
	StateIdle        State = "idle"
	StateSessionOpen State = "session_open"
	StateGrading     State = "grading"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
	StateFatalError  State = "fatal_error"
)

// Portal 是批改流程对页面驱动的全部要求。提交即翻页：
// SubmitScore 返回后门户已进入下一份，没有独立的“下一份”操作。
type Portal interface {
	Open(loginURL string) error
	GetProgress() (total, current int, err error)
	ExtractCurrentImage() ([]byte, error)
	SubmitScore(score int) error
	Close()
}

// Inference 是批改流程对远程推理的全部要求。
type Inference interface {
	RecognizeHandwriting(img []byte) (string, error)
	GetScore(rubric, handwriting string) (model.ScoreResult, error)
}

// StartParams 是操作员发起一次批改时提供的配置。
type StartParams struct {
	APIKey   string
	Rubric   string
	MaxScore int
}

// Snapshot 是操作员界面轮询到的流程快照。
type Snapshot struct {
	State         State  `json:"state"`
	RunID         string `json:"run_id,omitempty"`
	PendingPrompt string `json:"pending_prompt,omitempty"`
	LastOutcome   string `json:"last_outcome,omitempty"`
}

// GradingService 持有批改主循环、中断标志和逐份失败时的继续/中止决策。
// 循环跑在独立协程上，操作员通道只读事件流、回答决策、翻转中断标志。
type GradingService struct {
	portal       Portal
	prompts      *repository.PromptRepository
	statusStore  *status.Store
	newInference func(apiKey string) Inference

	defaultAPIKey   string
	defaultMaxScore int

	interrupted atomic.Bool

	mu            sync.Mutex
	state         State
	runID         string
	lastOutcome   string
	pendingPrompt string
	decisionCh    chan bool
	stopCh        chan struct{}
	stopOnce      *sync.Once
	driverOpen    bool
}

func NewGradingService(portal Portal, prompts *repository.PromptRepository, statusStore *status.Store, newInference func(apiKey string) Inference, defaultAPIKey string, defaultMaxScore int) *GradingService {
	return &GradingService{
		portal:          portal,
		prompts:         prompts,
		statusStore:     statusStore,
		newInference:    newInference,
		defaultAPIKey:   defaultAPIKey,
		defaultMaxScore: defaultMaxScore,
		state:           StateIdle,
	}
}

func (s *GradingService) statusf(format string, args ...any) {
	s.statusStore.Append(fmt.Sprintf(format, args...))
}

// StartSession 启动浏览器并打开登录页。登录由操作员在浏览器里手动完成，
// 之后调用 ConfirmLogin 进入 SessionOpen 状态。
func (s *GradingService) StartSession(loginURL string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("当前状态 %s 不允许启动会话", s.state)
	}
	s.mu.Unlock()

	if err := s.portal.Open(loginURL); err != nil {
		s.statusf("❌ 浏览器启动失败: %v", err)
		return err
	}

	s.mu.Lock()
	s.driverOpen = true
	s.mu.Unlock()
	s.statusf("✅ 登录页面已打开。请在浏览器中手动完成登录操作。")
	return nil
}

// ConfirmLogin 由操作员在手动登录完成后调用。
func (s *GradingService) ConfirmLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.driverOpen {
		return fmt.Errorf("浏览器会话尚未建立，请先启动会话")
	}
	if s.state != StateIdle {
		return fmt.Errorf("当前状态 %s 不允许确认登录", s.state)
	}
	s.state = StateSessionOpen
	s.statusStore.Append("✅ 用户确认登录完成。现在可以开始批改。")
	return nil
}

// StartGrading 校验配置并在独立协程上启动批改循环。
func (s *GradingService) StartGrading(p StartParams) error {
	apiKey := strings.TrimSpace(p.APIKey)
	if apiKey == "" {
		apiKey = s.defaultAPIKey
	}
	if apiKey == "" {
		return &ConfigError{Field: "api_key"}
	}
	rubric := p.Rubric
	if strings.TrimSpace(rubric) == "" {
		rubric = s.prompts.Rubric()
	}
	maxScore := p.MaxScore
	if maxScore <= 0 {
		maxScore = s.defaultMaxScore
	}

	s.mu.Lock()
	if s.state != StateSessionOpen {
		s.mu.Unlock()
		return fmt.Errorf("当前状态 %s 不允许开始批改", s.state)
	}
	s.state = StateGrading
	s.runID = uuid.NewV4().String()
	s.pendingPrompt = ""
	s.decisionCh = make(chan bool, 1)
	s.stopCh = make(chan struct{})
	s.stopOnce = &sync.Once{}
	s.interrupted.Store(false)
	runID := s.runID
	stopCh := s.stopCh
	decisionCh := s.decisionCh
	s.mu.Unlock()

	inference := s.newInference(apiKey)
	s.statusf("--- 开始批改任务 (run %s) ---", runID)

	go s.runLoop(inference, rubric, maxScore, decisionCh, stopCh)
	return nil
}

// Stop 翻转中断标志。进行中的远程调用会执行完毕，当前份处理完后循环退出；
// 若循环正阻塞在继续/中止决策上，也会立即按中止处理。
func (s *GradingService) Stop() {
	s.mu.Lock()
	stopOnce := s.stopOnce
	stopCh := s.stopCh
	s.mu.Unlock()

	s.interrupted.Store(true)
	if stopOnce != nil {
		stopOnce.Do(func() { close(stopCh) })
	}
	s.statusStore.Append("已请求终止批改任务，等待当前份处理完成...")
}

// Decide 回答一个待处理的继续/中止决策。cont 为 false 等同于中止。
func (s *GradingService) Decide(cont bool) error {
	s.mu.Lock()
	if s.pendingPrompt == "" {
		s.mu.Unlock()
		return fmt.Errorf("当前没有待处理的确认")
	}
	decisionCh := s.decisionCh
	s.mu.Unlock()

	select {
	case decisionCh <- cont:
		return nil
	default:
		return fmt.Errorf("当前没有待处理的确认")
	}
}

// CloseSession 释放浏览器会话并回到初始状态。批改进行中不允许关闭。
func (s *GradingService) CloseSession() error {
	s.mu.Lock()
	if s.state == StateGrading {
		s.mu.Unlock()
		return fmt.Errorf("批改进行中，请先停止批改")
	}
	s.driverOpen = false
	s.state = StateIdle
	s.mu.Unlock()

	s.portal.Close()
	s.statusStore.Append("✅ 浏览器会话已关闭。")
	return nil
}

func (s *GradingService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:         s.state,
		RunID:         s.runID,
		PendingPrompt: s.pendingPrompt,
		LastOutcome:   s.lastOutcome,
	}
}

func (s *GradingService) runLoop(inference Inference, rubric string, maxScore int, decisionCh chan bool, stopCh chan struct{}) {
	defer s.finishRun()
	defer func() {
		if r := recover(); r != nil {
			s.setTerminal(StateFatalError, fmt.Sprintf("❌ 主流程发生严重错误: %v", r))
		}
	}()

	total, current, err := s.portal.GetProgress()
	if err != nil {
		s.setTerminal(StateFatalError, fmt.Sprintf("❌ 无法获取批改进度: %v", err))
		return
	}

	remaining := total - current
	s.statusf("共 %d 份试卷，当前在第 %d 份，还需批改 %d 份。", total, current, remaining)
	if remaining <= 0 {
		s.setTerminal(StateCompleted, "--- 批改任务完成 ---")
		return
	}

	for i := 0; i < remaining; i++ {
		if s.interrupted.Load() {
			s.setTerminal(StateAborted, "批改任务被用户终止。")
			return
		}

		s.statusf("--- 正在处理第 %d / %d 份 ---", current+i+1, total)
		if err := s.gradeOne(inference, rubric, maxScore); err != nil {
			s.statusf("❌ 处理单份试卷时出错: %v", err)
			if !s.askContinue(err, decisionCh, stopCh) {
				s.interrupted.Store(true)
				s.setTerminal(StateAborted, "批改任务被用户终止。")
				return
			}
			// 操作员选择继续：跳过这一份，不为其提交分数。
			continue
		}
	}

	s.setTerminal(StateCompleted, "--- 批改任务完成 ---")
}

// gradeOne 对当前份执行 截图→识别→评分→提交 四步，任一步失败都只影响这一份。
func (s *GradingService) gradeOne(inference Inference, rubric string, maxScore int) error {
	img, err := s.portal.ExtractCurrentImage()
	if err != nil {
		return err
	}

	handwriting, err := inference.RecognizeHandwriting(img)
	if err != nil {
		return err
	}

	result, err := inference.GetScore(rubric, handwriting)
	if err != nil {
		if !errors.Is(err, ErrScoreFieldMissing) {
			return err
		}
		s.statusf("⚠️ 评分结果缺少得分字段，按 0 分处理。")
		result.Score = 0
	}
	result = normalizeScore(result, maxScore)

	return s.portal.SubmitScore(result.Score)
}

// normalizeScore 约束得分非负、不超过满分，并保证满分时没有扣分说明。
func normalizeScore(result model.ScoreResult, maxScore int) model.ScoreResult {
	if result.Score < 0 {
		result.Score = 0
	}
	if maxScore > 0 {
		if result.Score > maxScore {
			result.Score = maxScore
		}
		if result.Score >= maxScore {
			result.Deductions = ""
		}
	}
	return result
}

// askContinue 挂起循环，等待操作员决定继续还是中止。
// 错误日志先于提问写入事件流，操作员迟迟不回答也不会丢失审计记录。
func (s *GradingService) askContinue(cause error, decisionCh chan bool, stopCh chan struct{}) bool {
	// 丢弃上一个确认点迟到的重复决定，避免它未经操作员过目就回答这次提问。
	select {
	case <-decisionCh:
	default:
	}

	s.mu.Lock()
	s.pendingPrompt = fmt.Sprintf("处理一份试卷时发生错误: %v。是否继续批改下一份？", cause)
	s.mu.Unlock()
	s.statusf("等待操作员确认: 继续或中止...")

	defer func() {
		s.mu.Lock()
		s.pendingPrompt = ""
		s.mu.Unlock()
	}()

	select {
	case cont := <-decisionCh:
		return cont
	case <-stopCh:
		return false
	}
}

func (s *GradingService) setTerminal(st State, message string) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.statusStore.Append(message)
}

// finishRun 无条件把流程恢复到可重新开始的状态，不论以哪个终态结束。
func (s *GradingService) finishRun() {
	s.mu.Lock()
	s.lastOutcome = string(s.state)
	s.pendingPrompt = ""
	s.state = StateIdle
	s.mu.Unlock()
	s.statusStore.Append("--- 批改流程已结束，控制已恢复 ---")
}
