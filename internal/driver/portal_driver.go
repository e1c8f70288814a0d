package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// Locators 是页面元素的定位表。智学网前端按位置寻址，天然脆弱，
// 门户改版时只需更新这张表（或配置文件里的对应项），批改逻辑不受影响。
type Locators struct {
	// 进度指示用CSS选择器，从同一份整页HTML快照中解析，
	// 保证 total 和 current 来自同一个DOM状态。
	ProgressTotal   string
	ProgressCurrent string

	// 交互元素用XPath定位。
	AnswerImage  string
	ScoreInput   string
	SubmitButton string
}

func DefaultLocators() Locators {
	return Locators{
		ProgressTotal:   "body > div > div > div:nth-of-type(1) > div > div:nth-of-type(2) > div > div:nth-of-type(1) > div:nth-of-type(1) > div:nth-of-type(1) > div:nth-of-type(2) > i > strong:nth-of-type(2)",
		ProgressCurrent: "body > div > div > div:nth-of-type(1) > div > div:nth-of-type(2) > div > div:nth-of-type(1) > div:nth-of-type(1) > div:nth-of-type(1) > div:nth-of-type(2) > i > strong:nth-of-type(1)",
		AnswerImage:     `/html/body/div/div/div[1]/div/div[2]/div/div[1]/div[2]/div[1]/div[4]/div[2]/div[2]/div/div[1]/img`,
		ScoreInput:      `/html/body/div/div/div[1]/div/div[2]/div/div[2]/div/div[3]/div[2]/div[1]/ul[2]/li/input`,
		SubmitButton:    `/html/body/div/div/div[1]/div/div[2]/div/div[2]/div/div[3]/div[2]/div[1]/div[5]/button`,
	}
}

type Config struct {
	Locators Locators
	Headless bool
	// Settle 是提交分数后的最短等待，ReadyTimeout 是等待下一份加载完成
	// （以及定位交互元素）的时间上限。
	Settle       time.Duration
	ReadyTimeout time.Duration
}

// PortalDriver 是唯一接触阅卷门户会话的组件。
// 浏览器句柄归它独占，所有操作都从批改工作协程串行发起。
type PortalDriver struct {
	cfg Config

	mu            sync.Mutex
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func NewPortalDriver(cfg Config) *PortalDriver {
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	if cfg.Locators == (Locators{}) {
		cfg.Locators = DefaultLocators()
	}
	return &PortalDriver{cfg: cfg}
}

// Open 启动浏览器并打开登录页。登录本身由操作员在浏览器里手动完成。
func (d *PortalDriver) Open(loginURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		return nil
	}

	log.Println("正在启动浏览器驱动...")
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(ctx, chromedp.Navigate(loginURL)); err != nil {
		browserCancel()
		allocCancel()
		return &DriverError{Op: "open", Err: fmt.Errorf("启动浏览器或打开登录页失败: %w", err)}
	}

	d.ctx = ctx
	d.browserCancel = browserCancel
	d.allocCancel = allocCancel
	log.Printf("✅ 浏览器启动成功，已打开登录页面: %s", loginURL)
	return nil
}

func (d *PortalDriver) session() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, &DriverError{Op: "session", Err: errors.New("浏览器会话尚未建立")}
	}
	return d.ctx, nil
}

// GetProgress 读取页面上的批改进度指示，返回 (总份数, 当前份数)。
func (d *PortalDriver) GetProgress() (int, int, error) {
	ctx, err := d.session()
	if err != nil {
		return 0, 0, err
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return 0, 0, &DriverError{Op: "get_progress", Err: fmt.Errorf("读取页面快照失败: %w", err)}
	}

	total, current, err := parseProgress(html, d.cfg.Locators.ProgressTotal, d.cfg.Locators.ProgressCurrent)
	if err != nil {
		return 0, 0, &DriverError{Op: "get_progress", Err: err}
	}
	return total, current, nil
}

func parseProgress(html, totalSel, currentSel string) (total, current int, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, 0, fmt.Errorf("解析页面HTML失败: %w", err)
	}
	total, err = intFromSelection(doc, totalSel)
	if err != nil {
		return 0, 0, fmt.Errorf("总份数指示不可用: %w", err)
	}
	current, err = intFromSelection(doc, currentSel)
	if err != nil {
		return 0, 0, fmt.Errorf("当前份数指示不可用: %w", err)
	}
	return total, current, nil
}

func intFromSelection(doc *goquery.Document, sel string) (int, error) {
	node := doc.Find(sel)
	if node.Length() == 0 {
		return 0, fmt.Errorf("选择器 '%s' 未命中任何元素", sel)
	}
	text := strings.TrimSpace(node.First().Text())
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("元素文本 '%s' 不是数字", text)
	}
	return n, nil
}

// ExtractCurrentImage 截取当前学生手写答案区域，返回PNG字节。
func (d *PortalDriver) ExtractCurrentImage() ([]byte, error) {
	ctx, err := d.session()
	if err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, d.cfg.ReadyTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(tctx,
		chromedp.WaitVisible(d.cfg.Locators.AnswerImage, chromedp.BySearch),
		chromedp.Screenshot(d.cfg.Locators.AnswerImage, &buf, chromedp.BySearch),
	); err != nil {
		return nil, &DriverError{Op: "extract_image", Err: fmt.Errorf("截取学生答案区域失败: %w", err)}
	}
	if len(buf) == 0 {
		return nil, &DriverError{Op: "extract_image", Err: errors.New("答案区域截图为空")}
	}
	return buf, nil
}

// SubmitScore 填入分数并点击提交。提交即翻页：门户在提交后自行加载下一份，
// 这里在最短等待之后轮询进度指示直到 current 变化，而不是只靠固定等待时间。
func (d *PortalDriver) SubmitScore(score int) error {
	ctx, err := d.session()
	if err != nil {
		return err
	}

	before, beforeTotal := -1, -1
	if tot, cur, err := d.GetProgress(); err == nil {
		before, beforeTotal = cur, tot
	}

	log.Printf("正在填入分数: %d", score)
	tctx, cancel := context.WithTimeout(ctx, d.cfg.ReadyTimeout)
	defer cancel()
	if err := chromedp.Run(tctx,
		chromedp.WaitVisible(d.cfg.Locators.ScoreInput, chromedp.BySearch),
		chromedp.Clear(d.cfg.Locators.ScoreInput, chromedp.BySearch),
		chromedp.SendKeys(d.cfg.Locators.ScoreInput, strconv.Itoa(score), chromedp.BySearch),
		chromedp.Click(d.cfg.Locators.SubmitButton, chromedp.BySearch),
	); err != nil {
		return &DriverError{Op: "submit_score", Err: fmt.Errorf("填写或提交分数失败: %w", err)}
	}

	d.waitForAdvance(before, beforeTotal)
	return nil
}

func (d *PortalDriver) waitForAdvance(before, total int) {
	time.Sleep(d.cfg.Settle)
	if before < 0 {
		return
	}
	// 提交的是最后一份时不会再加载下一份，轮询只会白等到超时。
	if total >= 0 && before >= total {
		return
	}
	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	for time.Now().Before(deadline) {
		_, cur, err := d.GetProgress()
		if err == nil && cur != before {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Printf("警告: 等待下一份加载超过 %s，将继续执行。", d.cfg.ReadyTimeout)
}

// Close 释放浏览器会话。可重复调用，不会返回错误。
func (d *PortalDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browserCancel != nil {
		log.Println("正在关闭浏览器...")
		d.browserCancel()
		d.browserCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.ctx = nil
}
