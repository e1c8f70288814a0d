package driver

import (
	"errors"
	"testing"
	"time"
)

const progressHTML = `<html><body>
<div class="mark-panel">
  <div class="progress"><i>进度 <strong>3</strong> / <strong>10</strong></i></div>
</div>
</body></html>`

func TestParseProgress(t *testing.T) {
	total, current, err := parseProgress(progressHTML,
		"div.progress i strong:nth-of-type(2)",
		"div.progress i strong:nth-of-type(1)",
	)
	if err != nil {
		t.Fatalf("解析进度失败: %v", err)
	}
	if total != 10 || current != 3 {
		t.Fatalf("进度不符: total=%d current=%d", total, current)
	}
}

func TestParseProgressMissingElement(t *testing.T) {
	_, _, err := parseProgress(progressHTML, "div.progress i strong:nth-of-type(2)", "span.no-such")
	if err == nil {
		t.Fatal("选择器未命中时应报错")
	}
}

func TestParseProgressNonNumeric(t *testing.T) {
	html := `<html><body><div class="progress"><strong>abc</strong><strong>10</strong></div></body></html>`
	_, _, err := parseProgress(html,
		"div.progress strong:nth-of-type(2)",
		"div.progress strong:nth-of-type(1)",
	)
	if err == nil {
		t.Fatal("非数字文本应报错")
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	d := NewPortalDriver(Config{})

	var drvErr *DriverError
	if _, _, err := d.GetProgress(); !errors.As(err, &drvErr) {
		t.Fatalf("未建立会话时 GetProgress 应返回 *DriverError, 实际: %v", err)
	}
	if _, err := d.ExtractCurrentImage(); !errors.As(err, &drvErr) {
		t.Fatalf("未建立会话时 ExtractCurrentImage 应返回 *DriverError, 实际: %v", err)
	}
	if err := d.SubmitScore(2); !errors.As(err, &drvErr) {
		t.Fatalf("未建立会话时 SubmitScore 应返回 *DriverError, 实际: %v", err)
	}
}

func TestWaitForAdvanceSkipsPollAfterLastItem(t *testing.T) {
	d := NewPortalDriver(Config{Settle: time.Millisecond, ReadyTimeout: 500 * time.Millisecond})

	start := time.Now()
	d.waitForAdvance(5, 5)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("最后一份提交后不应进入轮询, 耗时: %s", elapsed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewPortalDriver(Config{})
	d.Close()
	d.Close()
}

func TestConfigDefaults(t *testing.T) {
	d := NewPortalDriver(Config{})
	if d.cfg.Settle != 2*time.Second {
		t.Errorf("默认最短等待应为 2s, 实际: %s", d.cfg.Settle)
	}
	if d.cfg.ReadyTimeout != 15*time.Second {
		t.Errorf("默认就绪超时应为 15s, 实际: %s", d.cfg.ReadyTimeout)
	}
	loc := d.cfg.Locators
	if loc.ProgressTotal == "" || loc.ProgressCurrent == "" || loc.AnswerImage == "" || loc.ScoreInput == "" || loc.SubmitButton == "" {
		t.Error("默认定位表不应有空项")
	}
}
