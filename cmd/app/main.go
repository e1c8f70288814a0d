package main

import (
	"Zhixue-Auto-Marking-Backend/internal/api"
	"Zhixue-Auto-Marking-Backend/internal/driver"
	"Zhixue-Auto-Marking-Backend/internal/repository"
	"Zhixue-Auto-Marking-Backend/internal/router"
	"Zhixue-Auto-Marking-Backend/internal/service"
	"Zhixue-Auto-Marking-Backend/internal/status"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func main() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("ZHIXUE_APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", ":8080")
	viper.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	viper.SetDefault("portal.login_url", "https://www.zhixue.com/htm-vessel/#/teacher")
	viper.SetDefault("portal.headless", false)
	viper.SetDefault("portal.settle_ms", 2000)
	viper.SetDefault("portal.ready_timeout_seconds", 15)
	viper.SetDefault("ai_service.base_url", "https://api.siliconflow.cn/v1")
	viper.SetDefault("ai_service.vl_model", "Qwen/Qwen2.5-VL-32B-Instruct")
	viper.SetDefault("ai_service.reasoning_model", "Qwen/Qwen3-14B")
	viper.SetDefault("ai_service.timeout_seconds", 0)
	viper.SetDefault("grading.prompt_path", "system_prompt.txt")
	viper.SetDefault("grading.max_score", 0)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("警告：未找到 config.yaml 文件，将完全依赖环境变量和默认值进行配置。")
		} else {
			log.Fatalf("读取配置文件失败: %s", err)
		}
	}

	statusStore := status.NewStore()

	promptRepo, err := repository.NewPromptRepository(viper.GetString("grading.prompt_path"))
	if err != nil {
		log.Fatalf("初始化评分标准失败: %s", err)
	}
	if promptRepo.UsedDefault() {
		statusStore.Append(fmt.Sprintf("警告: %s 未找到，已加载默认评分标准。", viper.GetString("grading.prompt_path")))
	}

	locators := driver.DefaultLocators()
	if v := viper.GetString("portal.locators.progress_total"); v != "" {
		locators.ProgressTotal = v
	}
	if v := viper.GetString("portal.locators.progress_current"); v != "" {
		locators.ProgressCurrent = v
	}
	if v := viper.GetString("portal.locators.answer_image"); v != "" {
		locators.AnswerImage = v
	}
	if v := viper.GetString("portal.locators.score_input"); v != "" {
		locators.ScoreInput = v
	}
	if v := viper.GetString("portal.locators.submit_button"); v != "" {
		locators.SubmitButton = v
	}

	portalDriver := driver.NewPortalDriver(driver.Config{
		Locators:     locators,
		Headless:     viper.GetBool("portal.headless"),
		Settle:       time.Duration(viper.GetInt("portal.settle_ms")) * time.Millisecond,
		ReadyTimeout: time.Duration(viper.GetInt("portal.ready_timeout_seconds")) * time.Second,
	})
	defer portalDriver.Close()

	newInference := func(apiKey string) service.Inference {
		return service.NewAIService(
			viper.GetString("ai_service.base_url"),
			apiKey,
			viper.GetString("ai_service.vl_model"),
			viper.GetString("ai_service.reasoning_model"),
			viper.GetInt("ai_service.timeout_seconds"),
			func(msg string) { statusStore.Append(msg) },
		)
	}

	gradingService := service.NewGradingService(
		portalDriver,
		promptRepo,
		statusStore,
		newInference,
		viper.GetString("ai_service.api_key"),
		viper.GetInt("grading.max_score"),
	)

	gradingHandler := api.NewGradingHandler(gradingService, statusStore, viper.GetString("portal.login_url"))

	r := router.SetupRouter(gradingHandler, viper.GetStringSlice("cors.allowed_origins"))

	serverPort := viper.GetString("server.port")
	fmt.Printf("服务启动于 http://localhost%s\n", serverPort)
	if err := r.Run(serverPort); err != nil {
		log.Fatalf("服务启动失败: %s", err)
	}
}
