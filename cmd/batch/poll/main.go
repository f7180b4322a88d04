package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/config"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/logger"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/service/batch"
)

const (
	projectName = "sbcntr-asset-notifier"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 {
			log.Fatalf("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}

	zl, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: projectName,
		Env:     cfg.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	// X-Ray設定
	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
			ServiceVersion: "1.0.0",
		}); err != nil {
			zl.Warn("failed to configure X-Ray, using defaults", zap.Error(err))
			if configErr := xray.Configure(xray.Config{}); configErr != nil {
				zl.Fatal("failed to configure default X-Ray settings", zap.Error(configErr))
			}
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	// Step Functionsクライアントの初期化
	var taskClient batch.TaskClient
	if !cfg.IsLocal() {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			zl.Fatal("failed to load AWS config", zap.Error(err))
		}
		taskClient = sfn.NewFromConfig(awsCfg)
	}

	// コンテキストの作成
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		utils.AddMetadata(seg, "task_token", taskToken)
		utils.AddMetadata(seg, "timeout", timeout.String())
	}

	// サービスの初期化
	a, err := app.New(ctx, cfg, zl, app.Options{WithPoller: true})
	if err != nil {
		zl.Fatal("failed to create app", zap.Error(err))
	}
	defer a.Close()

	service := batch.NewPollTaskService(a.Poller, taskClient, cfg.SFN.TaskToken, cfg.IsLocal(), zl)

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルまたはエラーの待機
	select {
	case sig := <-sigChan:
		zl.Info("received signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil {
			zl.Error("batch process failed", zap.Error(err))

			// 元のコンテキストは期限切れの可能性があるので新しく作る
			failCtx, failCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if sendErr := service.SendTaskFailure(failCtx, err); sendErr != nil {
				zl.Error("failed to send task failure", zap.Error(sendErr))
			}
			failCancel()

			a.Close()
			zl.Sync()
			os.Exit(1)
		}
		zl.Info("batch process completed successfully")
	}
}
