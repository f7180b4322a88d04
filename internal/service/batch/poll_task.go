package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
)

// TaskClient はStep Functionsのタスクトークンに結果を返すためのクライアントです
// *sfn.Clientがこれを満たします
type TaskClient interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// PollTaskService はStep Functionsから1回だけ起動されるポーリングのバッチです
type PollTaskService struct {
	poller    *Poller
	sfnClient TaskClient
	taskToken string
	local     bool
	logger    *zap.Logger
}

// NewPollTaskService は新しいPollTaskServiceを作成します
// localがtrueまたはsfnClientがnilの場合、Step Functionsへの通知は行いません
func NewPollTaskService(poller *Poller, sfnClient TaskClient, taskToken string, local bool, logger *zap.Logger) *PollTaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollTaskService{
		poller:    poller,
		sfnClient: sfnClient,
		taskToken: taskToken,
		local:     local,
		logger:    logger.Named("poll-task"),
	}
}

// Run は1回ポーリングし、結果をタスクトークンに返します
func (s *PollTaskService) Run(ctx context.Context) error {
	ctx, seg := utils.BeginSubsegment(ctx, "PollTaskService.Run")
	startTime := time.Now()

	result, err := s.poller.Poll(ctx)
	if err != nil {
		utils.CloseSegment(seg, err)
		return utils.GetStackWithError(fmt.Errorf("failed to poll: %w", err))
	}

	if err := s.sendTaskSuccess(ctx, result); err != nil {
		utils.CloseSegment(seg, err)
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	utils.AddMetadata(seg, "duration", duration.String())
	utils.CloseSegment(seg, nil)

	s.logger.Info("poll task completed", zap.Duration("duration", duration), zap.String("run_id", result.RunID))
	return nil
}

// SendTaskFailure はバッチの失敗をタスクトークンに返します
func (s *PollTaskService) SendTaskFailure(ctx context.Context, cause error) error {
	if s.skipStepFunctions() {
		s.logger.Info("local environment detected, skipping step functions task failure notification")
		return nil
	}
	if s.taskToken == "" {
		return errors.New("SFN task token is not set")
	}

	input := &sfn.SendTaskFailureInput{
		TaskToken: aws.String(s.taskToken),
		Error:     aws.String("PollFailed"),
		Cause:     aws.String(cause.Error()),
	}
	if _, err := s.sfnClient.SendTaskFailure(ctx, input); err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、ポーリングの集計を返却します
func (s *PollTaskService) sendTaskSuccess(ctx context.Context, result PollResult) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if s.skipStepFunctions() {
		s.logger.Info("local environment detected, skipping step functions task success notification")
		return nil
	}
	if s.taskToken == "" {
		return errors.New("SFN task token is not set")
	}

	output, err := json.Marshal(map[string]any{
		"result": result,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal poll result: %w", err)
	}

	input := &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(s.taskToken),
		Output:    aws.String(string(output)),
	}
	if _, err := s.sfnClient.SendTaskSuccess(ctx, input); err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	s.logger.Info("sent task success", zap.String("output", string(output)))
	return nil
}

func (s *PollTaskService) skipStepFunctions() bool {
	return s.local || s.sfnClient == nil
}
