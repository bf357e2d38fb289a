package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
)

// SchedulerAPI is the subset of the EventBridge Scheduler client used by
// this package.
type SchedulerAPI interface {
	GetSchedule(ctx context.Context, params *scheduler.GetScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error)
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
}

// ScheduleConfig describes the recurring start of a state machine.
type ScheduleConfig struct {
	Name            string
	Expression      string
	Timezone        string
	RoleARN         string
	StateMachineARN string
	Input           map[string]interface{}
}

// Schedule creates or updates an EventBridge Scheduler schedule that starts
// the state machine. It returns the schedule ARN.
func Schedule(ctx context.Context, client SchedulerAPI, cfg ScheduleConfig) (string, error) {
	if cfg.Name == "" || cfg.Expression == "" || cfg.RoleARN == "" || cfg.StateMachineARN == "" {
		return "", fmt.Errorf("schedule: name, expression, role ARN and state machine ARN are required")
	}
	target := &schedtypes.Target{
		Arn:     aws.String(cfg.StateMachineARN),
		RoleArn: aws.String(cfg.RoleARN),
	}
	if len(cfg.Input) > 0 {
		b, err := json.Marshal(cfg.Input)
		if err != nil {
			return "", fmt.Errorf("schedule: marshaling input: %w", err)
		}
		target.Input = aws.String(string(b))
	}
	window := &schedtypes.FlexibleTimeWindow{Mode: schedtypes.FlexibleTimeWindowModeOff}
	var tz *string
	if cfg.Timezone != "" {
		tz = aws.String(cfg.Timezone)
	}

	_, err := client.GetSchedule(ctx, &scheduler.GetScheduleInput{Name: aws.String(cfg.Name)})
	var notFound *schedtypes.ResourceNotFoundException
	switch {
	case errors.As(err, &notFound):
		out, err := client.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
			Name:                       aws.String(cfg.Name),
			ScheduleExpression:         aws.String(cfg.Expression),
			ScheduleExpressionTimezone: tz,
			FlexibleTimeWindow:         window,
			Target:                     target,
		})
		if err != nil {
			return "", fmt.Errorf("schedule: CreateSchedule failed: %w", err)
		}
		return aws.ToString(out.ScheduleArn), nil
	case err != nil:
		return "", fmt.Errorf("schedule: GetSchedule failed: %w", err)
	}

	out, err := client.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:                       aws.String(cfg.Name),
		ScheduleExpression:         aws.String(cfg.Expression),
		ScheduleExpressionTimezone: tz,
		FlexibleTimeWindow:         window,
		Target:                     target,
	})
	if err != nil {
		return "", fmt.Errorf("schedule: UpdateSchedule failed: %w", err)
	}
	return aws.ToString(out.ScheduleArn), nil
}
