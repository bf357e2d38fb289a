package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSchedulerClient struct {
	getErr  error
	created *scheduler.CreateScheduleInput
	updated *scheduler.UpdateScheduleInput
}

func (m *mockSchedulerClient) GetSchedule(context.Context, *scheduler.GetScheduleInput, ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &scheduler.GetScheduleOutput{Arn: aws.String("arn:schedule")}, nil
}

func (m *mockSchedulerClient) CreateSchedule(_ context.Context, in *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	m.created = in
	return &scheduler.CreateScheduleOutput{ScheduleArn: aws.String("arn:new-schedule")}, nil
}

func (m *mockSchedulerClient) UpdateSchedule(_ context.Context, in *scheduler.UpdateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error) {
	m.updated = in
	return &scheduler.UpdateScheduleOutput{ScheduleArn: aws.String("arn:schedule")}, nil
}

func dailyConfig() ScheduleConfig {
	return ScheduleConfig{
		Name:            "lakeloader-daily",
		Expression:      "cron(0 2 * * ? *)",
		Timezone:        "Europe/London",
		RoleARN:         "arn:role/scheduler",
		StateMachineARN: "arn:sm",
		Input:           map[string]interface{}{"workflow": "mongo_to_postgres"},
	}
}

func TestSchedule_CreatesWhenMissing(t *testing.T) {
	client := &mockSchedulerClient{getErr: &schedtypes.ResourceNotFoundException{Message: aws.String("missing")}}

	arn, err := Schedule(context.Background(), client, dailyConfig())
	require.NoError(t, err)
	assert.Equal(t, "arn:new-schedule", arn)
	require.NotNil(t, client.created)
	assert.Equal(t, "cron(0 2 * * ? *)", aws.ToString(client.created.ScheduleExpression))
	assert.Equal(t, "Europe/London", aws.ToString(client.created.ScheduleExpressionTimezone))
	assert.Equal(t, schedtypes.FlexibleTimeWindowModeOff, client.created.FlexibleTimeWindow.Mode)
	assert.Equal(t, "arn:sm", aws.ToString(client.created.Target.Arn))
	assert.JSONEq(t, `{"workflow":"mongo_to_postgres"}`, aws.ToString(client.created.Target.Input))
	assert.Nil(t, client.updated)
}

func TestSchedule_UpdatesExisting(t *testing.T) {
	client := &mockSchedulerClient{}
	cfg := dailyConfig()
	cfg.Timezone = ""

	arn, err := Schedule(context.Background(), client, cfg)
	require.NoError(t, err)
	assert.Equal(t, "arn:schedule", arn)
	require.NotNil(t, client.updated)
	assert.Nil(t, client.updated.ScheduleExpressionTimezone)
	assert.Nil(t, client.created)
}

func TestSchedule_Errors(t *testing.T) {
	_, err := Schedule(context.Background(), &mockSchedulerClient{}, ScheduleConfig{Name: "x"})
	assert.Error(t, err)

	_, err = Schedule(context.Background(), &mockSchedulerClient{getErr: errors.New("denied")}, dailyConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GetSchedule")
}
