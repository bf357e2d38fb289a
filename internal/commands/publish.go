package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/config"
	"github.com/dwsmith1983/lakeloader/internal/statemachine"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// NewPublishCmd creates the publish command.
func NewPublishCmd() *cobra.Command {
	var (
		dir   string
		start bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create or update the Step Functions state machine for the workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(dir)
			if err != nil {
				return err
			}
			sm := p.Config.StateMachine
			if sm == nil {
				return &types.ConfigurationError{Field: "stateMachine", Reason: "required to publish"}
			}
			def, err := statemachine.Render(p.Graph, taskConfig(p.Config, ""))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			awsCfg, err := loadAWSConfig(ctx, sm.Region)
			if err != nil {
				return err
			}
			arn, err := publish(ctx, sfn.NewFromConfig(awsCfg), sm, p.Graph.Name, def, start)
			if err != nil {
				return err
			}
			if sm.Schedule == "" {
				return nil
			}
			return schedule(ctx, scheduler.NewFromConfig(awsCfg), sm, p.Graph.Name, arn)
		},
	}
	addDirFlag(cmd, &dir)
	cmd.Flags().BoolVar(&start, "start", false, "start an execution after publishing")
	return cmd
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

func publish(ctx context.Context, client statemachine.SFNAPI, sm *types.StateMachineConfig, workflow string, def []byte, start bool) (string, error) {
	arn, err := statemachine.Publish(ctx, client, sm.Name, sm.RoleARN, def)
	if err != nil {
		return "", err
	}
	color.Green("Published %s", arn)
	if !start {
		return arn, nil
	}

	execARN, err := statemachine.Start(ctx, client, arn, map[string]interface{}{"workflow": workflow})
	if err != nil {
		return "", err
	}
	color.Cyan("Started execution %s", execARN)
	return arn, nil
}

func schedule(ctx context.Context, client statemachine.SchedulerAPI, sm *types.StateMachineConfig, workflow, stateMachineARN string) error {
	role := sm.SchedulerRoleARN
	if role == "" {
		role = sm.RoleARN
	}
	arn, err := statemachine.Schedule(ctx, client, statemachine.ScheduleConfig{
		Name:            sm.Name + "-schedule",
		Expression:      sm.Schedule,
		Timezone:        sm.ScheduleTimezone,
		RoleARN:         role,
		StateMachineARN: stateMachineARN,
		Input:           map[string]interface{}{"workflow": workflow},
	})
	if err != nil {
		return err
	}
	color.Green("Scheduled %s (%s)", arn, sm.Schedule)
	return nil
}

// taskConfig builds the Task settings from the config. A non-empty resource
// overrides stateMachine.taskResource.
func taskConfig(cfg *types.ProjectConfig, resource string) statemachine.TaskConfig {
	tc := statemachine.TaskConfig{Resource: resource, Retry: config.RetryPolicy(cfg)}
	if tc.Resource == "" && cfg.StateMachine != nil {
		tc.Resource = cfg.StateMachine.TaskResource
	}
	if cfg.WaitFor != nil {
		// Load has already validated the durations.
		tc.SensorPoll, tc.SensorTimeout, _ = config.WaitDurations(cfg.WaitFor)
	}
	return tc
}
