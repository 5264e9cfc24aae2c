// Package stepfunctions adapts the AWS Step Functions API to analysis.Workflow.
package stepfunctions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/smithy-go"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

// API is the subset of the sfn client used here.
type API interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
}

type Client struct {
	api             API
	stateMachineARN string
}

var _ analysis.Workflow = (*Client)(nil)

// New loads the default AWS credential chain unless static keys are given.
func New(ctx context.Context, region, stateMachineARN, accessKey, secretKey string) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(sfn.NewFromConfig(cfg), stateMachineARN), nil
}

func NewWithAPI(api API, stateMachineARN string) *Client {
	return &Client{api: api, stateMachineARN: stateMachineARN}
}

func (c *Client) Start(ctx context.Context, name string, input []byte) (analysis.Execution, error) {
	if c.stateMachineARN == "" {
		return analysis.Execution{}, errNotConfigured()
	}
	out, err := c.api.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(c.stateMachineARN),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return analysis.Execution{}, translate(err, opStart)
	}
	return analysis.Execution{
		ARN:       aws.ToString(out.ExecutionArn),
		Name:      name,
		Status:    analysis.StatusRunning,
		StartDate: aws.ToTime(out.StartDate),
		Input:     input,
	}, nil
}

func (c *Client) Describe(ctx context.Context, executionARN string) (analysis.Execution, error) {
	out, err := c.api.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionARN),
	})
	if err != nil {
		return analysis.Execution{}, translate(err, opDescribe)
	}
	exec := analysis.Execution{
		ARN:       aws.ToString(out.ExecutionArn),
		Name:      aws.ToString(out.Name),
		Status:    analysis.ExecutionStatus(out.Status),
		StartDate: aws.ToTime(out.StartDate),
		StopDate:  aws.ToTime(out.StopDate),
		Error:     aws.ToString(out.Error),
		Cause:     aws.ToString(out.Cause),
	}
	if out.Input != nil {
		exec.Input = []byte(*out.Input)
	}
	if out.Output != nil {
		exec.Output = []byte(*out.Output)
	}
	if exec.ARN == "" {
		exec.ARN = executionARN
	}
	return exec, nil
}

// ExecutionARN builds arn:aws:states:<region>:<account>:execution:<state machine>:<name>.
func (c *Client) ExecutionARN(name string) (string, error) {
	if c.stateMachineARN == "" {
		return "", errNotConfigured()
	}
	parts := strings.Split(c.stateMachineARN, ":")
	if len(parts) < 7 {
		return "", errs.Internal("Invalid Step Function configuration. Please check your ARN.").
			With("stateMachineArn", c.stateMachineARN)
	}
	return fmt.Sprintf("arn:aws:states:%s:%s:execution:%s:%s", parts[3], parts[4], parts[6], name), nil
}

func errNotConfigured() *errs.Error {
	return errs.Internal("Step Function ARN not configured. Please set STEP_FUNCTION_ARN environment variable.")
}

type operation int

const (
	opStart operation = iota
	opDescribe
)

func translate(err error, op operation) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if op == opStart {
			return errs.Internal("Failed to start PDF processing").Wrap(err)
		}
		return errs.Internal("Failed to check analysis status").Wrap(err)
	}

	code := apiErr.ErrorCode()
	var e *errs.Error
	switch code {
	case "ExecutionDoesNotExist":
		e = errs.NotFound("Analysis session not found")
	case "AccessDeniedException":
		e = errs.Forbidden("Access denied. Please check your IAM role permissions for Step Functions.")
	case "InvalidArn", "InvalidParameterValueException":
		if op == opStart {
			e = errs.Internal("Invalid Step Function configuration. Please check your ARN.")
		} else {
			e = errs.Invalid("Invalid execution ARN provided")
		}
	case "StateMachineDoesNotExist":
		e = errs.Internal("Invalid Step Function configuration. Please check your ARN.")
	case "ExecutionAlreadyExists":
		e = errs.Invalid("An analysis with this session id already exists")
	case "InvalidExecutionInput":
		e = errs.Invalid("Invalid input for Step Functions")
	default:
		if op == opStart {
			e = errs.Internal("Failed to start PDF processing")
		} else {
			e = errs.Internal("Failed to check analysis status")
		}
	}
	return e.With("code", code).Wrap(err)
}

