// Package provider wraps the AWS SDK behind the narrow surface
// pkg/orchestrator needs to fulfill the Script Host's AwsProvider/
// Cluster host bindings (spec.md §4.5): role/storage bookkeeping,
// instance launch, and elastic-IP attachment. Cloud-vendor SDK
// internals are out of scope per spec.md §1; this package only
// sequences the calls the bindings name.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/discoproj/disco/pkg/backoff"
	"github.com/discoproj/disco/pkg/metrics"
)

// InstanceState mirrors scripthost.InstanceState without importing that
// package, keeping provider free of the script-host dependency graph.
type InstanceState struct {
	ID        string
	PublicIP  string
	PrivateIP string
	Running   bool
}

// AWS implements the provider side of pkg/orchestrator's Backend
// fulfillment: one instance per Provider host object.
type AWS struct {
	region string
	ec2    *ec2.Client
	iam    *iam.Client
	s3     *s3.Client
	policy backoff.Policy
}

// New constructs an AWS provider, validating credentials with a cheap
// read call (DescribeRegions) retried under the standard provider
// backoff policy.
func New(ctx context.Context, region, profile string) (*AWS, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("provider: load aws config: %w", err)
	}

	p := &AWS{
		region: region,
		ec2:    ec2.NewFromConfig(cfg),
		iam:    iam.NewFromConfig(cfg),
		s3:     s3.NewFromConfig(cfg),
		policy: backoff.ProviderPolicy(),
	}

	if err := p.retry(ctx, "validate_credentials", func(ctx context.Context) error {
		_, err := p.ec2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
		return err
	}); err != nil {
		return nil, fmt.Errorf("provider: validate credentials: %w", err)
	}
	return p, nil
}

// EnsureRole creates the named IAM role if it doesn't already exist and
// returns its ARN.
func (p *AWS) EnsureRole(ctx context.Context, name string) (string, error) {
	var arn string
	err := p.retry(ctx, "ensure_role", func(ctx context.Context) error {
		out, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
		if err == nil {
			arn = aws.ToString(out.Role.Arn)
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		created, err := p.iam.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(name),
			AssumeRolePolicyDocument: aws.String(ec2AssumeRolePolicy),
		})
		if err != nil {
			return err
		}
		arn = aws.ToString(created.Role.Arn)
		return nil
	})
	return arn, err
}

// EnsureStorage creates the named S3 bucket if it doesn't already exist
// and returns its name. It takes no role: the role from the
// provider.storage({bucket, role}) binding is not passed down, and no
// bucket policy is attached.
func (p *AWS) EnsureStorage(ctx context.Context, bucket string) (string, error) {
	err := p.retry(ctx, "ensure_storage", func(ctx context.Context) error {
		_, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		_, err = p.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		return err
	})
	return bucket, err
}

// StartInstance launches one instance and polls until it reaches the
// Running state (spec.md §4.6 step 3).
func (p *AWS) StartInstance(ctx context.Context, image, instanceType string) (InstanceState, error) {
	var instanceID string
	err := p.retry(ctx, "start_instance", func(ctx context.Context) error {
		out, err := p.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
			ImageId:      aws.String(image),
			InstanceType: ec2types.InstanceType(instanceType),
			MinCount:     aws.Int32(1),
			MaxCount:     aws.Int32(1),
		})
		if err != nil {
			return err
		}
		if len(out.Instances) == 0 {
			return errors.New("run_instances returned no instances")
		}
		instanceID = aws.ToString(out.Instances[0].InstanceId)
		return nil
	})
	if err != nil {
		return InstanceState{}, err
	}
	return p.waitRunning(ctx, instanceID)
}

func (p *AWS) waitRunning(ctx context.Context, instanceID string) (InstanceState, error) {
	var state InstanceState
	for attempt := 0; ; attempt++ {
		out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
		if err == nil && len(out.Reservations) > 0 && len(out.Reservations[0].Instances) > 0 {
			inst := out.Reservations[0].Instances[0]
			state = InstanceState{
				ID:        instanceID,
				PublicIP:  aws.ToString(inst.PublicIpAddress),
				PrivateIP: aws.ToString(inst.PrivateIpAddress),
				Running:   inst.State != nil && inst.State.Name == ec2types.InstanceStateNameRunning,
			}
			if state.Running {
				return state, nil
			}
		} else if err != nil && !isTransient(err) {
			return InstanceState{}, err
		}
		select {
		case <-ctx.Done():
			return InstanceState{}, ctx.Err()
		case <-time.After(p.policy.Duration(attempt)):
		}
	}
}

// AttachIP allocates an elastic IP and associates it with instanceID
// (spec.md §4.6 step 4).
func (p *AWS) AttachIP(ctx context.Context, instanceID string) (InstanceState, error) {
	var publicIP string
	err := p.retry(ctx, "attach_ip", func(ctx context.Context) error {
		alloc, err := p.ec2.AllocateAddress(ctx, &ec2.AllocateAddressInput{Domain: ec2types.DomainTypeVpc})
		if err != nil {
			return err
		}
		publicIP = aws.ToString(alloc.PublicIp)
		_, err = p.ec2.AssociateAddress(ctx, &ec2.AssociateAddressInput{
			InstanceId:   aws.String(instanceID),
			AllocationId: alloc.AllocationId,
		})
		return err
	})
	if err != nil {
		return InstanceState{}, err
	}
	return InstanceState{ID: instanceID, PublicIP: publicIP, Running: true}, nil
}

// retry runs op under the provider backoff policy (base 500ms, cap
// 30s, max 6 attempts per spec.md §4.6), recording ProviderCallsTotal
// for every attempt's outcome and stopping immediately on a
// non-transient error.
func (p *AWS) retry(ctx context.Context, operation string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			metrics.ProviderCallsTotal.WithLabelValues(operation, "success").Inc()
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			metrics.ProviderCallsTotal.WithLabelValues(operation, "error").Inc()
			return err
		}
		metrics.ProviderCallsTotal.WithLabelValues(operation, "retry").Inc()
		if p.policy.Done(attempt) {
			return fmt.Errorf("%s: giving up after %d attempts: %w", operation, attempt+1, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.policy.Duration(attempt)):
		}
	}
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchEntity", "NotFound", "NoSuchBucket", "404":
			return true
		}
	}
	return false
}

// isTransient matches spec.md §4.6's retryable error classes:
// throttling, request-limit, and 5xx responses.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "RequestLimitExceeded", "ThrottlingException", "InternalError", "ServiceUnavailable":
			return true
		}
	}
	return false
}

const ec2AssumeRolePolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"ec2.amazonaws.com"},"Action":"sts:AssumeRole"}]}`
