package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/pkg/errors"
)

// Client bundles the AWS service clients the watcher needs.
type Client struct {
	CodeDeploy *codedeploy.Client
	Logs       *cloudwatchlogs.Client
	STS        *sts.Client
	Region     string
}

type Options struct {
	Region  string
	Profile string
}

// New resolves credentials through the SDK's default chain, optionally pinned
// to a shared-config profile and/or region.
func New(ctx context.Context, opts Options) (*Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	return &Client{
		CodeDeploy: codedeploy.NewFromConfig(cfg),
		Logs:       cloudwatchlogs.NewFromConfig(cfg),
		STS:        sts.NewFromConfig(cfg),
		Region:     cfg.Region,
	}, nil
}

type CallerIdentity struct {
	Account string `json:"account"`
	Arn     string `json:"arn"`
	UserID  string `json:"user_id"`
}

func (c *Client) CallerIdentity(ctx context.Context) (CallerIdentity, error) {
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return CallerIdentity{}, errors.Wrap(err, "get caller identity")
	}
	return CallerIdentity{
		Account: aws.ToString(out.Account),
		Arn:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
