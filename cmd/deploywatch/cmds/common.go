package cmds

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-go-golems/deploywatch/pkg/awsclient"
	"github.com/go-go-golems/deploywatch/pkg/config"
)

type rootOptions struct {
	Region    string
	Profile   string
	LogGroups []string
	Interval  time.Duration
}

func AddRootFlags(root *cobra.Command) {
	addRootFlags(root.PersistentFlags())
}

func addRootFlags(pf *pflag.FlagSet) {
	pf.String("region", "", "AWS region (defaults to the SDK resolution chain)")
	pf.String("profile", "", "AWS shared config profile")
	pf.StringSlice("log-group", nil, "CloudWatch log group to tail (repeatable)")
	pf.String("config", "", "Path to config file (defaults to .deploywatch.yaml in the working directory)")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
}

// getRootOptions merges the optional config file with the persistent flags;
// flags win.
func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	pf := cmd.Root().PersistentFlags()

	cfgPath, err := pf.GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cfgPath = config.DefaultConfigFilename
	}
	cfgPath, err = filepath.Abs(cfgPath)
	if err != nil {
		return rootOptions{}, err
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		return rootOptions{}, err
	}

	opts := rootOptions{
		Region:    cfg.Region,
		Profile:   cfg.Profile,
		LogGroups: cfg.LogGroups,
	}
	if opts.Interval, err = cfg.Interval(); err != nil {
		return rootOptions{}, err
	}

	if region, err := pf.GetString("region"); err != nil {
		return rootOptions{}, err
	} else if region != "" {
		opts.Region = region
	}
	if profile, err := pf.GetString("profile"); err != nil {
		return rootOptions{}, err
	} else if profile != "" {
		opts.Profile = profile
	}
	if groups, err := pf.GetStringSlice("log-group"); err != nil {
		return rootOptions{}, err
	} else if len(groups) > 0 {
		opts.LogGroups = groups
	}

	return opts, nil
}

func newAWSClient(ctx context.Context, opts rootOptions) (*awsclient.Client, error) {
	client, err := awsclient.New(ctx, awsclient.Options{
		Region:  opts.Region,
		Profile: opts.Profile,
	})
	if err != nil {
		return nil, errors.Wrap(err, "set up aws client")
	}
	return client, nil
}
