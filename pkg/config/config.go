package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".deploywatch.yaml"

type File struct {
	LogGroups    []string `yaml:"log_groups,omitempty"`
	PollInterval string   `yaml:"poll_interval,omitempty"` // Go duration string, e.g. "5s"
	Region       string   `yaml:"region,omitempty"`
	Profile      string   `yaml:"profile,omitempty"`
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return &cfg, nil
}

// LoadOptional returns an empty config when the file does not exist.
func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}

func (f *File) Interval() (time.Duration, error) {
	if f.PollInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.PollInterval)
	if err != nil {
		return 0, errors.Wrap(err, "parse poll_interval")
	}
	if d <= 0 {
		return 0, errors.New("poll_interval must be > 0")
	}
	return d, nil
}
