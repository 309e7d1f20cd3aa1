package main

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/acrlabs/backuppy/internal/config"
)

var log = logrus.WithField("component", "cli")

// backupSetNames returns [only] if non-empty, else every configured
// backup set's name in sorted order.
func backupSetNames(configPath, only string) ([]string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if only != "" {
		if _, err := cfg.Get(only); err != nil {
			return nil, err
		}
		return []string{only}, nil
	}
	if len(cfg.Backups) == 0 {
		return nil, fmt.Errorf("no backup sets configured in %s", configPath)
	}
	names := make([]string, 0, len(cfg.Backups))
	for name := range cfg.Backups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
