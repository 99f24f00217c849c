// Package db selects the store driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/dealsense/internal/profile"
	"github.com/hrygo/dealsense/store"
	"github.com/hrygo/dealsense/store/db/postgres"
	"github.com/hrygo/dealsense/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s (only 'sqlite' and 'postgres' are supported)", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
