// Copyright 2022 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package misc

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Logs the execution time of a function, not meant to be very
// sensitive/accurate, but good enough to gauge rough run times.
// Meant to be called as:
//
//	defer misc.TimeFunc(time.Now(), "foo")
func TimeFunc(start time.Time, name string) {
	elapsed := time.Since(start)
	log.Debug().Dur("elapsed", elapsed).Msgf("%s completed", name)
}

// Exists tests if the given file/dir exists or not. Returns any errors
// related to os.Stat if the type is *not* ErrNotExist. If an error is
// returned, then the value of the returned boolean cannot be trusted.
func Exists(fs afero.Fs, file string) (bool, error) {
	return afero.Exists(fs, file)
}
