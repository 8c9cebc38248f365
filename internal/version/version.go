/*
Copyright 2020 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package version reports the cmakex binary's own build version and
// checks semantic-version constraints, grounded on Masterminds/semver.
package version

import (
	"fmt"

	"github.com/Masterminds/semver"
)

// version is overridden at build time via -ldflags.
var version = "v0.0.0-dev"

// Info is the resolved version of the running binary.
type Info struct {
	v string
}

// New returns the current binary's version Info.
func New() Info {
	return Info{v: version}
}

// GetVersionString renders a human-readable version string.
func (i Info) GetVersionString() string {
	return fmt.Sprintf("cmakex %s", i.v)
}

// InConstraints reports whether the binary's version satisfies the given
// semver constraint expression (e.g. ">0.12.0").
func (i Info) InConstraints(c string) (bool, error) {
	sv, err := semver.NewVersion(i.v)
	if err != nil {
		return false, err
	}
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		return false, err
	}
	return constraint.Check(sv), nil
}
