// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBoundConfigDefaults checks the values rootCmd's init() bound via
// viper.BindPFlags before any flag or environment override is applied.
func TestBoundConfigDefaults(t *testing.T) {
	cfg := boundConfig()
	assert.Equal(t, "/tmp/tagfs", cfg.BaseDir)
	assert.Equal(t, -1, cfg.Uid)
	assert.Equal(t, -1, cfg.Gid)
	assert.Equal(t, "text", cfg.LogFormat)
}

// TestBoundConfigEnvOverride checks that TAGFS_-prefixed environment
// variables, bound via viper.SetEnvPrefix/AutomaticEnv in init(), take
// effect over the flag defaults without any flag having to be passed.
func TestBoundConfigEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("TAGFS_BASE_DIR", "/var/tmp/env-tagfs"))
	require.NoError(t, os.Setenv("TAGFS_LOG_SEVERITY", "DEBUG"))
	defer func() {
		os.Unsetenv("TAGFS_BASE_DIR")
		os.Unsetenv("TAGFS_LOG_SEVERITY")
	}()

	cfg := boundConfig()
	assert.Equal(t, "/var/tmp/env-tagfs", cfg.BaseDir)
	assert.Equal(t, "DEBUG", cfg.LogSeverity)
}

func TestParseMountOptionsAlwaysSetsFixedOptions(t *testing.T) {
	opts := parseMountOptions(nil)
	_, hasAutoUnmount := opts["auto_unmount"]
	_, hasAllowOther := opts["allow_other"]
	assert.True(t, hasAutoUnmount, "auto_unmount must be set even with no -o flags passed")
	assert.True(t, hasAllowOther, "allow_other must be set even with no -o flags passed")
}

func TestParseMountOptionsBareAndKeyValue(t *testing.T) {
	opts := parseMountOptions([]string{"ro", "max_read=65536"})
	assert.Contains(t, opts, "ro")
	assert.Equal(t, "", opts["ro"])
	assert.Equal(t, "65536", opts["max_read"])
	// fixed options still present alongside user-supplied ones.
	assert.Contains(t, opts, "auto_unmount")
	assert.Contains(t, opts, "allow_other")
}

func TestParseMountOptionsCannotDisableFixedOptions(t *testing.T) {
	// A user explicitly repeating allow_other just re-sets the same key; the
	// fixed options can't be removed from the map, only restated.
	opts := parseMountOptions([]string{"allow_other=bogus"})
	_, ok := opts["allow_other"]
	assert.True(t, ok)
}

func TestRootCmdRequiresExactlyOneArg(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{name: "no mount point", args: []string{}, expectError: true},
		{name: "one mount point", args: []string{"/mnt/tagfs"}, expectError: false},
		{name: "too many args", args: []string{"/mnt/tagfs", "extra"}, expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := rootCmd.Args(rootCmd, tc.args)
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
