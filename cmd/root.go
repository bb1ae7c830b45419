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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	bindErr error
)

var rootCmd = &cobra.Command{
	Use:   "tagfs [flags] mount_point",
	Short: "Mount a tag-graph, content-addressed file system locally",
	Long: `tagfs is a user-space file system that organizes content by tag
          rather than by path: every file is named by the hash of its
          content, and directories are tags a file (or another tag) can
          belong to any number of at once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		mountPoint, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("canonicalizing mount point: %w", err)
		}
		return mountAndServe(cmd.Context(), mountPoint, boundConfig())
	},
}

// Execute runs the root command, exiting the process with status 1 on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("base-dir", "/tmp/tagfs", "directory holding the persistent tag graph")
	flags.Int("uid", -1, "uid to own every inode; -1 uses the mounting user's")
	flags.Int("gid", -1, "gid to own every inode; -1 uses the mounting user's")
	flags.String("log-severity", "", "TRACE, DEBUG, INFO, WARNING, ERROR, or OFF; defaults to TAGFS_LOG or INFO")
	flags.String("log-format", "text", "text or json")
	flags.String("log-file", "", "log file path; empty logs to stderr")
	flags.StringArray("o", nil, "additional mount option, may be repeated (e.g. -o ro -o allow_other)")
	flags.StringVar(&cfgFile, "config-file", "", "path to a YAML config file overriding these flags")

	bindErr = viper.BindPFlags(flags)
	viper.SetEnvPrefix("TAGFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil && bindErr == nil {
		bindErr = fmt.Errorf("reading config file: %w", err)
	}
}

// mountConfig is the fully resolved set of options driving a mount, built
// from whatever mix of flags, environment variables, and config file viper
// resolved.
type mountConfig struct {
	BaseDir     string
	Uid         int
	Gid         int
	LogSeverity string
	LogFormat   string
	LogFile     string
	Options     []string
}

func boundConfig() mountConfig {
	return mountConfig{
		BaseDir:     viper.GetString("base-dir"),
		Uid:         viper.GetInt("uid"),
		Gid:         viper.GetInt("gid"),
		LogSeverity: viper.GetString("log-severity"),
		LogFormat:   viper.GetString("log-format"),
		LogFile:     viper.GetString("log-file"),
		Options:     viper.GetStringSlice("o"),
	}
}
