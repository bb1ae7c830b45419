// Copyright 2024 Google LLC
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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jacobsa/fuse"
	"golang.org/x/sys/unix"

	"github.com/last-genius/tagfs/fs"
	"github.com/last-genius/tagfs/internal/logger"
)

// mountAndServe opens the store, mounts the file system at mountPoint, and
// blocks until it is unmounted.
func mountAndServe(ctx context.Context, mountPoint string, cfg mountConfig) error {
	if err := logger.Init(logger.Config{
		FilePath: cfg.LogFile,
		Severity: cfg.LogSeverity,
		Format:   cfg.LogFormat,
		Rotate:   logger.DefaultRotateConfig(),
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("creating base dir %q: %w", cfg.BaseDir, err)
	}

	uid, gid := uint32(unix.Getuid()), uint32(unix.Getgid())
	if cfg.Uid >= 0 {
		uid = uint32(cfg.Uid)
	}
	if cfg.Gid >= 0 {
		gid = uint32(cfg.Gid)
	}

	logger.Infof("opening tag graph at %s", cfg.BaseDir)
	server, err := fs.NewServer(&fs.ServerConfig{
		BaseDir: cfg.BaseDir,
		Uid:     uid,
		Gid:     gid,
	})
	if err != nil {
		return fmt.Errorf("fs.NewServer: %w", err)
	}

	mountCfg := &fuse.MountConfig{
		FSName:     "tag_fs",
		Subtype:    "tagfs",
		VolumeName: "tagfs",
		Options:    parseMountOptions(cfg.Options),
	}

	logger.Infof("mounting tagfs at %s", mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("serving file system: %w", err)
	}
	return nil
}

// parseMountOptions turns a list of "-o" values, each either a bare flag
// ("ro", "allow_other") or a "key=value" pair, into the map fuse.MountConfig
// expects. auto_unmount and allow_other are fixed mount properties per
// SPEC_FULL.md's mount-options section: the mount must not outlive its
// client process and must be reachable by users other than the one that
// mounted it, regardless of what the invocation passed, so both are seeded
// before any user-supplied option can override them.
func parseMountOptions(opts []string) map[string]string {
	out := map[string]string{
		"auto_unmount": "",
		"allow_other":  "",
	}
	for _, o := range opts {
		if key, value, ok := strings.Cut(o, "="); ok {
			out[key] = value
		} else {
			out[o] = ""
		}
	}
	return out
}
