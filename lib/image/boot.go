// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"fmt"

	"github.com/meridiandb/forge/lib/pathtree"
)

// Boot contract of every assembled image. Client code under test
// reads the cluster file to connect; the monitor supervises the
// server process on the listen port. These are fixed across versions
// — version-specific values flow through template parameters instead.
const (
	// ServiceUser is the account the database runs as.
	ServiceUser = "meridian"

	// ServiceUID and ServiceGID are the fixed identity of the
	// service account. The rendered configuration files reference
	// this account by name, so the uid/gid baked into /etc/passwd
	// must match what the post-placement chown applies.
	ServiceUID = 4059
	ServiceGID = 4059

	// ClusterFilePath is where clients find the cluster description.
	ClusterFilePath = "/etc/meridian/meridian.cluster"

	// DataDir is the server's storage directory, created by
	// post-placement with 0700 and service-account ownership.
	DataDir = "/var/lib/meridian/data"

	// LogDir is the server and monitor log directory.
	LogDir = "/var/log/meridian"

	// ListenPort is the database's default listening port.
	ListenPort = 4500

	// autoStartPath is the init-system registration file listing
	// services started at boot, one name per line.
	autoStartPath = "/etc/meridian/autostart"
)

// BaseLayer returns the OS base of every image: the user/group
// database with the fixed service account, hostname, and shell
// profile. It is always the first layer in merge order, so anything
// version-specific may override it — visibly, via the merge audit.
func BaseLayer() *pathtree.Tree {
	tree := pathtree.NewTree()

	passwd := fmt.Sprintf(
		"root:x:0:0:root:/root:/bin/sh\n%s:x:%d:%d:MeridianDB service account:/var/lib/meridian:/sbin/nologin\n",
		ServiceUser, ServiceUID, ServiceGID)
	group := fmt.Sprintf("root:x:0:\n%s:x:%d:\n", ServiceUser, ServiceGID)

	for dest, content := range map[string]string{
		"/etc/passwd":   passwd,
		"/etc/group":    group,
		"/etc/hostname": "meridian\n",
		"/etc/profile":  "export PATH=/usr/bin:/bin:/opt/meridian/bin\n",
	} {
		// Adds cannot collide: the map keys are distinct literals.
		if err := tree.Add(dest, pathtree.Entry{Content: []byte(content)}); err != nil {
			panic("image: base layer: " + err.Error())
		}
	}
	return tree
}
