// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountinfo

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

const sampleMountinfo = `
1 0 253:5 / / ro,relatime shared:1 - ext4 /dev/block/dm-5 ro,seclabel
24 1 0:21 / /dev rw,nosuid,relatime master:2 - tmpfs tmpfs rw,seclabel,mode=755
35 1 259:10 / /data rw,nosuid,nodev,noatime shared:30 propagate_from:4 - f2fs /dev/block/by-name/userdata rw,lazytime
36 35 259:10 /media /mnt/my\040storage rw,nosuid shared:31 unbindable - f2fs /dev/block/by-name/userdata rw,lazytime
`

func TestParse(t *testing.T) {
	mounts, err := Parse(strings.NewReader(sampleMountinfo))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Mount{
		{ID: 1, Parent: 0, Device: unix.Mkdev(253, 5), Root: "/", Target: "/", VFSOptions: "ro,relatime",
			Shared: 1, FSType: "ext4", Source: "/dev/block/dm-5", FSOptions: "ro,seclabel"},
		{ID: 24, Parent: 1, Device: unix.Mkdev(0, 21), Root: "/", Target: "/dev", VFSOptions: "rw,nosuid,relatime",
			Master: 2, FSType: "tmpfs", Source: "tmpfs", FSOptions: "rw,seclabel,mode=755"},
		{ID: 35, Parent: 1, Device: unix.Mkdev(259, 10), Root: "/", Target: "/data", VFSOptions: "rw,nosuid,nodev,noatime",
			Shared: 30, PropagationFrom: 4, FSType: "f2fs", Source: "/dev/block/by-name/userdata", FSOptions: "rw,lazytime"},
		{ID: 36, Parent: 35, Device: unix.Mkdev(259, 10), Root: "/media", Target: "/mnt/my storage", VFSOptions: "rw,nosuid",
			Shared: 31, Unbindable: true, FSType: "f2fs", Source: "/dev/block/by-name/userdata", FSOptions: "rw,lazytime"},
	}
	if diff := cmp.Diff(want, mounts); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{
		"1 0 253:5 / / ro,relatime shared:1 ext4 /dev/block/dm-5 ro",
		"x 0 253:5 / / ro - ext4 /dev/root ro",
		"1 0 2535 / / ro - ext4 /dev/root ro",
		"1 0 253:5 / / ro shared:x - ext4 /dev/root ro",
		"1 0 253:5 / / ro - ext4",
	} {
		if _, err := Parse(strings.NewReader(line)); err == nil {
			t.Errorf("Parse(%q) should fail", line)
		}
	}
}

func TestReadSelf(t *testing.T) {
	if _, err := os.Stat("/proc/self/mountinfo"); err != nil {
		t.Skip("no /proc on this system")
	}
	mounts, err := Read("/proc", "self")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(mounts) == 0 {
		t.Fatal("no mounts in /proc/self/mountinfo")
	}
}

func TestPreinitDevice(t *testing.T) {
	mount := func(target, fsType, source, options string) Mount {
		return Mount{Root: "/", Target: target, FSType: fsType, Source: source, FSOptions: options}
	}
	persist := mount("/mnt/vendor/persist", "ext4", "/dev/block/by-name/persist", "rw,seclabel")
	metadata := mount("/metadata", "ext4", "/dev/block/by-name/metadata", "rw,seclabel")
	cache := mount("/cache", "ext4", "/dev/block/sda7", "rw")
	dataF2FS := mount("/data", "f2fs", "/dev/block/by-name/userdata", "rw,lazytime")
	dataExt4 := mount("/data", "ext4", "/dev/block/sda20", "rw")

	tests := []struct {
		name    string
		mounts  []Mount
		options PreinitOptions
		want    string
	}{
		{"none", nil, PreinitOptions{}, ""},
		{"persist only", []Mount{persist}, PreinitOptions{}, "persist"},
		{"metadata beats persist", []Mount{persist, metadata}, PreinitOptions{}, "metadata"},
		{"cache beats metadata", []Mount{metadata, cache}, PreinitOptions{}, "sda7"},
		{"ext4 data wins", []Mount{persist, dataExt4, cache}, PreinitOptions{}, "sda20"},
		{"f2fs ignored after ext4 match", []Mount{metadata, dataF2FS}, PreinitOptions{}, "metadata"},
		{"f2fs data alone", []Mount{dataF2FS}, PreinitOptions{}, "userdata"},
		{"encrypted data skipped", []Mount{persist, dataExt4}, PreinitOptions{Encrypted: true}, "persist"},
		{"encrypted with unencrypted dir", []Mount{persist, dataExt4}, PreinitOptions{Encrypted: true, UnencryptedData: true}, "sda20"},
		{"read-only skipped", []Mount{mount("/cache", "ext4", "/dev/block/sda7", "ro")}, PreinitOptions{}, ""},
		{"device mapper skipped", []Mount{mount("/data", "ext4", "/dev/block/dm-3", "rw")}, PreinitOptions{}, ""},
		{"bind mount skipped", []Mount{{Root: "/media", Target: "/data", FSType: "ext4", Source: "/dev/block/sda20", FSOptions: "rw"}}, PreinitOptions{}, ""},
		{"odd device dir skipped", []Mount{mount("/data", "ext4", "/dev/sda20", "rw")}, PreinitOptions{}, ""},
		{"existing mirror", []Mount{dataExt4, {Target: "/debug_ramdisk/.magisk/preinit", Source: "/dev/block/sda15"}}, PreinitOptions{}, "sda20"},
		{"mirror first", []Mount{{Target: "/debug_ramdisk/.magisk/preinit", Source: "/dev/block/sda15"}, dataExt4}, PreinitOptions{}, "sda15"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := PreinitDevice(test.mounts, test.options); got != test.want {
				t.Errorf("PreinitDevice = %q, want %q", got, test.want)
			}
		})
	}
}
