// Package remote runs host side storage operations on managed Linux
// servers over SSH.
package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"compellent/config"
	cErrors "compellent/errors"
)

// Dial opens an SSH connection to the given host using the configured
// SSH settings. Keys from a running SSH agent are tried before the
// password.
func Dial(host, password string, cfg *config.SSH) (*Host, error) {
	var auth []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, cErrors.NewValueError("no SSH authentication methods available for %s", host)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !cfg.Insecure {
		knownHostsFile := cfg.KnownHostsFile
		if knownHostsFile == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.Wrap(err, "finding home directory")
			}
			knownHostsFile = home + "/.ssh/known_hosts"
		}
		var err error
		hostKeyCallback, err = knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "loading known hosts from %s", knownHostsFile)
		}
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, cfg.SSHPort()), &ssh.ClientConfig{
		User:            cfg.SSHUser(),
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect as %s@%s using SSH", cfg.SSHUser(), host)
	}

	h := &Host{
		host:   host,
		client: client,
	}
	h.run = h.sshRun
	return h, nil
}

// Host is an SSH connection to a managed Linux server.
type Host struct {
	host   string
	client *ssh.Client
	run    func(ctx context.Context, command string) (string, error)
}

// Close tears down the SSH connection.
func (h *Host) Close() error {
	return h.client.Close()
}

// Run executes a command on the host and returns its standard output.
// The command is aborted when the context is cancelled.
func (h *Host) Run(ctx context.Context, command string) (string, error) {
	return h.run(ctx, command)
}

func (h *Host) sshRun(ctx context.Context, command string) (string, error) {
	session, err := h.client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "opening SSH session")
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(command)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", errors.Wrapf(res.err, "running %q on %s", command, h.host)
		}
		return string(res.out), nil
	}
}

// mountpointSource resolves the device backing a mountpoint. findmnt
// exits non-zero when nothing is mounted at the target, so the exit
// status is discarded and an empty result maps to NotFoundError.
func (h *Host) mountpointSource(ctx context.Context, mountpoint string) (string, error) {
	device, err := h.Run(ctx, fmt.Sprintf("findmnt --noheadings --list --output SOURCE %s || true", mountpoint))
	if err != nil {
		return "", err
	}
	device = strings.TrimSpace(device)
	if device == "" {
		return "", cErrors.NewNotFoundError("nothing mounted at %s on %s", mountpoint, h.host)
	}
	return device, nil
}

// MountpointToSerial determines the Storage Center serial of the
// volume mounted at the given mountpoint.
func (h *Host) MountpointToSerial(ctx context.Context, mountpoint string) (string, error) {
	device, err := h.mountpointSource(ctx, mountpoint)
	if err != nil {
		return "", err
	}

	serial, err := h.Run(ctx, fmt.Sprintf("lsblk --noheadings --list --output SERIAL %s", device))
	if err != nil {
		return "", err
	}
	serial = strings.TrimSpace(strings.SplitN(serial, "\n", 2)[0])
	if serial == "" {
		return "", cErrors.NewNotFoundError("device %s on %s has no serial", device, h.host)
	}
	return serial, nil
}

// MountpointDevice returns the device backing a mountpoint.
func (h *Host) MountpointDevice(ctx context.Context, mountpoint string) (string, error) {
	return h.mountpointSource(ctx, mountpoint)
}

// Unmount unmounts the given mountpoint.
func (h *Host) Unmount(ctx context.Context, mountpoint string) error {
	_, err := h.Run(ctx, fmt.Sprintf("umount %s", mountpoint))
	return err
}

// Mount mounts a device at the given mountpoint, creating the
// mountpoint if needed.
func (h *Host) Mount(ctx context.Context, device, mountpoint string) error {
	if _, err := h.Run(ctx, fmt.Sprintf("mkdir -p %s", mountpoint)); err != nil {
		return err
	}
	_, err := h.Run(ctx, fmt.Sprintf("mount %s %s", device, mountpoint))
	return err
}

// RescanSCSIBus rescans all SCSI hosts so newly mapped volumes show
// up.
func (h *Host) RescanSCSIBus(ctx context.Context) error {
	_, err := h.Run(ctx,
		`for host in /sys/class/scsi_host/*; do echo '- - -' > "$host/scan"; done`)
	return err
}

// FlushMultipath removes a multipath map on the host.
func (h *Host) FlushMultipath(ctx context.Context, alias string) error {
	_, err := h.Run(ctx, fmt.Sprintf("multipath -f %s", alias))
	return err
}

// DeleteDisk offlines and deletes a SCSI disk on the host.
func (h *Host) DeleteDisk(ctx context.Context, disk string) error {
	script := fmt.Sprintf(
		"echo offline > /sys/block/%[1]s/device/state && echo 1 > /sys/block/%[1]s/device/delete", disk)
	_, err := h.Run(ctx, script)
	return err
}

// MultipathPaths returns the SCSI disks backing a multipath alias.
func (h *Host) MultipathPaths(ctx context.Context, alias string) ([]string, error) {
	out, err := h.Run(ctx, fmt.Sprintf("multipath -ll %s", alias))
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		// path lines look like: |- 34:0:0:1 sdg 8:96 active ready running
		for i, field := range fields {
			if strings.Count(field, ":") == 3 && i+1 < len(fields) {
				paths = append(paths, fields[i+1])
				break
			}
		}
	}
	return paths, nil
}

// AliasForSerial returns the multipath alias of the Compellent volume
// with the given serial, if one is configured.
func (h *Host) AliasForSerial(ctx context.Context, serial string) (string, error) {
	out, err := h.Run(ctx, "multipath -ll")
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "COMPELNT") {
			continue
		}
		start := strings.Index(line, "(")
		end := strings.Index(line, ")")
		if start < 0 || end < start {
			continue
		}
		wwid := line[start+1 : end]
		if strings.Contains(wwid, serial) {
			return strings.Fields(line)[0], nil
		}
	}
	return "", cErrors.NewNotFoundError("no multipath device for serial %s on %s", serial, h.host)
}

// UpdateFstab replaces or appends the fstab line for the given
// mountpoint.
func (h *Host) UpdateFstab(ctx context.Context, device, mountpoint, fstype string) error {
	entry := fmt.Sprintf("%s\t%s\t%s\tdefaults\t0 0", device, mountpoint, fstype)
	script := fmt.Sprintf(
		`grep -v -E '^[^#]\S*\s+%s\s' /etc/fstab > /etc/fstab.compellent && echo '%s' >> /etc/fstab.compellent && mv /etc/fstab.compellent /etc/fstab`,
		mountpoint, entry)
	_, err := h.Run(ctx, script)
	return err
}

// ChangeFilesystemUUID regenerates the filesystem UUID on a cloned
// XFS volume, so it can be mounted alongside its origin.
func (h *Host) ChangeFilesystemUUID(ctx context.Context, device string) error {
	_, err := h.Run(ctx, fmt.Sprintf("xfs_admin -U generate %s", device))
	return err
}
