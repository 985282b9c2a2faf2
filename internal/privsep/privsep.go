// Package privsep performs the OS-level privilege-drop sequence a child
// process runs immediately after fork, before it does anything else:
// resolve the configured user/group, chroot,
// drop privileges, remap inherited descriptors to a fixed per-service
// layout, close stdio, close everything above the highest remapped fd,
// then re-exec the same binary into its private entry point.
package privsep

import (
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/cuemby/agentd/internal/status"
)

// Failure kinds returned by this package's steps.
var (
	ErrLookupUserGroup = status.New(status.ServiceProcess, status.CodeLookupUserGroupFailure)
	ErrChroot          = status.New(status.ServiceProcess, status.CodeChrootFailure)
	ErrDropPrivileges  = status.New(status.ServiceProcess, status.CodeDropPrivilegesFailure)
	ErrSocketpair      = status.New(status.ServiceProcess, status.CodeSocketpairFailure)
	ErrExec            = status.New(status.ServiceProcess, status.CodeExecFailure)
)

// Credentials is the resolved (uid, gid) pair a service should drop to.
type Credentials struct {
	UID int
	GID int
}

// LookupUserGroup resolves a "user[:group]" spec into numeric
// credentials.
func LookupUserGroup(spec string) (Credentials, error) {
	userName, groupName := splitUserGroup(spec)

	u, err := user.Lookup(userName)
	if err != nil {
		return Credentials{}, status.Wrap(status.ServiceProcess, status.CodeLookupUserGroupFailure, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Credentials{}, status.Wrap(status.ServiceProcess, status.CodeLookupUserGroupFailure, err)
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Credentials{}, status.Wrap(status.ServiceProcess, status.CodeLookupUserGroupFailure, err)
	}
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return Credentials{}, status.Wrap(status.ServiceProcess, status.CodeLookupUserGroupFailure, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return Credentials{}, status.Wrap(status.ServiceProcess, status.CodeLookupUserGroupFailure, err)
		}
	}

	return Credentials{UID: uid, GID: gid}, nil
}

func splitUserGroup(spec string) (userName, groupName string) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:]
		}
	}
	return spec, ""
}

// Chroot changes root to dir. Callers must
// also chdir into "/" afterward, which this does for them.
func Chroot(dir string) error {
	if err := syscall.Chroot(dir); err != nil {
		return status.Wrap(status.ServiceProcess, status.CodeChrootFailure, err)
	}
	if err := syscall.Chdir("/"); err != nil {
		return status.Wrap(status.ServiceProcess, status.CodeChrootFailure, err)
	}
	return nil
}

// DropPrivileges drops effective+real gid, then effective+real uid, in
// that order: group before user, because
// dropping uid first can strip the right to change gid.
func DropPrivileges(creds Credentials) error {
	if err := syscall.Setgid(creds.GID); err != nil {
		return status.Wrap(status.ServiceProcess, status.CodeDropPrivilegesFailure, err)
	}
	if err := syscall.Setuid(creds.UID); err != nil {
		return status.Wrap(status.ServiceProcess, status.CodeDropPrivilegesFailure, err)
	}
	return nil
}

// FDPair describes one descriptor that must end up at a fixed, known
// slot before a service's private entry point runs.
type FDPair struct {
	Current int
	Desired int
}

// RemapDescriptors performs a protect-then-dup-then-close dance: any
// currently-open descriptor that would
// collide with a desired slot is dup'd out of the way first, then each
// pair is moved into place with dup2, and every source descriptor that
// isn't also a destination is closed. It returns the final, stable fds
// in the same order as pairs.
func RemapDescriptors(pairs []FDPair) ([]int, error) {
	desired := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		desired[p.Desired] = true
	}

	protected := make(map[int]int) // original fd -> protected (dup'd) fd
	for _, p := range pairs {
		if p.Current == p.Desired {
			continue
		}
		if desired[p.Current] {
			if _, ok := protected[p.Current]; !ok {
				dupFD, err := syscall.Dup(p.Current)
				if err != nil {
					return nil, status.Wrap(status.ServiceProcess, status.CodeSocketpairFailure, err)
				}
				protected[p.Current] = dupFD
			}
		}
	}

	result := make([]int, len(pairs))
	for i, p := range pairs {
		src := p.Current
		if dupFD, ok := protected[src]; ok {
			src = dupFD
		}
		if src == p.Desired {
			result[i] = p.Desired
			continue
		}
		if err := syscall.Dup2(src, p.Desired); err != nil {
			return nil, status.Wrap(status.ServiceProcess, status.CodeSocketpairFailure, err)
		}
		result[i] = p.Desired
	}

	keep := make(map[int]bool, len(pairs))
	for _, fd := range result {
		keep[fd] = true
	}
	for _, p := range pairs {
		if !keep[p.Current] {
			_ = syscall.Close(p.Current)
		}
	}
	for _, dupFD := range protected {
		if !keep[dupFD] {
			_ = syscall.Close(dupFD)
		}
	}

	return result, nil
}

// CloseStdio closes fds 0, 1, and 2.
func CloseStdio() {
	_ = syscall.Close(0)
	_ = syscall.Close(1)
	_ = syscall.Close(2)
}

// CloseAbove closes every open descriptor numbered above maxFD.
// highestOpen bounds the scan — typically
// rlimit-nofile or a known small ceiling in tests.
func CloseAbove(maxFD, highestOpen int) {
	for fd := maxFD + 1; fd <= highestOpen; fd++ {
		_ = syscall.Close(fd)
	}
}

// ExecSelf re-execs the running binary with a distinguishing
// "-P <privateCommand>" argument so the new image knows which private
// entry point to run. It only returns on
// failure — success replaces the calling process image.
func ExecSelf(privateCommand string, extraArgs []string) error {
	self, err := exec.LookPath("/proc/self/exe")
	if err != nil {
		self = "/proc/self/exe"
	}
	argv := append([]string{self, "-P", privateCommand}, extraArgs...)
	if err := syscall.Exec(self, argv, environNoSecrets()); err != nil {
		return status.Wrap(status.ServiceProcess, status.CodeExecFailure, err)
	}
	return nil
}

func environNoSecrets() []string {
	return []string{}
}
