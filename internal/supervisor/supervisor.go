// Package supervisor implements the privilege-separated process tree
// root: it creates the socketpairs each private
// service needs, forks+execs the running binary back into itself with
// a "-P <service>" argument per internal/privsep's re-exec convention,
// tracks every child's pid, and drives orderly then forceful shutdown.
package supervisor

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/agentd/internal/status"
)

// Kind names one of the fixed, closed set of private service roles
// the node spawns, in startup order. A closed enum instead
// of a string, since the set is fixed.
type Kind int

const (
	KindRandom Kind = iota
	KindAuth
	KindData
	KindNotification
	KindAttestation
	KindCanonization
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindRandom:
		return "random"
	case KindAuth:
		return "auth"
	case KindData:
		return "data"
	case KindNotification:
		return "notification"
	case KindAttestation:
		return "attestation"
	case KindCanonization:
		return "canonization"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Link is one end of a socketpair this process keeps after handing the
// other end to a child, named for which fdlayout slot it fills (e.g.
// "data-control", "notification-client1").
type Link struct {
	Name string
	File *os.File
}

// Socketpair creates a connected pair of unix-domain stream sockets:
// local is the end this process keeps, remote is the end to hand a
// child via exec.Cmd.ExtraFiles.
func Socketpair(name string) (local, remote *os.File, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, status.Wrap(status.ServiceSupervisor, status.CodeSocketpairFailure, err)
	}
	return os.NewFile(uintptr(fds[0]), name+"-local"), os.NewFile(uintptr(fds[1]), name+"-remote"), nil
}

// Child is one tracked private service process.
type Child struct {
	Kind  Kind
	Index int
	PID   int
	Links []Link // this process's kept ends of sockets handed to the child

	cmd *exec.Cmd
}

// Supervisor owns the process tree rooted at the running binary.
type Supervisor struct {
	self string // path to re-exec for each child, per privsep.ExecSelf's convention

	mu       sync.Mutex
	children []*Child
}

// New builds a Supervisor that re-execs selfPath for every child.
func New(selfPath string) *Supervisor {
	return &Supervisor{self: selfPath}
}

// Spawn forks the running binary back into itself as kind, via the
// "-P <service-name>" re-exec convention, handing it
// remoteFiles as its inherited descriptors in order. os/exec places
// ExtraFiles at sequential fds starting at 3, which is exactly
// internal/fdlayout's slot numbering for every service, so no fd
// remapping happens at this layer — the child's own private entry
// point performs the rest of privsep (chroot, drop privileges, close
// stdio/above, re-exec) once it is running.
func (s *Supervisor) Spawn(kind Kind, index int, remoteFiles []*os.File, keptLinks []Link) (*Child, error) {
	cmd := exec.Command(s.self, "-P", kind.String())
	cmd.ExtraFiles = remoteFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, status.Wrap(status.ServiceSupervisor, status.CodeForkFailure, err)
	}

	// The child now holds its own reference to each remote fd; this
	// process's copy only keeps the socket alive, it never uses it.
	for _, f := range remoteFiles {
		_ = f.Close()
	}

	child := &Child{Kind: kind, Index: index, PID: cmd.Process.Pid, Links: keptLinks, cmd: cmd}
	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()
	return child, nil
}

// Children returns every tracked child, in spawn order.
func (s *Supervisor) Children() []*Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Child, len(s.children))
	copy(out, s.children)
	return out
}

// Shutdown signals every child with SIGTERM, waits up to grace for each
// to exit on its own, then SIGKILLs any stragglers.
func (s *Supervisor) Shutdown(grace time.Duration) error {
	children := s.Children()
	exited := make(chan int, len(children))

	for _, c := range children {
		c := c
		go func() {
			_ = c.cmd.Wait()
			exited <- c.PID
		}()
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
	}

	remaining := make(map[int]*Child, len(children))
	for _, c := range children {
		remaining[c.PID] = c
	}

	timeout := time.After(grace)
	for len(remaining) > 0 {
		select {
		case pid := <-exited:
			delete(remaining, pid)
		case <-timeout:
			var firstErr error
			for _, c := range remaining {
				if err := c.cmd.Process.Kill(); err != nil && firstErr == nil {
					firstErr = status.Wrap(status.ServiceSupervisor, status.CodeUnspecifiedFailure, err)
				}
			}
			for range remaining {
				<-exited
			}
			return firstErr
		}
	}
	return nil
}
