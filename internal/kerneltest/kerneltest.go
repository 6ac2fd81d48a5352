// Package kerneltest provides an in-memory kernel that records the calls a
// spawn makes. A cloned child runs on its own goroutine against its own
// descriptor table, so both sides of a spawn can run inside one test.
package kerneltest

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/criyle/go-curium/pkg/clone3"
	"golang.org/x/sys/unix"
)

// Call is one recorded kernel call
type Call struct {
	Pid  int
	Op   string
	Args []string
}

func (c Call) String() string {
	return c.Op + "(" + strings.Join(c.Args, ",") + ")"
}

// Kernel is the shared state of every simulated process
type Kernel struct {
	mu      sync.Mutex
	calls   []Call
	fail    map[string]syscall.Errno
	failN   map[string]int
	procs   map[int]*Proc
	files   map[string]*procFile
	nextPid int
	nextFd  int

	// ExecErr is returned by Exec. When zero, Exec behaves like a
	// successful execve: it never returns and the process exits with
	// ExitCode.
	ExecErr  syscall.Errno
	ExitCode int
}

// New creates a kernel with a single initial process
func New() *Kernel {
	k := &Kernel{
		fail:    make(map[string]syscall.Errno),
		failN:   make(map[string]int),
		procs:   make(map[int]*Proc),
		files:   make(map[string]*procFile),
		nextPid: 100,
		nextFd:  3,
	}
	k.procs[1] = newProc(k, 1)
	return k
}

// Parent returns the initial process
func (k *Kernel) Parent() *Proc {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.procs[1]
}

// Proc returns the process with pid
func (k *Kernel) Proc(pid int) *Proc {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.procs[pid]
}

// Fail makes every later call of op return err
func (k *Kernel) Fail(op string, err syscall.Errno) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.fail[op] = err
	delete(k.failN, op)
}

// FailN makes the next n calls of op return err
func (k *Kernel) FailN(op string, err syscall.Errno, n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.fail[op] = err
	k.failN[op] = n
}

// Calls returns every recorded call in order
func (k *Kernel) Calls() []Call {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Call(nil), k.calls...)
}

// CallsOf returns the calls made by pid
func (k *Kernel) CallsOf(pid int) []Call {
	k.mu.Lock()
	defer k.mu.Unlock()
	var ret []Call
	for _, c := range k.calls {
		if c.Pid == pid {
			ret = append(ret, c)
		}
	}
	return ret
}

// Ops returns the operation names called by pid in order
func (k *Kernel) Ops(pid int) []string {
	var ret []string
	for _, c := range k.CallsOf(pid) {
		ret = append(ret, c.Op)
	}
	return ret
}

// File returns the content written to a simulated procfs file
func (k *Kernel) File(path string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, ok := k.files[path]
	if !ok || !f.written {
		return "", false
	}
	return string(f.content), true
}

// Pids returns the pids of every cloned process
func (k *Kernel) Pids() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	var ret []int
	for pid := range k.procs {
		if pid != 1 {
			ret = append(ret, pid)
		}
	}
	sort.Ints(ret)
	return ret
}

// record must be called with k.mu held. It returns the injected failure
// for op, if any.
func (k *Kernel) record(pid int, op string, args ...string) syscall.Errno {
	k.calls = append(k.calls, Call{Pid: pid, Op: op, Args: args})
	if n, ok := k.failN[op]; ok {
		if n <= 0 {
			return 0
		}
		k.failN[op] = n - 1
	}
	return k.fail[op]
}

func (k *Kernel) addProcFiles(pid int) {
	for _, n := range []string{"uid_map", "gid_map"} {
		k.files[fmt.Sprintf("/proc/%d/%s", pid, n)] = &procFile{writeOnce: true}
	}
	k.files[fmt.Sprintf("/proc/%d/setgroups", pid)] = &procFile{gidMap: fmt.Sprintf("/proc/%d/gid_map", pid)}
}

// procFile simulates a namespace mapping file
type procFile struct {
	content   []byte
	written   bool
	writeOnce bool
	gidMap    string // setgroups is locked once gid_map is written
}

// endpoint is one side of a simulated stream socket
type endpoint struct {
	in      chan byte
	peer    *endpoint
	refs    int
	closed  chan struct{}
	timeout time.Duration
}

func newSocketPair() (*endpoint, *endpoint) {
	a := &endpoint{in: make(chan byte, 64), closed: make(chan struct{})}
	b := &endpoint{in: make(chan byte, 64), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// file is an entry of a descriptor table
type file struct {
	ep      *endpoint
	proc    *procFile
	path    string
	cloexec bool
}

// Proc is a simulated process with its own descriptor table
type Proc struct {
	k      *Kernel
	pid    int
	fds    map[int]*file
	stderr []byte
	status syscall.WaitStatus
	done   bool
	exited chan struct{}
	killed chan struct{}
	kill   syscall.Signal
}

func newProc(k *Kernel, pid int) *Proc {
	return &Proc{
		k:      k,
		pid:    pid,
		fds:    make(map[int]*file),
		exited: make(chan struct{}),
		killed: make(chan struct{}),
	}
}

// Pid returns the process id
func (p *Proc) Pid() int {
	return p.pid
}

// Exited is closed once the process terminated
func (p *Proc) Exited() <-chan struct{} {
	return p.exited
}

// Status returns the wait status after the process exited
func (p *Proc) Status() syscall.WaitStatus {
	<-p.exited
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.status
}

// Stderr returns what the process wrote to descriptor 2
func (p *Proc) Stderr() string {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return string(p.stderr)
}

// Fds returns the open descriptors in ascending order
func (p *Proc) Fds() []int {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	var ret []int
	for fd := range p.fds {
		ret = append(ret, fd)
	}
	sort.Ints(ret)
	return ret
}

// Fork simulates clone3. The child runs fn on a new goroutine with a copy
// of the descriptor table. fn must not return normally: the child ends
// through Exec or Exit.
func (p *Proc) Fork(a *clone3.Args, fn func(child *Proc)) (clone3.Outcome, syscall.Errno) {
	k := p.k
	k.mu.Lock()
	if err := k.record(p.pid, "clone3", a.Flags().String()); err != 0 {
		k.mu.Unlock()
		return clone3.Outcome{}, err
	}
	pid := k.nextPid
	k.nextPid++
	c := newProc(k, pid)
	for fd, f := range p.fds {
		nf := *f
		if nf.ep != nil {
			nf.ep.refs++
		}
		c.fds[fd] = &nf
	}
	k.procs[pid] = c
	k.addProcFiles(pid)
	k.mu.Unlock()

	go func() {
		defer c.terminate(syscall.WaitStatus(0xff << 8))
		fn(c)
	}()
	return clone3.Outcome{Kind: clone3.KindParent, Pid: pid, Tid: pid}, 0
}

// terminate marks the process exited with ws unless it already exited
func (p *Proc) terminate(ws syscall.WaitStatus) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if p.done {
		return
	}
	if p.kill != 0 {
		ws = syscall.WaitStatus(p.kill)
	}
	for fd := range p.fds {
		p.closeLocked(fd)
	}
	p.status = ws
	p.done = true
	close(p.exited)
}

func (p *Proc) closeLocked(fd int) syscall.Errno {
	f, ok := p.fds[fd]
	if !ok {
		return syscall.EBADF
	}
	delete(p.fds, fd)
	if f.ep != nil {
		f.ep.refs--
		if f.ep.refs == 0 {
			close(f.ep.closed)
		}
	}
	return 0
}

func (p *Proc) allocFd(f *file) int {
	fd := p.k.nextFd
	p.k.nextFd++
	p.fds[fd] = f
	return fd
}

// Socketpair simulates a connected stream socket pair
func (p *Proc) Socketpair(domain, typ, proto int) (fds [2]int, err error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if errno := p.k.record(p.pid, "socketpair", strconv.Itoa(domain), strconv.Itoa(typ)); errno != 0 {
		return fds, errno
	}
	a, b := newSocketPair()
	a.refs, b.refs = 1, 1
	cloexec := typ&unix.SOCK_CLOEXEC != 0
	fds[0] = p.allocFd(&file{ep: a, cloexec: cloexec})
	fds[1] = p.allocFd(&file{ep: b, cloexec: cloexec})
	return fds, nil
}

// SetsockoptTimeval supports SO_RCVTIMEO
func (p *Proc) SetsockoptTimeval(fd, level, opt int, tv *unix.Timeval) error {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	d := time.Duration(tv.Nano())
	if errno := p.k.record(p.pid, "setsockopt", strconv.Itoa(fd), d.String()); errno != 0 {
		return errno
	}
	f, ok := p.fds[fd]
	if !ok || f.ep == nil {
		return syscall.EBADF
	}
	if level != unix.SOL_SOCKET || opt != unix.SO_RCVTIMEO {
		return syscall.ENOPROTOOPT
	}
	f.ep.timeout = d
	return nil
}

// SetRecvTimeout changes SO_RCVTIMEO of a socket
func (p *Proc) SetRecvTimeout(fd int, nsec int64) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	d := time.Duration(nsec)
	if errno := p.k.record(p.pid, "setsockopt", strconv.Itoa(fd), d.String()); errno != 0 {
		return errno
	}
	f, ok := p.fds[fd]
	if !ok || f.ep == nil {
		return syscall.EBADF
	}
	f.ep.timeout = d
	return 0
}

// Read reads from a socket. A closed peer gives 0 bytes and an expired
// receive timeout gives EAGAIN.
func (p *Proc) Read(fd int, b []byte) (int, syscall.Errno) {
	p.k.mu.Lock()
	errno := p.k.record(p.pid, "read", strconv.Itoa(fd))
	f, ok := p.fds[fd]
	var d time.Duration
	if ok && f.ep != nil {
		d = f.ep.timeout
	}
	p.k.mu.Unlock()
	if errno != 0 {
		return 0, errno
	}
	if !ok || f.ep == nil {
		return 0, syscall.EBADF
	}
	if len(b) == 0 {
		return 0, 0
	}

	var timeout <-chan time.Time
	if d > 0 {
		timeout = time.After(d)
	}
	select {
	case c := <-f.ep.in:
		b[0] = c
		return 1, 0
	case <-f.ep.peer.closed:
		select {
		case c := <-f.ep.in:
			b[0] = c
			return 1, 0
		default:
			return 0, 0
		}
	case <-timeout:
		return 0, syscall.EAGAIN
	case <-p.killed:
		p.terminate(0)
		runtime.Goexit()
		return 0, syscall.EINTR
	}
}

// Write writes to a socket, to a procfs file or to stdout and stderr
func (p *Proc) Write(fd int, b []byte) (int, syscall.Errno) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if errno := p.k.record(p.pid, "write", strconv.Itoa(fd), strconv.Quote(string(b))); errno != 0 {
		return 0, errno
	}
	if fd == 1 || fd == 2 {
		p.stderr = append(p.stderr, b...)
		return len(b), 0
	}
	f, ok := p.fds[fd]
	if !ok {
		return 0, syscall.EBADF
	}
	switch {
	case f.ep != nil:
		if f.ep.peer.refs == 0 {
			return 0, syscall.EPIPE
		}
		for i, c := range b {
			select {
			case f.ep.peer.in <- c:
			default:
				if i == 0 {
					return 0, syscall.EAGAIN
				}
				return i, 0
			}
		}
		return len(b), 0

	case f.proc != nil:
		pf := f.proc
		if pf.writeOnce && pf.written {
			return 0, syscall.EPERM
		}
		if pf.gidMap != "" {
			if g, ok := p.k.files[pf.gidMap]; ok && g.written {
				return 0, syscall.EPERM
			}
		}
		pf.content = append(pf.content[:0], b...)
		pf.written = true
		return len(b), 0
	}
	return 0, syscall.EBADF
}

// Open opens a simulated procfs file
func (p *Proc) Open(path *byte, flags int, mode uint32) (int, syscall.Errno) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	name := unix.BytePtrToString(path)
	if errno := p.k.record(p.pid, "open", name); errno != 0 {
		return -1, errno
	}
	pf, ok := p.k.files[name]
	if !ok {
		return -1, syscall.ENOENT
	}
	return p.allocFd(&file{proc: pf, path: name, cloexec: flags&unix.O_CLOEXEC != 0}), 0
}

// Close closes a descriptor
func (p *Proc) Close(fd int) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if errno := p.k.record(p.pid, "close", strconv.Itoa(fd)); errno != 0 {
		return errno
	}
	return p.closeLocked(fd)
}

// CloseRange closes or marks close-on-exec every descriptor in range
func (p *Proc) CloseRange(first, last uint, flags uint) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if errno := p.k.record(p.pid, "close_range", strconv.FormatUint(uint64(first), 10),
		strconv.FormatUint(uint64(last), 10), fmt.Sprintf("%#x", flags)); errno != 0 {
		return errno
	}
	for fd, f := range p.fds {
		if uint(fd) < first || uint(fd) > last {
			continue
		}
		if flags&unix.CLOSE_RANGE_CLOEXEC != 0 {
			f.cloexec = true
		} else {
			p.closeLocked(fd)
		}
	}
	return 0
}

func str(b *byte) string {
	if b == nil {
		return ""
	}
	return unix.BytePtrToString(b)
}

// Mount records mount(2)
func (p *Proc) Mount(source, target, fsType *byte, flags uintptr, data *byte) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "mount", str(source), str(target), str(fsType), fmt.Sprintf("%#x", flags))
}

// Mkdir records mkdir(2)
func (p *Proc) Mkdir(path *byte, mode uint32) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "mkdir", str(path), fmt.Sprintf("%#o", mode))
}

// PivotRoot records pivot_root(2)
func (p *Proc) PivotRoot(newRoot, putOld *byte) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "pivot_root", str(newRoot), str(putOld))
}

// Unmount records umount2(2)
func (p *Proc) Unmount(target *byte, flags int) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "umount2", str(target), fmt.Sprintf("%#x", flags))
}

// Rmdir records rmdir(2)
func (p *Proc) Rmdir(path *byte) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "rmdir", str(path))
}

// Chdir records chdir(2)
func (p *Proc) Chdir(path *byte) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "chdir", str(path))
}

// Sethostname records sethostname(2)
func (p *Proc) Sethostname(name []byte) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "sethostname", string(name))
}

// Setrlimit records prlimit64(2) on the calling process
func (p *Proc) Setrlimit(resource int, rlim *syscall.Rlimit) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "prlimit64", strconv.Itoa(resource),
		strconv.FormatUint(rlim.Cur, 10), strconv.FormatUint(rlim.Max, 10))
}

// SetNoNewPrivs records prctl(PR_SET_NO_NEW_PRIVS)
func (p *Proc) SetNoNewPrivs() syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "no_new_privs")
}

// LoadSeccomp records seccomp(SECCOMP_SET_MODE_FILTER)
func (p *Proc) LoadSeccomp(prog *unix.SockFprog) syscall.Errno {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.record(p.pid, "seccomp", strconv.Itoa(int(prog.Len)))
}

// Exec records execve(2). Without ExecErr it never returns.
func (p *Proc) Exec(path *byte, argv, envv []*byte) syscall.Errno {
	args := []string{str(path)}
	for _, a := range argv {
		if a == nil {
			break
		}
		args = append(args, str(a))
	}
	p.k.mu.Lock()
	errno := p.k.record(p.pid, "execve", args...)
	if errno == 0 {
		errno = p.k.ExecErr
	}
	code := p.k.ExitCode
	if errno == 0 {
		for fd, f := range p.fds {
			if f.cloexec {
				p.closeLocked(fd)
			}
		}
	}
	p.k.mu.Unlock()
	if errno != 0 {
		return errno
	}
	p.terminate(syscall.WaitStatus(code << 8))
	runtime.Goexit()
	return 0
}

// Exit records exit_group(2) and never returns
func (p *Proc) Exit(code int) {
	p.k.mu.Lock()
	p.k.record(p.pid, "exit_group", strconv.Itoa(code))
	p.k.mu.Unlock()
	p.terminate(syscall.WaitStatus(code << 8))
	runtime.Goexit()
}

// Wait4 blocks until the child pid exited
func (p *Proc) Wait4(pid int, status *syscall.WaitStatus) (int, error) {
	p.k.mu.Lock()
	errno := p.k.record(p.pid, "wait4", strconv.Itoa(pid))
	c, ok := p.k.procs[pid]
	p.k.mu.Unlock()
	if errno != 0 {
		return -1, errno
	}
	if !ok || pid == p.pid {
		return -1, syscall.ECHILD
	}
	<-c.exited
	p.k.mu.Lock()
	*status = c.status
	p.k.mu.Unlock()
	return pid, nil
}

// Kill records kill(2). SIGKILL terminates a child blocked in Read.
func (p *Proc) Kill(pid int, sig syscall.Signal) error {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if errno := p.k.record(p.pid, "kill", strconv.Itoa(pid), sig.String()); errno != 0 {
		return errno
	}
	c, ok := p.k.procs[pid]
	if !ok {
		return syscall.ESRCH
	}
	if sig == syscall.SIGKILL && c.kill == 0 && !c.done {
		c.kill = sig
		close(c.killed)
	}
	return nil
}
