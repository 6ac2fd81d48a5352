package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// Step identifies a stage of the root switch
type Step int

// Steps in execution order
const (
	StepDone Step = iota
	StepPropagation
	StepBindRoot
	StepProc
	StepSys
	StepMkdirOldRoot
	StepPivotRoot
	StepUnmountOldRoot
	StepRmdirOldRoot
	StepChdir
)

var stepToString = []string{
	"done",
	"mount(private)",
	"mount(bind root)",
	"mount(proc)",
	"mount(sysfs)",
	"mkdir(old_root)",
	"pivot_root",
	"umount(old_root)",
	"rmdir(old_root)",
	"chdir(/)",
}

// Name returns the name of a known step or "unknown".
//
//go:nosplit
func (s Step) Name() string {
	if s >= 0 && int(s) < len(stepToString) {
		return stepToString[s]
	}
	return "unknown"
}

func (s Step) String() string {
	if s >= 0 && int(s) < len(stepToString) {
		return stepToString[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

const oldRoot = "old_root"

// Rootfs is the prepared sequence that moves a process into root.
// The root directory must contain proc and sys.
type Rootfs struct {
	root string

	private Propagation
	bind    Bind
	proc    Create
	sys     Create

	newRoot    *byte // root
	putOld     *byte // root/old_root
	oldAbs     *byte // /old_root after the pivot
	slash      *byte
	oldDirMode uint32
}

// NewRootfs prepares the root switch into root.
func NewRootfs(root string) (*Rootfs, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("mount: root %q is not absolute", root)
	}
	root = filepath.Clean(root)

	var (
		r   = &Rootfs{root: root, oldDirMode: 0700}
		err error
	)
	if r.private, err = At("/").SetPropagation(Private); err != nil {
		return nil, err
	}
	r.private = r.private.Recursive()
	if r.bind, err = At(root).Bind(root); err != nil {
		return nil, err
	}
	if r.proc, err = At(filepath.Join(root, "proc")).NoDev().NoSuid().NoExec().Create("proc", "proc"); err != nil {
		return nil, err
	}
	if r.sys, err = At(filepath.Join(root, "sys")).ReadOnly().NoDev().NoSuid().NoExec().Create("sysfs", "sys"); err != nil {
		return nil, err
	}
	if r.newRoot, err = syscall.BytePtrFromString(root); err != nil {
		return nil, err
	}
	if r.putOld, err = syscall.BytePtrFromString(filepath.Join(root, oldRoot)); err != nil {
		return nil, err
	}
	if r.oldAbs, err = syscall.BytePtrFromString("/" + oldRoot); err != nil {
		return nil, err
	}
	if r.slash, err = syscall.BytePtrFromString("/"); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the new root directory
func (r *Rootfs) Root() string {
	return r.root
}

// MkdirAll creates the proc and sys mount points inside root. It runs in
// the parent before the clone.
func (r *Rootfs) MkdirAll() error {
	for _, d := range []string{"proc", "sys"} {
		if err := os.MkdirAll(filepath.Join(r.root, d), 0755); err != nil {
			return err
		}
	}
	return nil
}

// Setup runs the root switch through sys and stops at the first failure,
// returning the failed step and its errno. On success it returns StepDone.
//
// The propagation change must come first so none of the later mounts or
// the final detach leak to the parent namespace. The bind mount makes root
// a mount point, which pivot_root requires. The pivot comes last because it
// discards the old root that every earlier path is relative to.
//
//go:nosplit
//go:norace
func (r *Rootfs) Setup(sys Syscaller) (Step, syscall.Errno) {
	if err := r.private.Mount(sys); err != 0 {
		return StepPropagation, err
	}
	if err := r.bind.Mount(sys); err != 0 {
		return StepBindRoot, err
	}
	if err := r.proc.Mount(sys); err != 0 {
		return StepProc, err
	}
	if err := r.sys.Mount(sys); err != 0 {
		return StepSys, err
	}
	if err := sys.Mkdir(r.putOld, r.oldDirMode); err != 0 && err != syscall.EEXIST {
		return StepMkdirOldRoot, err
	}
	if err := sys.PivotRoot(r.newRoot, r.putOld); err != 0 {
		return StepPivotRoot, err
	}
	if err := sys.Unmount(r.oldAbs, unix.MNT_DETACH); err != 0 {
		return StepUnmountOldRoot, err
	}
	if err := sys.Rmdir(r.oldAbs); err != 0 {
		return StepRmdirOldRoot, err
	}
	if err := sys.Chdir(r.slash); err != 0 {
		return StepChdir, err
	}
	return StepDone, 0
}

func (r *Rootfs) String() string {
	return fmt.Sprintf("rootfs[%s: %v, %v, %v, %v]", r.root, r.private, r.bind, r.proc, r.sys)
}
