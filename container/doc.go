// Package container spawns a single process in new Linux namespaces.
//
// # Overview
//
// A Spawner clones the calling process with clone3 and drives both sides of
// the clone through a one byte handshake over a unix socket pair:
//
//	parent                              child
//	------                              -----
//	clone3 ---------------------------> close parent endpoint
//	close child endpoint                close_range(3, ~0, CLOEXEC)
//	write uid_map / gid_map             read handshake (bounded)
//	run Setup(pid)                            |
//	write handshake byte -------------------> |
//	close parent endpoint               pivot into Root
//	wait4                               hostname, workdir, rlimits, seccomp
//	                                    execve
//
// Everything the parent has to do from outside the new namespaces happens
// before the handshake byte is written, so the child never observes a half
// configured environment.
//
// # Child restrictions
//
// Between clone3 and execve the child runs on a copy of the parent memory
// with the Go runtime in an undefined state. Code on that path does not
// allocate, lock or grow the stack: all arguments are prepared by the
// parent and every function reached is marked go:nosplit. A failure in the
// child is written to fd 2 as
//
//	curium: <location>: errno <n>
//
// and the child exits with ExitCodeSetupFailed. The errno suffix is left
// out when the failure has none, as when the parent closes its endpoint
// without releasing the child.
package container
