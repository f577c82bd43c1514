// Package filelock implements the cross-process lock that guards a store
// document.
//
// A lock is a sentinel file created next to the target with O_CREATE|O_EXCL.
// Its JSON body names the owner:
//
//	{"ownerProcessId": 4242, "hostname": "build-1", "acquiredAt": "..."}
//
// A sentinel is stale when its owner is a dead process on this host or when
// it is older than the stale threshold. Stale sentinels are removed and
// acquisition retried at once; live ones are waited on with jittered
// exponential backoff until the timeout or the context expires.
//
// # Usage
//
//	lock, err := filelock.Acquire(ctx, "/data/tasks.json",
//	    filelock.WithTimeout(5*time.Second),
//	    filelock.WithLogger(logger),
//	)
//	if err != nil {
//	    return err // *errors.LockError wrapping errors.ErrLockTimeout on contention
//	}
//	defer lock.Release()
//
// Locks are advisory; every writer of the target must go through Acquire.
package filelock
