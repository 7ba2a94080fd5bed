package clustersup

import (
	"fmt"
	"net"
	"os"
)

// workerEnvVar marks a re-exec'd child as a cluster worker; its value is
// the worker's zero-based index, useful only for logging.
const workerEnvVar = "TILECACHE_CLUSTER_WORKER"

// listenerFD is the file descriptor a worker finds its inherited listener
// on. os/exec.Cmd.ExtraFiles starts at fd 3 (0/1/2 are stdin/stdout/stderr).
const listenerFD = 3

// IsWorker reports whether the current process was re-exec'd by a
// Supervisor as a cluster worker.
func IsWorker() bool {
	_, ok := os.LookupEnv(workerEnvVar)
	return ok
}

// WorkerIndex returns this worker's zero-based index, or -1 if this
// process isn't a cluster worker.
func WorkerIndex() int {
	v, ok := os.LookupEnv(workerEnvVar)
	if !ok {
		return -1
	}
	var idx int
	if _, err := fmt.Sscanf(v, "%d", &idx); err != nil {
		return -1
	}
	return idx
}

// InheritedListener wraps the net.Listener the supervisor bound and
// passed down via ExtraFiles, letting every worker share one listening
// socket without a SO_REUSEPORT dependency.
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(uintptr(listenerFD), "cluster-listener")
	if f == nil {
		return nil, fmt.Errorf("clustersup: no inherited listener fd")
	}
	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("clustersup: wrap inherited listener: %w", err)
	}
	_ = f.Close() // net.FileListener dup'd the fd; the File wrapper is no longer needed
	return l, nil
}
