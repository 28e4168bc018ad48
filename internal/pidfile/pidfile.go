package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	trackingFilePath = "/tmp/.p2p-file-demo"
	processName      = "p2p-file-demo"
)

// trackingFile is the JSON structure of the process tracking file.
type trackingFile struct {
	PIDs []int32 `json:"pids"`
}

var mu sync.Mutex

// withTrackedPIDs opens and flock-guards the tracking file, reads the PID
// list, drops entries whose process is gone or belongs to another binary,
// and hands the verified list to fn.
func withTrackedPIDs(flags int, fn func(*os.File, []int32) error) error {
	if err := os.MkdirAll(filepath.Dir(trackingFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(trackingFilePath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return err
	}
	defer unlockFile(file)

	var pids []int32
	stat, err := file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() > 0 {
		var tf trackingFile
		if err := json.NewDecoder(file).Decode(&tf); err == nil {
			pids = tf.PIDs
		}
	}

	valid := make([]int32, 0, len(pids))
	for _, pid := range pids {
		if isOwnProcess(pid) {
			valid = append(valid, pid)
		}
	}
	// Stale entries get scrubbed on every access
	if len(valid) != len(pids) {
		if err := writeTrackingFile(file, valid); err != nil {
			return err
		}
		if _, err := file.Seek(0, 0); err != nil {
			return err
		}
	}

	return fn(file, valid)
}

// isOwnProcess checks whether pid is a running instance of this binary.
func isOwnProcess(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}
	name, err := proc.Name()
	if err != nil {
		return false
	}
	return strings.Contains(name, processName)
}

func writeTrackingFile(file *os.File, pids []int32) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&trackingFile{PIDs: pids})
}

// Register adds the current process to the tracking file.
func Register() error {
	mu.Lock()
	defer mu.Unlock()

	currentPID := int32(os.Getpid())

	return withTrackedPIDs(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		for _, pid := range pids {
			if pid == currentPID {
				return nil
			}
		}
		return writeTrackingFile(file, append(pids, currentPID))
	})
}

// Unregister removes the current process from the tracking file.
func Unregister() error {
	mu.Lock()
	defer mu.Unlock()

	currentPID := int32(os.Getpid())

	return withTrackedPIDs(os.O_RDWR, func(file *os.File, pids []int32) error {
		filtered := make([]int32, 0, len(pids))
		for _, pid := range pids {
			if pid != currentPID {
				filtered = append(filtered, pid)
			}
		}
		return writeTrackingFile(file, filtered)
	})
}

// List returns all verified running instances of this binary.
func List() ([]int32, error) {
	mu.Lock()
	defer mu.Unlock()

	var result []int32
	err := withTrackedPIDs(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		result = pids
		return nil
	})
	return result, err
}

// Kill terminates one tracked process: SIGTERM first, wait up to 5s, then
// SIGKILL.
func Kill(pid int32) error {
	mu.Lock()
	defer mu.Unlock()

	if !isOwnProcess(pid) {
		return fmt.Errorf("PID %d is not a running %s process", pid, processName)
	}

	proc, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to get process: %w", err)
	}

	if err := proc.Terminate(); err != nil {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to kill process: %w", err)
		}
	} else {
		for i := 0; i < 50; i++ {
			running, err := proc.IsRunning()
			if err != nil || !running {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		running, err := proc.IsRunning()
		if err == nil && running {
			if err := proc.Kill(); err != nil {
				return fmt.Errorf("failed to force kill process: %w", err)
			}
		}
	}

	// Best-effort removal from the tracking file
	withTrackedPIDs(os.O_RDWR, func(file *os.File, pids []int32) error {
		filtered := make([]int32, 0, len(pids))
		for _, p := range pids {
			if p != pid {
				filtered = append(filtered, p)
			}
		}
		return writeTrackingFile(file, filtered)
	})

	return nil
}

// KillAll terminates every tracked process, SIGTERM then SIGKILL after 5s.
// Returns the number of processes that were tracked.
func KillAll() (int, error) {
	mu.Lock()
	defer mu.Unlock()

	var toKill []int32
	err := withTrackedPIDs(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		toKill = pids
		return writeTrackingFile(file, []int32{})
	})
	if err != nil {
		return 0, err
	}

	procs := make(map[int32]*process.Process)
	for _, pid := range toKill {
		proc, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Terminate(); err == nil {
			procs[pid] = proc
		}
	}

	for i := 0; i < 50; i++ {
		allExited := true
		for pid, proc := range procs {
			running, err := proc.IsRunning()
			if err != nil || !running {
				delete(procs, pid)
			} else {
				allExited = false
			}
		}
		if allExited {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, proc := range procs {
		proc.Kill()
	}

	return len(toKill), nil
}

// GetProcessInfo returns the command line of a tracked process.
func GetProcessInfo(pid int32) (int32, string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, "", err
	}
	cmdline, err := proc.Cmdline()
	if err != nil {
		return pid, "", nil
	}
	return pid, cmdline, nil
}
