package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// MemoryProbe reports resident memory in bytes for a browser process tree.
type MemoryProbe func(pid int) (uint64, error)

// ProcMemoryProbe sums the resident set size of pid and all of its
// descendants from /proc. Chrome spreads a session over many renderer
// processes, so the root alone underreports badly.
func ProcMemoryProbe(pid int) (uint64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("browser: no process id")
	}

	children := make(map[int][]int)
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("browser: read /proc: %w", err)
	}
	for _, e := range entries {
		child, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if parent, ok := readPPID(child); ok {
			children[parent] = append(children[parent], child)
		}
	}

	var total uint64
	pageSize := uint64(os.Getpagesize())
	stack := []int{pid}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if pages, ok := readResidentPages(cur); ok {
			total += pages * pageSize
		}
		stack = append(stack, children[cur]...)
	}
	if total == 0 {
		return 0, fmt.Errorf("browser: process %d not found", pid)
	}
	return total, nil
}

// RuntimeMemoryProbe falls back to the Go runtime's own footprint when the
// browser process cannot be inspected.
func RuntimeMemoryProbe(int) (uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, nil
}

// DefaultMemoryProbe tries /proc first and falls back to runtime stats.
func DefaultMemoryProbe(pid int) (uint64, error) {
	if v, err := ProcMemoryProbe(pid); err == nil {
		return v, nil
	}
	return RuntimeMemoryProbe(pid)
}

func readPPID(pid int) (int, bool) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, false
	}
	// The command name may contain spaces; fields resume after the last ')'.
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(s[idx+1:])
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	return ppid, err == nil
}

func readResidentPages(pid int) (uint64, bool) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "statm"))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	return pages, err == nil
}
