//go:build linux

package main

import (
	"golang.org/x/sys/unix"
)

// setCPUAffinity 设置 CPU 亲和性
func setCPUAffinity(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
