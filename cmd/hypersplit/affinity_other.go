//go:build !linux

package main

import (
	"github.com/pkg/errors"
)

func setCPUAffinity(cpu int) error {
	return errors.Errorf("cpu affinity is not supported on this platform (cpu %d)", cpu)
}
