//go:build !linux && !darwin

package main

func isTerminal(fd uintptr) bool { return false }
