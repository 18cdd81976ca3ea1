// Package testutil provides fixtures shared by package tests: an Android
// project skeleton, icon images, git repositories, a scripted toolchain and
// fluent file assertions.
package testutil
