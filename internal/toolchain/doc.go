// Package toolchain runs the external Android build against the project tree.
//
// The Toolchain interface is the seam the build executor depends on; the
// CommandToolchain implementation shells out to the configured build script,
// converts Gradle task lines into progress updates and keeps the tail of the
// combined output for diagnostics.
package toolchain
