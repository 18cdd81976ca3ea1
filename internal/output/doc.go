// Package output manages the artifact output store.
//
// Every successful build publishes into a per-app directory:
//
//	<output_dir>/<appId>/<appId>.apk
//	<output_dir>/<appId>/icon.png
//	<output_dir>/<appId>/webapk.conf
//
// The APK is written through a temporary file and renamed into place, so a
// reader never observes a partial artifact. An optional Mirror (S3) receives
// a copy of each published file; mirror failures are logged, not returned.
package output
