// Package request defines the BuildRequest accepted by the build coordinator
// and the validation every request passes before it may enter the queue.
//
// A request carries the branding of the app (id, display name, icon), the
// source-variable overrides injected into the Android sources, and the
// content source the web site is taken from. The content collaborator
// attaches a Site once the content has been materialized.
package request
