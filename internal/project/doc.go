// Package project models the shared Android project skeleton that every build
// patches in place.
//
// All mutations are expressed as typed operations (RenamePackage,
// RewriteReferences, SetResourceString, ReplaceFile, SetDeclaredConstant,
// SyncDirectory, RemoveFile) and go through Tree.Apply. Nothing else in the
// module writes below the project root, which keeps the single-writer
// discipline of the build coordinator checkable in one place.
//
// The fully qualified package id is <namespace>.<appId>.<suffix>; its source
// directory lives at <java_root>/<namespace>/<appId>/<suffix>.
package project
