// Package trust decides whether a workspace folder is trusted.
//
// Trust is layered: an explicit level stored for the folder itself, trust inherited
// from an ancestor folder, and finally an override supplied by a connected IDE. The
// result is read once at process start, so changing it requires a relaunch; Update
// reports when that is the case.
package trust
