// Package patchaux runs glpatch patches as a live visuals application: channels
// render patch files, a mixer crossfades two of them onto the window and an
// optional projector streams the mixer output to browsers.
//
// Patch files are reloaded when they change on disk. See [Config] for the
// configuration file format.
package patchaux
