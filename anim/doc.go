// Package anim implements frame-stepped value animations on top of an
// eventloop.Loop, interpolated using github.com/tanema/gween.
//
// An Animation runs once per Start, calling its completion callback after
// the final frame. Deleting an animation (or restarting it) before it
// finishes suppresses the callback for that run.
package anim
