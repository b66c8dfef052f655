// Package tools holds the built-in capabilities shipped with the host.
//
// Each tool implements capability.Tool and plugs hardware in through a
// small interface (FrameSource, FrameSink), so the registry and the
// dispatch path never touch device specifics directly.
package tools
